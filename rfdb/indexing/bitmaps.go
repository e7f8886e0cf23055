package indexing

import (
	"strings"

	roaring "github.com/RoaringBitmap/roaring"
	radix "github.com/armon/go-radix"

	"github.com/Disentinel/rfdb/rfdb/storage"
)

// AttributeIndex maps node attribute values to bitmaps of LocalIDs. Kinds
// additionally live in a radix tree so trailing-asterisk queries such as
// "http:*" resolve by prefix walk instead of a full map scan.
//
// The index is advisory: it may over-approximate (contain IDs whose current
// record no longer matches) but never under-approximate. Callers re-verify
// hits against the resolved record.
type AttributeIndex struct {
	mapper *NodeIDMapper

	kind map[string]*roaring.Bitmap
	name map[string]*roaring.Bitmap
	file map[string]*roaring.Bitmap

	kindTree *radix.Tree
}

func NewAttributeIndex() *AttributeIndex {
	return &AttributeIndex{
		mapper:   NewNodeIDMapper(),
		kind:     make(map[string]*roaring.Bitmap),
		name:     make(map[string]*roaring.Bitmap),
		file:     make(map[string]*roaring.Bitmap),
		kindTree: radix.New(),
	}
}

func (ix *AttributeIndex) Mapper() *NodeIDMapper { return ix.mapper }

// Add indexes one node record. Records are added, never removed; deletions
// are filtered at verification time.
func (ix *AttributeIndex) Add(rec *storage.NodeRecord) {
	lid := uint32(ix.mapper.LocalFor(rec.ID))
	if rec.Kind != "" {
		ix.addTo(ix.kind, rec.Kind, lid)
		ix.kindTree.Insert(rec.Kind, ix.kind[rec.Kind])
	}
	if rec.Name != "" {
		ix.addTo(ix.name, rec.Name, lid)
	}
	if rec.File != "" {
		ix.addTo(ix.file, rec.File, lid)
	}
}

func (ix *AttributeIndex) addTo(m map[string]*roaring.Bitmap, key string, lid uint32) {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(lid)
}

// ByKind returns the candidate bitmap for a kind, honoring a trailing
// asterisk as a prefix wildcard. The returned bitmap is a copy.
func (ix *AttributeIndex) ByKind(kind string) *roaring.Bitmap {
	if prefix, ok := strings.CutSuffix(kind, "*"); ok {
		res := roaring.New()
		ix.kindTree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
			res.Or(v.(*roaring.Bitmap))
			return false
		})
		return res
	}
	return clone(ix.kind[kind])
}

// ByName returns the candidate bitmap for an exact name. The returned bitmap
// is a copy.
func (ix *AttributeIndex) ByName(name string) *roaring.Bitmap {
	return clone(ix.name[name])
}

// ByFile returns the candidate bitmap for an exact file path. The returned
// bitmap is a copy.
func (ix *AttributeIndex) ByFile(file string) *roaring.Bitmap {
	return clone(ix.file[file])
}

// Candidates intersects the bitmaps for every attribute the query pins.
// A nil return means the query pins no indexed attribute and the caller must
// fall back to a full scan.
func (ix *AttributeIndex) Candidates(q *storage.AttrQuery) *roaring.Bitmap {
	var res *roaring.Bitmap
	and := func(bm *roaring.Bitmap) {
		if res == nil {
			res = bm
			return
		}
		res.And(bm)
	}
	if q.Kind != "" {
		and(ix.ByKind(q.Kind))
	}
	if q.Name != "" {
		and(ix.ByName(q.Name))
	}
	if q.File != "" {
		and(ix.ByFile(q.File))
	}
	return res
}

// Kinds returns every distinct kind seen, for count aggregation.
func (ix *AttributeIndex) Kinds() []string {
	out := make([]string, 0, len(ix.kind))
	for k := range ix.kind {
		out = append(out, k)
	}
	return out
}

func clone(b *roaring.Bitmap) *roaring.Bitmap {
	if b == nil {
		return roaring.New()
	}
	return b.Clone()
}
