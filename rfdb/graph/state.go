package graph

import (
	"github.com/Disentinel/rfdb/rfdb/storage"
)

type nodeKey struct {
	id      storage.NodeID
	version string
}

type edgeKey struct {
	src     storage.NodeID
	dst     storage.NodeID
	etype   string
	version string
}

// segmentView indexes the rows of the open generation without copying them:
// records stay in the mapped segments and are materialized per access. Only
// the row positions live in heap.
type segmentView struct {
	nodes *storage.NodesSegment
	edges *storage.EdgesSegment

	nodeRows map[nodeKey]int
	outRows  map[storage.NodeID][]int
	inRows   map[storage.NodeID][]int
}

func newSegmentView(nodes *storage.NodesSegment, edges *storage.EdgesSegment) *segmentView {
	v := &segmentView{
		nodes:    nodes,
		edges:    edges,
		nodeRows: make(map[nodeKey]int, nodes.Count()),
		outRows:  make(map[storage.NodeID][]int),
		inRows:   make(map[storage.NodeID][]int),
	}
	for i := 0; i < nodes.Count(); i++ {
		v.nodeRows[nodeKey{nodes.ID(i), nodes.Version(i)}] = i
	}
	for i := 0; i < edges.Count(); i++ {
		src, dst := edges.Src(i), edges.Dst(i)
		v.outRows[src] = append(v.outRows[src], i)
		v.inRows[dst] = append(v.inRows[dst], i)
	}
	return v
}

func (v *segmentView) edgeKeyAt(i int) edgeKey {
	return edgeKey{v.edges.Src(i), v.edges.Dst(i), v.edges.Type(i), v.edges.Version(i)}
}

// graphState is the engine's read model: the delta layer (every mutation
// since the last compaction, last entry per identity winning) overlaying the
// sealed segment view. A lookup misses the delta layer and falls through to
// the segment rows; segment records are never copied wholesale into heap.
//
// Not safe for concurrent use; the engine guards it with its own locks.
type graphState struct {
	// delta layer
	nodes map[nodeKey]storage.NodeRecord
	edges map[edgeKey]storage.EdgeRecord
	out   map[storage.NodeID][]edgeKey
	in    map[storage.NodeID][]edgeKey

	// overlay version -> mainline IDs hidden by Replaces references, across
	// both layers
	shadows map[string]map[storage.NodeID]struct{}

	// overlays dropped since the last compaction; their segment rows are
	// hidden until the next compaction rewrites the segments
	dropped map[string]struct{}

	// segment node rows hidden individually (version moves)
	suppressed map[nodeKey]struct{}

	seg *segmentView
}

func newGraphState() *graphState {
	return &graphState{
		nodes:      make(map[nodeKey]storage.NodeRecord),
		edges:      make(map[edgeKey]storage.EdgeRecord),
		out:        make(map[storage.NodeID][]edgeKey),
		in:         make(map[storage.NodeID][]edgeKey),
		shadows:    make(map[string]map[storage.NodeID]struct{}),
		dropped:    make(map[string]struct{}),
		suppressed: make(map[nodeKey]struct{}),
	}
}

// attachSegments installs the segment view and derives the shadow set from
// its overlay rows.
func (s *graphState) attachSegments(v *segmentView) {
	s.seg = v
	for key, row := range v.nodeRows {
		if key.version == storage.Mainline {
			continue
		}
		if replaces := v.nodes.Replaces(row); !replaces.IsZero() {
			s.shadow(key.version, replaces)
		}
	}
}

func (s *graphState) apply(e storage.DeltaEntry) {
	switch e.Op {
	case storage.OpAddNode:
		s.putNode(e.Node)
	case storage.OpDeleteNode:
		s.tombstoneNode(e.Node.ID, versionOr(e.Node.Version))
	case storage.OpAddEdge:
		s.putEdge(e.Edge)
	case storage.OpDeleteEdge:
		s.tombstoneEdge(e.Edge)
	case storage.OpUpdateNodeVersion:
		s.moveNodeVersion(e.Node.ID, e.NewVersion)
	case storage.OpDeleteVersion:
		s.dropVersion(e.NewVersion)
	}
}

// lookup returns the record for key, delta layer first, segment fallback.
// Tombstones are returned as-is; resolve interprets them.
func (s *graphState) lookup(key nodeKey) (storage.NodeRecord, bool) {
	if rec, ok := s.nodes[key]; ok {
		return rec, true
	}
	return s.segmentNode(key)
}

func (s *graphState) segmentNode(key nodeKey) (storage.NodeRecord, bool) {
	if s.seg == nil {
		return storage.NodeRecord{}, false
	}
	if _, gone := s.dropped[key.version]; gone {
		return storage.NodeRecord{}, false
	}
	if _, hidden := s.suppressed[key]; hidden {
		return storage.NodeRecord{}, false
	}
	row, ok := s.seg.nodeRows[key]
	if !ok {
		return storage.NodeRecord{}, false
	}
	return s.seg.nodes.Record(row), true
}

func (s *graphState) putNode(rec storage.NodeRecord) {
	rec.Version = versionOr(rec.Version)
	key := nodeKey{rec.ID, rec.Version}
	if old, ok := s.lookup(key); ok && !old.Replaces.IsZero() && old.Replaces != rec.Replaces {
		s.unshadow(old.Version, old.Replaces)
	}
	s.nodes[key] = rec
	if !rec.Replaces.IsZero() {
		s.shadow(rec.Version, rec.Replaces)
	}
}

func (s *graphState) tombstoneNode(id storage.NodeID, version string) {
	key := nodeKey{id, version}
	if old, ok := s.lookup(key); ok && !old.Replaces.IsZero() {
		s.unshadow(old.Version, old.Replaces)
	}
	s.nodes[key] = storage.NodeRecord{ID: id, Version: version, Deleted: true}
}

func (s *graphState) putEdge(rec storage.EdgeRecord) {
	rec.Version = versionOr(rec.Version)
	key := edgeKey{rec.Src, rec.Dst, rec.Type, rec.Version}
	if _, seen := s.edges[key]; !seen {
		s.out[rec.Src] = append(s.out[rec.Src], key)
		s.in[rec.Dst] = append(s.in[rec.Dst], key)
	}
	s.edges[key] = rec
}

func (s *graphState) tombstoneEdge(rec storage.EdgeRecord) {
	rec.Deleted = true
	s.putEdge(rec)
}

// moveNodeVersion reassigns the node's record to another version, preferring
// the mainline record when the ID exists in several versions.
func (s *graphState) moveNodeVersion(id storage.NodeID, newVersion string) {
	newVersion = versionOr(newVersion)
	from, ok := s.findNode(id)
	if !ok || from.version == newVersion {
		return
	}
	rec, _ := s.lookup(from)
	if _, inDelta := s.nodes[from]; inDelta {
		delete(s.nodes, from)
	} else {
		s.suppressed[from] = struct{}{}
	}
	if !rec.Replaces.IsZero() {
		s.unshadow(rec.Version, rec.Replaces)
	}
	rec.Version = newVersion
	s.putNode(rec)
}

func (s *graphState) findNode(id storage.NodeID) (nodeKey, bool) {
	main := nodeKey{id, storage.Mainline}
	if _, ok := s.lookup(main); ok {
		return main, true
	}
	for key := range s.nodes {
		if key.id == id {
			return key, true
		}
	}
	if s.seg != nil {
		for key := range s.seg.nodeRows {
			if key.id == id {
				if _, ok := s.segmentNode(key); ok {
					return key, true
				}
			}
		}
	}
	return nodeKey{}, false
}

func (s *graphState) dropVersion(version string) {
	if version == storage.Mainline {
		return
	}
	for key := range s.nodes {
		if key.version == version {
			delete(s.nodes, key)
		}
	}
	for key := range s.edges {
		if key.version == version {
			delete(s.edges, key)
			s.out[key.src] = removeKey(s.out[key.src], key)
			s.in[key.dst] = removeKey(s.in[key.dst], key)
		}
	}
	s.dropped[version] = struct{}{}
	delete(s.shadows, version)
}

// resolve returns the record visible for id under version. Overlay records
// win over mainline; an overlay tombstone, or a shadow from another overlay
// record's Replaces reference, hides the mainline record.
func (s *graphState) resolve(id storage.NodeID, version string) (storage.NodeRecord, bool) {
	version = versionOr(version)
	if version != storage.Mainline {
		if rec, ok := s.lookup(nodeKey{id, version}); ok {
			if rec.Deleted {
				return storage.NodeRecord{}, false
			}
			return rec, true
		}
		if ids, ok := s.shadows[version]; ok {
			if _, hidden := ids[id]; hidden {
				return storage.NodeRecord{}, false
			}
		}
	}
	rec, ok := s.lookup(nodeKey{id, storage.Mainline})
	if !ok || rec.Deleted {
		return storage.NodeRecord{}, false
	}
	return rec, true
}

// forEachNode visits every record across both layers, delta entries shadowing
// the segment rows they override. Tombstones are included.
func (s *graphState) forEachNode(fn func(rec storage.NodeRecord)) {
	for _, rec := range s.nodes {
		fn(rec)
	}
	if s.seg == nil {
		return
	}
	for key := range s.seg.nodeRows {
		if _, overridden := s.nodes[key]; overridden {
			continue
		}
		if rec, ok := s.segmentNode(key); ok {
			fn(rec)
		}
	}
}

// forEachEdgeAt visits the edges adjacent to id (outgoing, or incoming when
// reverse is set), across both layers.
func (s *graphState) forEachEdgeAt(id storage.NodeID, reverse bool, fn func(rec storage.EdgeRecord)) {
	keys := s.out[id]
	if reverse {
		keys = s.in[id]
	}
	for _, key := range keys {
		fn(s.edges[key])
	}
	if s.seg == nil {
		return
	}
	rows := s.seg.outRows[id]
	if reverse {
		rows = s.seg.inRows[id]
	}
	for _, row := range rows {
		key := s.seg.edgeKeyAt(row)
		if _, overridden := s.edges[key]; overridden {
			continue
		}
		if _, gone := s.dropped[key.version]; gone {
			continue
		}
		fn(s.seg.edges.Record(row))
	}
}

// forEachEdge visits every edge across both layers. Tombstones are included.
func (s *graphState) forEachEdge(fn func(rec storage.EdgeRecord)) {
	for _, rec := range s.edges {
		fn(rec)
	}
	if s.seg == nil {
		return
	}
	for row := 0; row < s.seg.edges.Count(); row++ {
		key := s.seg.edgeKeyAt(row)
		if _, overridden := s.edges[key]; overridden {
			continue
		}
		if _, gone := s.dropped[key.version]; gone {
			continue
		}
		fn(s.seg.edges.Record(row))
	}
}

func (s *graphState) shadow(version string, id storage.NodeID) {
	ids, ok := s.shadows[version]
	if !ok {
		ids = make(map[storage.NodeID]struct{})
		s.shadows[version] = ids
	}
	ids[id] = struct{}{}
}

func (s *graphState) unshadow(version string, id storage.NodeID) {
	if ids, ok := s.shadows[version]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.shadows, version)
		}
	}
}

func versionOr(v string) string {
	if v == "" {
		return storage.Mainline
	}
	return v
}

func removeKey(keys []edgeKey, key edgeKey) []edgeKey {
	for i := range keys {
		if keys[i] == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
