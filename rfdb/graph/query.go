package graph

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/Disentinel/rfdb/rfdb/indexing"
	"github.com/Disentinel/rfdb/rfdb/storage"
)

// GetNode resolves id under version (empty means mainline). The boolean is
// false for unknown, tombstoned, or overlay-shadowed records.
func (e *Engine) GetNode(id storage.NodeID, version string) (storage.NodeRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.resolve(id, version)
}

// FindByAttr returns the IDs of records visible under the query's version
// whose attributes match. Candidates come from the bitmap index when the
// query pins an indexed attribute; every candidate is re-verified against
// the resolved record, so stale index entries cannot leak. Results are
// sorted by ID for determinism.
func (e *Engine) FindByAttr(q storage.AttrQuery) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	version := versionOr(q.Version)
	var out []storage.NodeID
	check := func(id storage.NodeID) {
		rec, ok := e.state.resolve(id, version)
		if ok && matchAttrs(&q, &rec) {
			out = append(out, id)
		}
	}

	if bm := e.index.Candidates(&q); bm != nil {
		mapper := e.index.Mapper()
		it := bm.Iterator()
		for it.HasNext() {
			if id, ok := mapper.NodeFor(indexing.LocalID(it.Next())); ok {
				check(id)
			}
		}
	} else {
		seen := make(map[storage.NodeID]struct{})
		e.state.forEachNode(func(rec storage.NodeRecord) {
			if rec.Version != storage.Mainline && rec.Version != version {
				return
			}
			if _, dup := seen[rec.ID]; dup {
				return
			}
			seen[rec.ID] = struct{}{}
			check(rec.ID)
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func matchAttrs(q *storage.AttrQuery, rec *storage.NodeRecord) bool {
	if q.Kind != "" && !matchKind(q.Kind, rec.Kind) {
		return false
	}
	if q.Name != "" && rec.Name != q.Name {
		return false
	}
	if q.File != "" && rec.File != q.File {
		return false
	}
	if q.FileID != 0 && rec.FileID != q.FileID {
		return false
	}
	if q.Exported != nil && rec.Exported != *q.Exported {
		return false
	}
	return true
}

// matchKind honors a trailing asterisk as a prefix wildcard.
func matchKind(pattern, kind string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(kind, prefix)
	}
	return kind == pattern
}

// BFS explores the mainline graph breadth-first from seeds, following edges
// whose type is in etypes (empty = all), up to maxDepth hops. Seeds are
// never part of the result.
func (e *Engine) BFS(seeds []storage.NodeID, maxDepth int, etypes []string) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := walker{state: e.state, filter: newTypeFilter(etypes)}
	return w.bfs(seeds, maxDepth)
}

// DFS is BFS's depth-first sibling; results are in preorder.
func (e *Engine) DFS(seeds []storage.NodeID, maxDepth int, etypes []string) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := walker{state: e.state, filter: newTypeFilter(etypes)}
	return w.dfs(seeds, maxDepth)
}

// Reachability is bounded BFS in either direction; backward walks edges
// dst-to-src.
func (e *Engine) Reachability(seeds []storage.NodeID, maxDepth int, etypes []string, backward bool) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := walker{state: e.state, filter: newTypeFilter(etypes), backward: backward}
	return w.bfs(seeds, maxDepth)
}

// Neighbors returns the distinct far endpoints of live mainline out-edges at
// id, optionally filtered by edge type.
func (e *Engine) Neighbors(id storage.NodeID, etypes []string) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := walker{state: e.state, filter: newTypeFilter(etypes)}
	return dedupIDs(w.successors(id))
}

// ReverseNeighbors is Neighbors over incoming edges.
func (e *Engine) ReverseNeighbors(id storage.NodeID, etypes []string) []storage.NodeID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	w := walker{state: e.state, filter: newTypeFilter(etypes), backward: true}
	return dedupIDs(w.successors(id))
}

// OutgoingEdges returns the live mainline edges leaving id.
func (e *Engine) OutgoingEdges(id storage.NodeID) []storage.EdgeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectEdges(id, false)
}

// IncomingEdges returns the live mainline edges arriving at id.
func (e *Engine) IncomingEdges(id storage.NodeID) []storage.EdgeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collectEdges(id, true)
}

// AllEdges returns every live mainline edge. Order is unspecified.
func (e *Engine) AllEdges() []storage.EdgeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []storage.EdgeRecord
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Version == storage.Mainline && !rec.Deleted {
			out = append(out, rec)
		}
	})
	return out
}

func (e *Engine) collectEdges(id storage.NodeID, reverse bool) []storage.EdgeRecord {
	var out []storage.EdgeRecord
	e.state.forEachEdgeAt(id, reverse, func(rec storage.EdgeRecord) {
		if rec.Version == storage.Mainline && !rec.Deleted {
			out = append(out, rec)
		}
	})
	return out
}

// CountNodesByKind tallies live mainline nodes per kind. Pattern "" or "*"
// counts everything; a trailing asterisk counts a kind namespace.
func (e *Engine) CountNodesByKind(pattern string) map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[string]uint64)
	e.state.forEachNode(func(rec storage.NodeRecord) {
		if rec.Version != storage.Mainline || rec.Deleted {
			return
		}
		if pattern == "" || pattern == "*" || matchKind(pattern, rec.Kind) {
			counts[rec.Kind]++
		}
	})
	return counts
}

// CountEdgesByType tallies live mainline edges per type, with the same
// pattern rules as CountNodesByKind.
func (e *Engine) CountEdgesByType(pattern string) map[string]uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[string]uint64)
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Version != storage.Mainline || rec.Deleted {
			return
		}
		if pattern == "" || pattern == "*" || matchKind(pattern, rec.Type) {
			counts[rec.Type]++
		}
	})
	return counts
}

// NodeCount is the number of live mainline nodes.
func (e *Engine) NodeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	e.state.forEachNode(func(rec storage.NodeRecord) {
		if rec.Version == storage.Mainline && !rec.Deleted {
			n++
		}
	})
	return n
}

// EdgeCount is the number of live mainline edges.
func (e *Engine) EdgeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Version == storage.Mainline && !rec.Deleted {
			n++
		}
	})
	return n
}

// Versions lists the overlay versions present, sorted. Mainline is omitted.
func (e *Engine) Versions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := make(map[string]struct{})
	e.state.forEachNode(func(rec storage.NodeRecord) {
		if rec.Version != storage.Mainline {
			set[rec.Version] = struct{}{}
		}
	})
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Version != storage.Mainline {
			set[rec.Version] = struct{}{}
		}
	})
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// NodeIdentifier renders the human-readable "KIND:name@file" form of a
// mainline node, or "" when the node is not visible.
func (e *Engine) NodeIdentifier(id storage.NodeID) string {
	rec, ok := e.GetNode(id, storage.Mainline)
	if !ok {
		return ""
	}
	if rec.File == "" {
		return fmt.Sprintf("%s:%s", rec.Kind, rec.Name)
	}
	return fmt.Sprintf("%s:%s@%s", rec.Kind, rec.Name, rec.File)
}

// FileNodes returns the nodes recorded for a file by the persistent file
// index, filtered through the mainline resolver. Returns false when the file
// index is disabled.
func (e *Engine) FileNodes(path string) ([]storage.NodeID, bool, error) {
	e.mu.RLock()
	fi := e.fileIndex
	e.mu.RUnlock()
	if fi == nil {
		return nil, false, nil
	}
	ids, err := fi.Nodes(path)
	if err != nil {
		return nil, true, err
	}
	var out []storage.NodeID
	for _, id := range ids {
		if _, ok := e.GetNode(id, storage.Mainline); ok {
			out = append(out, id)
		}
	}
	return out, true, nil
}

func dedupIDs(ids []storage.NodeID) []storage.NodeID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[storage.NodeID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
