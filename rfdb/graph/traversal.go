package graph

import (
	"github.com/Disentinel/rfdb/rfdb/storage"
)

// typeFilter matches edge types against an allow-list. An empty list allows
// everything.
type typeFilter map[string]struct{}

func newTypeFilter(etypes []string) typeFilter {
	if len(etypes) == 0 {
		return nil
	}
	f := make(typeFilter, len(etypes))
	for _, t := range etypes {
		f[t] = struct{}{}
	}
	return f
}

func (f typeFilter) allows(etype string) bool {
	if f == nil {
		return true
	}
	_, ok := f[etype]
	return ok
}

// walker runs bounded traversals over the mainline adjacency of a
// graphState. Seeds start out visited and never appear in the output; a node
// that cannot be resolved (dangling endpoint) or is tombstoned is reported
// when reached but never expanded.
type walker struct {
	state    *graphState
	filter   typeFilter
	backward bool
}

// successors returns the far endpoints of live mainline edges at id, delta
// layer first, then segment rows.
func (w *walker) successors(id storage.NodeID) []storage.NodeID {
	var next []storage.NodeID
	w.state.forEachEdgeAt(id, w.backward, func(rec storage.EdgeRecord) {
		if rec.Deleted || rec.Version != storage.Mainline || !w.filter.allows(rec.Type) {
			return
		}
		if w.backward {
			next = append(next, rec.Src)
		} else {
			next = append(next, rec.Dst)
		}
	})
	return next
}

func (w *walker) expandable(id storage.NodeID) bool {
	_, ok := w.state.resolve(id, storage.Mainline)
	return ok
}

// bfs explores breadth-first up to maxDepth hops from the seeds. Results are
// in discovery order, seeds excluded. maxDepth <= 0 yields nothing.
func (w *walker) bfs(seeds []storage.NodeID, maxDepth int) []storage.NodeID {
	if maxDepth <= 0 {
		return nil
	}
	type item struct {
		id    storage.NodeID
		depth int
	}
	visited := make(map[storage.NodeID]struct{}, len(seeds))
	queue := make([]item, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = struct{}{}
		queue = append(queue, item{s, 0})
	}

	var result []storage.NodeID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth || !w.expandable(cur.id) {
			continue
		}
		for _, next := range w.successors(cur.id) {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			result = append(result, next)
			queue = append(queue, item{next, cur.depth + 1})
		}
	}
	return result
}

// dfs explores depth-first with the same bounds and exclusions as bfs.
// Results are in preorder.
func (w *walker) dfs(seeds []storage.NodeID, maxDepth int) []storage.NodeID {
	if maxDepth <= 0 {
		return nil
	}
	visited := make(map[storage.NodeID]struct{}, len(seeds))
	for _, s := range seeds {
		visited[s] = struct{}{}
	}

	var result []storage.NodeID
	var walk func(id storage.NodeID, depth int)
	walk = func(id storage.NodeID, depth int) {
		if depth >= maxDepth || !w.expandable(id) {
			return
		}
		for _, next := range w.successors(id) {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			result = append(result, next)
			walk(next, depth+1)
		}
	}
	for _, s := range seeds {
		walk(s, 0)
	}
	return result
}
