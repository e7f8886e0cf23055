package graph

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Disentinel/rfdb/rfdb/indexing"
	"github.com/Disentinel/rfdb/rfdb/storage"
)

// Compact folds the delta log into a fresh generation: both segments are
// written into a new uuid-named directory, fsynced, and published by
// atomically renaming a new CURRENT file over the old one. Only then are the
// delta log and WAL cleared and the indexes rebuilt.
//
// Readers keep using the old generation until the in-memory swap; a failure
// at any point before the CURRENT rename leaves the store exactly as it was,
// modulo a stray directory that the next compaction ignores.
func (e *Engine) Compact() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	e.mu.RLock()
	nodes, edges := e.materialize()
	e.mu.RUnlock()

	gen := "gen-" + uuid.NewString()
	dir := filepath.Join(e.path, gen)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	p := pool.New().WithErrors()
	p.Go(func() error {
		return storage.WriteNodesSegment(filepath.Join(dir, storage.NodesSegmentFile), nodes)
	})
	p.Go(func() error {
		return storage.WriteEdgesSegment(filepath.Join(dir, storage.EdgesSegmentFile), edges)
	})
	if err := p.Wait(); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	meta := storage.GraphMetadata{
		FormatVersion: storage.FormatVersion,
		Generation:    gen,
		NodeCount:     uint64(len(nodes)),
		EdgeCount:     uint64(len(edges)),
		CreatedAt:     time.Now().UTC(),
	}
	if err := storage.WriteMetadata(dir, meta); err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	nodesSeg, err := storage.OpenNodesSegment(filepath.Join(dir, storage.NodesSegmentFile))
	if err != nil {
		return fmt.Errorf("compact: reopen: %w", err)
	}
	edgesSeg, err := storage.OpenEdgesSegment(filepath.Join(dir, storage.EdgesSegmentFile))
	if err != nil {
		nodesSeg.Close()
		return fmt.Errorf("compact: reopen: %w", err)
	}

	if err := e.publishCurrent(gen); err != nil {
		nodesSeg.Close()
		edgesSeg.Close()
		return err
	}
	e.assertHandler.Assert(context.Background(),
		nodesSeg.Count() == len(nodes) && edgesSeg.Count() == len(edges),
		"published generation row counts diverge from materialized state")

	index := indexing.NewAttributeIndex()
	byFile := make(map[string][]storage.NodeID)
	for i := range nodes {
		if nodes[i].Deleted {
			continue
		}
		index.Add(&nodes[i])
		if nodes[i].Version == storage.Mainline && nodes[i].File != "" {
			byFile[nodes[i].File] = append(byFile[nodes[i].File], nodes[i].ID)
		}
	}

	e.mu.Lock()
	oldGen := e.generation
	e.closeSegments()
	e.nodesSeg = nodesSeg
	e.edgesSeg = edgesSeg
	e.generation = gen
	e.index = index
	// the delta layer folded into the new segments; readers restart on them
	e.state = newGraphState()
	e.state.attachSegments(newSegmentView(nodesSeg, edgesSeg))
	e.delta.Clear()
	e.walPersisted = 0
	walErr := e.wal.Reset()
	e.mu.Unlock()
	if walErr != nil {
		return fmt.Errorf("compact: %w", walErr)
	}

	if e.fileIndex != nil {
		if err := e.fileIndex.Rebuild(byFile); err != nil {
			e.log.Error("file index rebuild failed", "error", err)
		}
	}

	// the old generation is unreachable once CURRENT points away from it
	if oldGen != "" {
		if err := os.RemoveAll(filepath.Join(e.path, oldGen)); err != nil {
			e.log.Warn("failed to remove old generation", "generation", oldGen, "error", err)
		}
	}

	e.log.Info("compacted",
		"generation", gen,
		"previous", oldGen,
		"nodes", len(nodes),
		"edges", len(edges))
	return nil
}

// materialize snapshots the effective records for the next generation.
// Mainline tombstones vanish for good; overlay tombstones are kept because
// they hide live mainline records. Rows are sorted by version then ID so
// identical states always produce identical segments.
func (e *Engine) materialize() ([]storage.NodeRecord, []storage.EdgeRecord) {
	var nodes []storage.NodeRecord
	e.state.forEachNode(func(rec storage.NodeRecord) {
		if rec.Deleted && rec.Version == storage.Mainline {
			return
		}
		nodes = append(nodes, rec)
	})
	var edges []storage.EdgeRecord
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Deleted && rec.Version == storage.Mainline {
			return
		}
		edges = append(edges, rec)
	})

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Version != nodes[j].Version {
			return nodes[i].Version < nodes[j].Version
		}
		return bytes.Compare(nodes[i].ID[:], nodes[j].ID[:]) < 0
	})
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Version != edges[j].Version {
			return edges[i].Version < edges[j].Version
		}
		if c := bytes.Compare(edges[i].Src[:], edges[j].Src[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(edges[i].Dst[:], edges[j].Dst[:]); c != 0 {
			return c < 0
		}
		return edges[i].Type < edges[j].Type
	})
	return nodes, edges
}

// publishCurrent atomically points CURRENT at gen via write-to-temp and
// rename, fsyncing the store directory afterwards.
func (e *Engine) publishCurrent(gen string) error {
	tmp := filepath.Join(e.path, CurrentFile+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("publish generation: %w", err)
	}
	if _, err := f.WriteString(gen + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("publish generation: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("publish generation: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("publish generation: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(e.path, CurrentFile)); err != nil {
		return fmt.Errorf("publish generation: %w", err)
	}
	if d, err := os.Open(e.path); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
