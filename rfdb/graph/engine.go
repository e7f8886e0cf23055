package graph

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	assert "github.com/ZanzyTHEbar/assert-lib"

	internal "github.com/Disentinel/rfdb/rfdb"
	"github.com/Disentinel/rfdb/rfdb/indexing"
	"github.com/Disentinel/rfdb/rfdb/storage"
)

// CurrentFile names the pointer file that publishes the live generation.
const CurrentFile = "CURRENT"

// Options tune an Engine. The zero value picks the package defaults.
type Options struct {
	// AutoFlushThreshold is the number of unpersisted delta entries that
	// triggers an automatic WAL flush. <= 0 uses the default.
	AutoFlushThreshold int
	// FileIndex enables the persistent file-to-nodes index.
	FileIndex bool
	Logger    *slog.Logger
}

func (o *Options) fill() {
	if o.AutoFlushThreshold <= 0 {
		o.AutoFlushThreshold = internal.DefaultAutoFlushThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Engine is the single-process graph store: one writer at a time, any number
// of concurrent readers.
//
// wmu serializes writers end to end; mu guards the in-memory state and is
// held exclusively only for the actual mutation (or, during compaction, the
// generation swap), so readers stay unblocked while a compaction writes its
// segments.
type Engine struct {
	path string
	opts Options
	log  *slog.Logger

	assertHandler *assert.AssertHandler

	wmu sync.Mutex
	mu  sync.RWMutex

	state *graphState
	index *indexing.AttributeIndex

	delta        *storage.DeltaLog
	wal          *storage.WAL
	walPersisted int

	nodesSeg *storage.NodesSegment
	edgesSeg *storage.EdgesSegment

	fileIndex  *indexing.FileIndex
	generation string
}

// NormalizeStorePath appends the store directory extension when missing, so
// "myproject" and "myproject.rfdb" address the same store.
func NormalizeStorePath(path string) string {
	if strings.HasSuffix(path, internal.DefaultStoreExt) {
		return path
	}
	return path + internal.DefaultStoreExt
}

// Create initializes a fresh store at path and opens it. It fails if a store
// already exists there.
func Create(path string, opts Options) (*Engine, error) {
	path = NormalizeStorePath(path)
	if _, err := os.Stat(filepath.Join(path, CurrentFile)); err == nil {
		return nil, fmt.Errorf("create store %s: already exists", path)
	}
	if _, err := os.Stat(filepath.Join(path, storage.WALFile)); err == nil {
		return nil, fmt.Errorf("create store %s: already exists", path)
	}
	return Open(path, opts)
}

// Open opens the store at path, creating the directory if needed. The live
// generation's segments are mapped and the WAL is replayed on top, restoring
// the pre-crash effective state.
func Open(path string, opts Options) (*Engine, error) {
	opts.fill()
	path = NormalizeStorePath(path)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	e := &Engine{
		path:          path,
		opts:          opts,
		log:           opts.Logger,
		assertHandler: assert.NewAssertHandler(),
		state:         newGraphState(),
		index:         indexing.NewAttributeIndex(),
		delta:         storage.NewDeltaLog(),
	}
	if err := e.loadGeneration(); err != nil {
		return nil, err
	}
	if err := e.replayWAL(); err != nil {
		e.closeSegments()
		return nil, err
	}

	wal, err := storage.OpenWAL(filepath.Join(path, storage.WALFile))
	if err != nil {
		e.closeSegments()
		return nil, err
	}
	e.wal = wal

	if opts.FileIndex {
		fi, err := indexing.OpenFileIndex(filepath.Join(path, internal.DefaultFileIndexDir), e.log)
		if err != nil {
			e.closeSegments()
			wal.Close()
			return nil, err
		}
		e.fileIndex = fi
	}

	segNodes, segEdges := 0, 0
	if e.nodesSeg != nil {
		segNodes = e.nodesSeg.Count()
	}
	if e.edgesSeg != nil {
		segEdges = e.edgesSeg.Count()
	}
	e.log.Info("store opened",
		"path", path,
		"generation", e.generation,
		"segment_nodes", segNodes,
		"segment_edges", segEdges,
		"replayed", e.delta.Len())
	return e, nil
}

// loadGeneration maps the segments named by CURRENT and folds their rows
// into the state. A missing CURRENT means a fresh store.
func (e *Engine) loadGeneration() error {
	gen, err := os.ReadFile(filepath.Join(e.path, CurrentFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", CurrentFile, err)
	}
	e.generation = strings.TrimSpace(string(gen))
	dir := filepath.Join(e.path, e.generation)

	nodesSeg, err := storage.OpenNodesSegment(filepath.Join(dir, storage.NodesSegmentFile))
	if err != nil {
		return err
	}
	edgesSeg, err := storage.OpenEdgesSegment(filepath.Join(dir, storage.EdgesSegmentFile))
	if err != nil {
		nodesSeg.Close()
		return err
	}
	e.nodesSeg = nodesSeg
	e.edgesSeg = edgesSeg

	// index the rows without copying them into the delta layer; reads fall
	// through to the mapped segments
	e.state.attachSegments(newSegmentView(nodesSeg, edgesSeg))
	for i := 0; i < nodesSeg.Count(); i++ {
		if nodesSeg.Deleted(i) {
			continue
		}
		rec := nodesSeg.Record(i)
		e.index.Add(&rec)
	}
	return nil
}

func (e *Engine) replayWAL() error {
	entries, truncated, err := storage.ReplayWAL(filepath.Join(e.path, storage.WALFile))
	if err != nil {
		return err
	}
	if truncated {
		e.log.Warn("wal has a torn tail, dropping trailing entries", "kept", len(entries))
	}
	for _, entry := range entries {
		e.applyLocked(entry)
	}
	e.delta.Append(entries...)
	e.walPersisted = len(entries)
	return nil
}

// Close flushes pending delta entries and releases every resource. The
// engine must not be used afterwards.
func (e *Engine) Close() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if err := e.flushLocked(); err != nil {
		firstErr = err
	}
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.closeSegments(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.fileIndex != nil {
		if err := e.fileIndex.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) closeSegments() error {
	var firstErr error
	if e.nodesSeg != nil {
		firstErr = e.nodesSeg.Close()
		e.nodesSeg = nil
	}
	if e.edgesSeg != nil {
		if err := e.edgesSeg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.edgesSeg = nil
	}
	return firstErr
}

// applyLocked folds one entry into the state and indexes. Callers hold mu
// exclusively (or own the engine during Open).
func (e *Engine) applyLocked(entry storage.DeltaEntry) {
	e.state.apply(entry)
	if entry.Op == storage.OpAddNode && !entry.Node.Deleted {
		e.index.Add(&entry.Node)
	}
}

// AddNodes validates and inserts records as one batch: either every record
// is accepted or none is. Records default to the mainline version; an
// overlay record with a Replaces reference must point at an existing
// mainline record.
func (e *Engine) AddNodes(records []storage.NodeRecord) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := make([]storage.NodeRecord, len(records))
	copy(batch, records)

	// a Replaces target may arrive in the same batch as the overlay record
	// pointing at it
	batchMainline := make(map[storage.NodeID]struct{})
	for i := range batch {
		batch[i].Version = versionOr(batch[i].Version)
		if batch[i].Version == storage.Mainline {
			batchMainline[batch[i].ID] = struct{}{}
		}
	}
	for i := range batch {
		rec := &batch[i]
		if rec.ID.IsZero() {
			return &storage.InvalidRecordError{Index: i, Reason: "zero node id"}
		}
		if rec.Kind == "" {
			return &storage.InvalidRecordError{Index: i, Reason: "empty kind"}
		}
		if !rec.Replaces.IsZero() {
			if rec.Version == storage.Mainline {
				return &storage.InvalidRecordError{Index: i, Reason: "replaces reference on a mainline record"}
			}
			if _, inBatch := batchMainline[rec.Replaces]; inBatch {
				continue
			}
			if _, ok := e.state.resolve(rec.Replaces, storage.Mainline); !ok {
				return &storage.VersionConflictError{Version: rec.Version, Replaces: rec.Replaces}
			}
		}
	}

	entries := make([]storage.DeltaEntry, len(batch))
	for i, rec := range batch {
		entries[i] = storage.DeltaEntry{Op: storage.OpAddNode, Node: rec}
	}
	e.delta.Append(entries...)
	for _, entry := range entries {
		e.applyLocked(entry)
		if e.fileIndex != nil && entry.Node.File != "" {
			if err := e.fileIndex.AddMapping(entry.Node.File, entry.Node.ID); err != nil {
				e.log.Error("file index update failed", "file", entry.Node.File, "error", err)
			}
		}
	}
	return e.maybeAutoFlush()
}

// AddEdges validates and inserts edge records as one batch. Endpoints are
// not required to exist; dangling edges are legal.
func (e *Engine) AddEdges(records []storage.EdgeRecord) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	batch := make([]storage.EdgeRecord, len(records))
	copy(batch, records)

	for i := range batch {
		batch[i].Version = versionOr(batch[i].Version)
		rec := &batch[i]
		if rec.Src.IsZero() || rec.Dst.IsZero() {
			return &storage.InvalidRecordError{Index: i, Reason: "zero edge endpoint"}
		}
		if rec.Type == "" {
			return &storage.InvalidRecordError{Index: i, Reason: "empty edge type"}
		}
	}

	entries := make([]storage.DeltaEntry, len(batch))
	for i, rec := range batch {
		entries[i] = storage.DeltaEntry{Op: storage.OpAddEdge, Edge: rec}
	}
	e.delta.Append(entries...)
	for _, entry := range entries {
		e.applyLocked(entry)
	}
	return e.maybeAutoFlush()
}

// DeleteNode tombstones the mainline record for id. Deleting an absent node
// is a no-op that still logs a tombstone.
func (e *Engine) DeleteNode(id storage.NodeID) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := storage.DeltaEntry{
		Op:   storage.OpDeleteNode,
		Node: storage.NodeRecord{ID: id, Version: storage.Mainline},
	}
	e.delta.Append(entry)
	e.applyLocked(entry)
	return e.maybeAutoFlush()
}

// DeleteEdge tombstones the mainline edge (src, dst, etype).
func (e *Engine) DeleteEdge(src, dst storage.NodeID, etype string) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := storage.DeltaEntry{
		Op:   storage.OpDeleteEdge,
		Edge: storage.EdgeRecord{Src: src, Dst: dst, Type: etype, Version: storage.Mainline},
	}
	e.delta.Append(entry)
	e.applyLocked(entry)
	return e.maybeAutoFlush()
}

// UpdateNodeVersion moves the record for id into another version, preferring
// the mainline record when the ID exists in several.
func (e *Engine) UpdateNodeVersion(id storage.NodeID, newVersion string) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := storage.DeltaEntry{
		Op:         storage.OpUpdateNodeVersion,
		Node:       storage.NodeRecord{ID: id},
		NewVersion: versionOr(newVersion),
	}
	e.delta.Append(entry)
	e.applyLocked(entry)
	return e.maybeAutoFlush()
}

// DeleteVersion drops every record of a named overlay. The mainline version
// cannot be deleted.
func (e *Engine) DeleteVersion(version string) error {
	if versionOr(version) == storage.Mainline {
		return fmt.Errorf("delete version: cannot delete %q", storage.Mainline)
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := storage.DeltaEntry{Op: storage.OpDeleteVersion, NewVersion: version}
	e.delta.Append(entry)
	e.applyLocked(entry)
	return e.maybeAutoFlush()
}

// PromoteOverlay folds an overlay into the mainline: overlay records become
// mainline records, mainline records they replaced are tombstoned, overlay
// tombstones delete their mainline counterparts, and the overlay itself is
// dropped.
func (e *Engine) PromoteOverlay(version string) error {
	if versionOr(version) == storage.Mainline {
		return fmt.Errorf("promote overlay: %q is not an overlay", storage.Mainline)
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	var overlayNodes []storage.NodeRecord
	e.state.forEachNode(func(rec storage.NodeRecord) {
		if rec.Version == version {
			overlayNodes = append(overlayNodes, rec)
		}
	})
	var overlayEdges []storage.EdgeRecord
	e.state.forEachEdge(func(rec storage.EdgeRecord) {
		if rec.Version == version {
			overlayEdges = append(overlayEdges, rec)
		}
	})

	// sorted, deletes before adds: when the overlay both redefines an ID and
	// replaces it from another record, the redefinition must win regardless
	// of iteration order
	sort.Slice(overlayNodes, func(i, j int) bool {
		return bytes.Compare(overlayNodes[i].ID[:], overlayNodes[j].ID[:]) < 0
	})
	sort.Slice(overlayEdges, func(i, j int) bool {
		if c := bytes.Compare(overlayEdges[i].Src[:], overlayEdges[j].Src[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(overlayEdges[i].Dst[:], overlayEdges[j].Dst[:]); c != 0 {
			return c < 0
		}
		return overlayEdges[i].Type < overlayEdges[j].Type
	})

	var deletes, adds []storage.DeltaEntry
	for _, rec := range overlayNodes {
		if rec.Deleted {
			deletes = append(deletes, storage.DeltaEntry{
				Op:   storage.OpDeleteNode,
				Node: storage.NodeRecord{ID: rec.ID, Version: storage.Mainline},
			})
			continue
		}
		if !rec.Replaces.IsZero() && rec.Replaces != rec.ID {
			deletes = append(deletes, storage.DeltaEntry{
				Op:   storage.OpDeleteNode,
				Node: storage.NodeRecord{ID: rec.Replaces, Version: storage.Mainline},
			})
		}
		promoted := rec
		promoted.Version = storage.Mainline
		promoted.Replaces = storage.ZeroNodeID
		adds = append(adds, storage.DeltaEntry{Op: storage.OpAddNode, Node: promoted})
	}
	for _, rec := range overlayEdges {
		promoted := rec
		promoted.Version = storage.Mainline
		if rec.Deleted {
			promoted.Deleted = false
			deletes = append(deletes, storage.DeltaEntry{Op: storage.OpDeleteEdge, Edge: promoted})
			continue
		}
		adds = append(adds, storage.DeltaEntry{Op: storage.OpAddEdge, Edge: promoted})
	}

	entries := append(deletes, adds...)
	entries = append(entries, storage.DeltaEntry{Op: storage.OpDeleteVersion, NewVersion: version})

	e.delta.Append(entries...)
	for _, entry := range entries {
		e.applyLocked(entry)
	}
	return e.maybeAutoFlush()
}

// Flush appends the delta entries not yet persisted to the WAL and fsyncs.
// Safe to call at any time; a no-op when everything is already durable.
func (e *Engine) Flush() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if e.wal == nil {
		return nil
	}
	pending := e.delta.Snapshot()
	if len(pending) <= e.walPersisted {
		return nil
	}
	if err := e.wal.Append(pending[e.walPersisted:]...); err != nil {
		return err
	}
	e.log.Debug("wal flushed", "entries", len(pending)-e.walPersisted)
	e.walPersisted = len(pending)
	return nil
}

func (e *Engine) maybeAutoFlush() error {
	if e.delta.Len()-e.walPersisted < e.opts.AutoFlushThreshold {
		return nil
	}
	return e.flushLocked()
}

// Path returns the normalized store directory.
func (e *Engine) Path() string { return e.path }

// Generation returns the live generation directory name, empty for a store
// that has never been compacted.
func (e *Engine) Generation() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}
