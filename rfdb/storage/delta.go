package storage

import (
	"sync"
)

// DeltaOp enumerates the mutations the delta log records.
type DeltaOp uint8

const (
	OpAddNode DeltaOp = iota + 1
	OpDeleteNode
	OpAddEdge
	OpDeleteEdge
	OpUpdateNodeVersion
	OpDeleteVersion
)

func (op DeltaOp) String() string {
	switch op {
	case OpAddNode:
		return "add_node"
	case OpDeleteNode:
		return "delete_node"
	case OpAddEdge:
		return "add_edge"
	case OpDeleteEdge:
		return "delete_edge"
	case OpUpdateNodeVersion:
		return "update_node_version"
	case OpDeleteVersion:
		return "delete_version"
	default:
		return "unknown"
	}
}

// DeltaEntry is one logged mutation. Which fields are meaningful depends on
// Op: node ops carry Node, edge ops carry Edge, OpUpdateNodeVersion carries
// Node.ID plus NewVersion, OpDeleteVersion carries only NewVersion (the
// overlay being dropped).
type DeltaEntry struct {
	Op         DeltaOp
	Node       NodeRecord
	Edge       EdgeRecord
	NewVersion string
}

// DeltaLog is the in-memory overlay over the sealed segments. Entries are
// kept in append order; readers resolve the latest entry per identity, so a
// later delete shadows an earlier add without rewriting history.
//
// The log itself is not durable; the engine mirrors appended entries into the
// WAL before acknowledging a write.
type DeltaLog struct {
	mu      sync.RWMutex
	entries []DeltaEntry
}

func NewDeltaLog() *DeltaLog {
	return &DeltaLog{}
}

// Append adds entries in order.
func (d *DeltaLog) Append(entries ...DeltaEntry) {
	d.mu.Lock()
	d.entries = append(d.entries, entries...)
	d.mu.Unlock()
}

// Len is the number of pending entries.
func (d *DeltaLog) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Snapshot returns a copy of the pending entries in append order.
func (d *DeltaLog) Snapshot() []DeltaEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DeltaEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Range calls fn for each pending entry in append order until fn returns
// false. The lock is held for the duration; fn must not call back into the
// log.
func (d *DeltaLog) Range(fn func(e DeltaEntry) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if !fn(e) {
			return
		}
	}
}

// Drain atomically removes and returns all pending entries in append order.
func (d *DeltaLog) Drain() []DeltaEntry {
	d.mu.Lock()
	out := d.entries
	d.entries = nil
	d.mu.Unlock()
	return out
}

// Clear drops all pending entries. Called after compaction has folded them
// into a new generation.
func (d *DeltaLog) Clear() {
	d.mu.Lock()
	d.entries = nil
	d.mu.Unlock()
}
