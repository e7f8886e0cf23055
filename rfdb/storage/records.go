// Package storage implements the columnar on-disk layout of the graph:
// immutable memory-mapped segments, the embedded string table, the in-memory
// delta log and its write-ahead persistence.
package storage

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Mainline is the distinguished version every store starts with. Overlay
// versions shadow mainline records without mutating them.
const Mainline = "main"

// NodeID is a 128-bit deterministic node identifier, derived from the
// semantic identity fields (kind, name, scope, path). Stored little-endian
// in segment columns.
type NodeID [16]byte

// ZeroNodeID is the absent-value sentinel for optional ID fields (Replaces).
var ZeroNodeID NodeID

func (id NodeID) IsZero() bool { return id == ZeroNodeID }

func (id NodeID) String() string { return hex.EncodeToString(id[:]) }

// NodeIDFromUint64 widens a small integer into a NodeID. Mostly useful in
// tests and migrations where IDs are hand-assigned rather than derived.
func NodeIDFromUint64(v uint64) NodeID {
	var id NodeID
	binary.LittleEndian.PutUint64(id[:8], v)
	return id
}

// ParseNodeID decodes the hex form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse node id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse node id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NodeRecord is one typed graph node. Kind supports namespaced tags such as
// "http:route" alongside the base UPPERCASE kinds ("FUNCTION", "CLASS", ...).
//
// Name, File and Metadata are carried as plain strings until a segment write
// interns them; FileID is assigned by the segment writer and is only
// meaningful for records read back from a segment.
type NodeRecord struct {
	ID       NodeID
	Kind     string
	FileID   uint32
	Name     string
	File     string
	Version  string // Mainline or an overlay name
	Exported bool
	Replaces NodeID // mainline ID this record supersedes; zero = none
	Deleted  bool
	Metadata string // opaque blob, conventionally JSON
}

// EdgeRecord is one typed edge. Endpoints need not resolve to existing node
// records: dangling edges are stored as-is and treated as dead ends by the
// traversal engine.
type EdgeRecord struct {
	Src      NodeID
	Dst      NodeID
	Type     string // namespaced like node kinds, e.g. "CALLS", "http:routes_to"
	Version  string
	Metadata string
	Deleted  bool
}

// AttrQuery filters nodes by attribute values. Zero values mean "any".
// Kind supports a trailing-asterisk wildcard ("http:*").
type AttrQuery struct {
	Version  string
	Kind     string
	FileID   uint32 // 0 = unset (0 is also the no-file sentinel in segments)
	File     string
	Name     string
	Exported *bool
}
