// Package graph implements the query engine over the storage layer: identity
// derivation, version resolution, attribute search, traversal and
// compaction.
package graph

import (
	"lukechampine.com/blake3"

	"github.com/Disentinel/rfdb/rfdb/storage"
)

// idSeparator keeps identity fields from colliding across boundaries
// ("ab"+"c" vs "a"+"bc").
const idSeparator = "\x1f"

// ComputeNodeID derives the deterministic 128-bit ID of a node from its
// semantic identity: kind, name, enclosing scope and file path. Equal inputs
// always produce equal IDs, across processes and store lifetimes.
//
// Distinct identities may in principle hash to the same ID. The engine does
// not detect or resolve such collisions; with 128-bit BLAKE3 output the
// probability is negligible for realistic graph sizes.
func ComputeNodeID(kind, name, scope, path string) storage.NodeID {
	h := blake3.New(16, nil)
	h.Write([]byte(kind))
	h.Write([]byte(idSeparator))
	h.Write([]byte(name))
	h.Write([]byte(idSeparator))
	h.Write([]byte(scope))
	h.Write([]byte(idSeparator))
	h.Write([]byte(path))
	var id storage.NodeID
	copy(id[:], h.Sum(nil))
	return id
}

// StringToNodeID derives an ID from a pre-formed string identity such as
// "SERVICE:billing". Useful for externally named entities that have no
// kind/name/scope/path decomposition.
func StringToNodeID(s string) storage.NodeID {
	sum := blake3.Sum256([]byte(s))
	var id storage.NodeID
	copy(id[:], sum[:16])
	return id
}
