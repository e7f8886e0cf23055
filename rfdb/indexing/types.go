// Package indexing provides the secondary indexes over the graph: a dense
// local-ID mapper, roaring-bitmap attribute indexes with prefix wildcard
// support, and a persistent file-to-nodes index.
package indexing

// LocalID is a dense per-store ordinal assigned to each distinct node ID as
// it is first indexed. Bitmaps operate on LocalIDs; the mapper translates
// back to full 128-bit node IDs.
type LocalID uint32
