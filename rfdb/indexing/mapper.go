package indexing

import (
	"github.com/Disentinel/rfdb/rfdb/storage"
)

// NodeIDMapper assigns dense LocalIDs to 128-bit node IDs so attribute
// bitmaps can stay compact. IDs are assigned in first-seen order and never
// reused; the mapper is rebuilt from scratch alongside the index.
type NodeIDMapper struct {
	toLocal map[storage.NodeID]LocalID
	toNode  []storage.NodeID
}

func NewNodeIDMapper() *NodeIDMapper {
	return &NodeIDMapper{toLocal: make(map[storage.NodeID]LocalID)}
}

// LocalFor returns the LocalID for id, assigning a new one if unseen.
func (m *NodeIDMapper) LocalFor(id storage.NodeID) LocalID {
	if lid, ok := m.toLocal[id]; ok {
		return lid
	}
	lid := LocalID(len(m.toNode))
	m.toLocal[id] = lid
	m.toNode = append(m.toNode, id)
	return lid
}

// Lookup returns the LocalID for id without assigning.
func (m *NodeIDMapper) Lookup(id storage.NodeID) (LocalID, bool) {
	lid, ok := m.toLocal[id]
	return lid, ok
}

// NodeFor translates a LocalID back to its node ID.
func (m *NodeIDMapper) NodeFor(lid LocalID) (storage.NodeID, bool) {
	if int(lid) >= len(m.toNode) {
		return storage.NodeID{}, false
	}
	return m.toNode[lid], true
}

func (m *NodeIDMapper) Size() int { return len(m.toNode) }
