package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaLogAppendOrder(t *testing.T) {
	d := NewDeltaLog()
	d.Append(
		DeltaEntry{Op: OpAddNode, Node: NodeRecord{ID: NodeIDFromUint64(1), Kind: "F", Name: "v1"}},
		DeltaEntry{Op: OpAddNode, Node: NodeRecord{ID: NodeIDFromUint64(1), Kind: "F", Name: "v2"}},
	)
	d.Append(DeltaEntry{Op: OpDeleteNode, Node: NodeRecord{ID: NodeIDFromUint64(1)}})

	require.Equal(t, 3, d.Len())
	got := d.Snapshot()
	assert.Equal(t, "v1", got[0].Node.Name)
	assert.Equal(t, "v2", got[1].Node.Name)
	assert.Equal(t, OpDeleteNode, got[2].Op, "later entries stay behind earlier ones")
}

func TestDeltaLogRangeStopsEarly(t *testing.T) {
	d := NewDeltaLog()
	for i := uint64(1); i <= 5; i++ {
		d.Append(DeltaEntry{Op: OpAddNode, Node: NodeRecord{ID: NodeIDFromUint64(i), Kind: "F"}})
	}
	var seen int
	d.Range(func(e DeltaEntry) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)
}

func TestDeltaLogDrain(t *testing.T) {
	d := NewDeltaLog()
	d.Append(DeltaEntry{Op: OpAddNode, Node: NodeRecord{ID: NodeIDFromUint64(1), Kind: "F"}})

	got := d.Drain()
	assert.Len(t, got, 1)
	assert.Equal(t, 0, d.Len())
	assert.Empty(t, d.Drain())
}
