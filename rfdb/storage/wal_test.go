package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walEntries() []DeltaEntry {
	nodes := testNodes()
	edges := testEdges()
	return []DeltaEntry{
		{Op: OpAddNode, Node: nodes[0]},
		{Op: OpAddNode, Node: nodes[2]},
		{Op: OpAddEdge, Edge: edges[1]},
		{Op: OpDeleteNode, Node: NodeRecord{ID: nodes[0].ID, Version: Mainline}},
		{Op: OpDeleteEdge, Edge: EdgeRecord{Src: edges[1].Src, Dst: edges[1].Dst, Type: edges[1].Type, Version: edges[1].Version}},
		{Op: OpUpdateNodeVersion, Node: NodeRecord{ID: nodes[2].ID}, NewVersion: Mainline},
	}
}

func TestWALReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), WALFile)
	w, err := OpenWAL(path)
	require.NoError(t, err)

	entries := walEntries()
	require.NoError(t, w.Append(entries[:3]...))
	require.NoError(t, w.Append(entries[3:]...))
	require.NoError(t, w.Close())

	got, truncated, err := ReplayWAL(path)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, got, len(entries))
	for i := range entries {
		assert.Equal(t, entries[i].Op, got[i].Op, "entry %d", i)
	}
	assert.Equal(t, entries[0].Node, got[0].Node)
	assert.Equal(t, entries[2].Edge, got[2].Edge)
	assert.Equal(t, entries[5].NewVersion, got[5].NewVersion)
}

func TestWALReplayMissingFile(t *testing.T) {
	got, truncated, err := ReplayWAL(filepath.Join(t.TempDir(), "nope.log"))
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Empty(t, got)
}

func TestWALReplayTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), WALFile)
	w, err := OpenWAL(path)
	require.NoError(t, err)
	entries := walEntries()
	require.NoError(t, w.Append(entries...))
	require.NoError(t, w.Close())

	full, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("truncated mid-frame", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, full[:len(full)-5], 0o644))
		got, truncated, err := ReplayWAL(path)
		require.NoError(t, err)
		assert.True(t, truncated)
		assert.Len(t, got, len(entries)-1)
	})

	t.Run("corrupt tail checksum", func(t *testing.T) {
		b := append([]byte(nil), full...)
		b[len(b)-1] ^= 0xff
		require.NoError(t, os.WriteFile(path, b, 0o644))
		got, truncated, err := ReplayWAL(path)
		require.NoError(t, err)
		assert.True(t, truncated)
		assert.Len(t, got, len(entries)-1)
	})
}

func TestWALReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), WALFile)
	w, err := OpenWAL(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(walEntries()...))
	require.NoError(t, w.Reset())

	got, truncated, err := ReplayWAL(path)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Empty(t, got)

	// the log stays appendable after a reset
	require.NoError(t, w.Append(DeltaEntry{Op: OpAddNode, Node: testNodes()[0]}))
	got, _, err = ReplayWAL(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
