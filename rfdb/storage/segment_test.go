package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodes() []NodeRecord {
	return []NodeRecord{
		{
			ID:       NodeIDFromUint64(1),
			Kind:     "FUNCTION",
			Name:     "main",
			File:     "src/app.js",
			Version:  Mainline,
			Exported: true,
			Metadata: `{"line":10}`,
		},
		{
			ID:      NodeIDFromUint64(2),
			Kind:    "CLASS",
			Name:    "Server",
			File:    "src/server.js",
			Version: Mainline,
		},
		{
			ID:       NodeIDFromUint64(3),
			Kind:     "http:route",
			Name:     "GET /users",
			Version:  "feature-x",
			Replaces: NodeIDFromUint64(2),
			Deleted:  true,
		},
	}
}

func testEdges() []EdgeRecord {
	return []EdgeRecord{
		{Src: NodeIDFromUint64(1), Dst: NodeIDFromUint64(2), Type: "CALLS", Version: Mainline},
		{Src: NodeIDFromUint64(2), Dst: NodeIDFromUint64(3), Type: "http:routes_to", Version: "feature-x", Metadata: `{"weight":1}`},
		{Src: NodeIDFromUint64(3), Dst: NodeIDFromUint64(1), Type: "IMPORTS", Version: Mainline, Deleted: true},
	}
}

func TestNodesSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, NodesSegmentFile)
	records := testNodes()

	require.NoError(t, WriteNodesSegment(path, records))

	seg, err := OpenNodesSegment(path)
	require.NoError(t, err)
	defer seg.Close()

	require.Equal(t, len(records), seg.Count())
	for i, want := range records {
		got := seg.Record(i)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.File, got.File)
		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Exported, got.Exported)
		assert.Equal(t, want.Replaces, got.Replaces)
		assert.Equal(t, want.Deleted, got.Deleted)
		assert.Equal(t, want.Metadata, got.Metadata)
	}
}

func TestEdgesSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, EdgesSegmentFile)
	records := testEdges()

	require.NoError(t, WriteEdgesSegment(path, records))

	seg, err := OpenEdgesSegment(path)
	require.NoError(t, err)
	defer seg.Close()

	require.Equal(t, len(records), seg.Count())
	for i, want := range records {
		got := seg.Record(i)
		assert.Equal(t, want, got)
	}
}

func TestSegmentEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, NodesSegmentFile)
	require.NoError(t, WriteNodesSegment(path, nil))

	seg, err := OpenNodesSegment(path)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, 0, seg.Count())

	it := seg.Scan(nil)
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestSegmentScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, NodesSegmentFile)
	require.NoError(t, WriteNodesSegment(path, testNodes()))

	seg, err := OpenNodesSegment(path)
	require.NoError(t, err)
	defer seg.Close()

	it := seg.Scan(func(i int) bool { return !seg.Deleted(i) })
	var names []string
	for i, ok := it.Next(); ok; i, ok = it.Next() {
		names = append(names, seg.Name(i))
	}
	assert.Equal(t, []string{"main", "Server"}, names)

	it.Reset()
	i, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestSegmentCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, NodesSegmentFile)
	require.NoError(t, WriteNodesSegment(path, testNodes()))
	pristine, err := os.ReadFile(path)
	require.NoError(t, err)

	corrupt := func(t *testing.T, mutate func(b []byte) []byte) error {
		b := mutate(append([]byte(nil), pristine...))
		require.NoError(t, os.WriteFile(path, b, 0o644))
		seg, err := OpenNodesSegment(path)
		if seg != nil {
			seg.Close()
		}
		return err
	}

	t.Run("flipped payload byte", func(t *testing.T) {
		err := corrupt(t, func(b []byte) []byte {
			b[len(b)-1] ^= 0xff
			return b
		})
		require.Error(t, err)
		assert.True(t, IsCorruptSegment(err))
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("bad magic", func(t *testing.T) {
		err := corrupt(t, func(b []byte) []byte {
			b[0] = 'X'
			return b
		})
		require.Error(t, err)
		assert.True(t, IsCorruptSegment(err))
	})

	t.Run("truncated file", func(t *testing.T) {
		err := corrupt(t, func(b []byte) []byte {
			return b[:len(b)/2]
		})
		require.Error(t, err)
		assert.True(t, IsCorruptSegment(err))
	})

	t.Run("wrong entity kind", func(t *testing.T) {
		edgePath := filepath.Join(dir, EdgesSegmentFile)
		require.NoError(t, WriteEdgesSegment(edgePath, testEdges()))
		seg, err := OpenNodesSegment(edgePath)
		if seg != nil {
			seg.Close()
		}
		require.Error(t, err)
		assert.True(t, IsCorruptSegment(err))
	})
}

func TestMetadataRoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := GraphMetadata{
		FormatVersion: FormatVersion,
		Generation:    "gen-test",
		NodeCount:     3,
		EdgeCount:     2,
	}
	require.NoError(t, WriteMetadata(dir, meta))
	got, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.Generation, got.Generation)
	assert.Equal(t, meta.NodeCount, got.NodeCount)
	assert.Equal(t, meta.EdgeCount, got.EdgeCount)
}
