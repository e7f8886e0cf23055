package indexing

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Disentinel/rfdb/rfdb/storage"
)

func TestNodeIDMapperDenseAssignment(t *testing.T) {
	m := NewNodeIDMapper()

	a := storage.NodeIDFromUint64(100)
	b := storage.NodeIDFromUint64(200)

	assert.Equal(t, LocalID(0), m.LocalFor(a))
	assert.Equal(t, LocalID(1), m.LocalFor(b))
	assert.Equal(t, LocalID(0), m.LocalFor(a), "repeat assignment must be stable")
	assert.Equal(t, 2, m.Size())

	got, ok := m.NodeFor(1)
	require.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = m.NodeFor(5)
	assert.False(t, ok)

	_, ok = m.Lookup(storage.NodeIDFromUint64(300))
	assert.False(t, ok)
}

func indexedNodes() []storage.NodeRecord {
	return []storage.NodeRecord{
		{ID: storage.NodeIDFromUint64(1), Kind: "FUNCTION", Name: "main", File: "src/app.js"},
		{ID: storage.NodeIDFromUint64(2), Kind: "FUNCTION", Name: "handler", File: "src/app.js"},
		{ID: storage.NodeIDFromUint64(3), Kind: "CLASS", Name: "Server", File: "src/server.js"},
		{ID: storage.NodeIDFromUint64(4), Kind: "http:route", Name: "GET /users", File: "src/routes.js"},
		{ID: storage.NodeIDFromUint64(5), Kind: "http:middleware", Name: "auth", File: "src/routes.js"},
	}
}

func TestAttributeIndexQueries(t *testing.T) {
	ix := NewAttributeIndex()
	for _, rec := range indexedNodes() {
		ix.Add(&rec)
	}

	tests := []struct {
		name  string
		query storage.AttrQuery
		want  uint64
	}{
		{"by kind", storage.AttrQuery{Kind: "FUNCTION"}, 2},
		{"by kind wildcard", storage.AttrQuery{Kind: "http:*"}, 2},
		{"wildcard no match", storage.AttrQuery{Kind: "db:*"}, 0},
		{"by name", storage.AttrQuery{Name: "main"}, 1},
		{"by file", storage.AttrQuery{File: "src/routes.js"}, 2},
		{"kind and file", storage.AttrQuery{Kind: "http:route", File: "src/routes.js"}, 1},
		{"conflicting attrs", storage.AttrQuery{Kind: "CLASS", File: "src/app.js"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := ix.Candidates(&tt.query)
			require.NotNil(t, bm)
			assert.Equal(t, tt.want, bm.GetCardinality())
		})
	}

	t.Run("unpinned query falls back to scan", func(t *testing.T) {
		assert.Nil(t, ix.Candidates(&storage.AttrQuery{Version: "main"}))
	})
}

func TestAttributeIndexKinds(t *testing.T) {
	ix := NewAttributeIndex()
	for _, rec := range indexedNodes() {
		ix.Add(&rec)
	}
	assert.ElementsMatch(t, []string{"FUNCTION", "CLASS", "http:route", "http:middleware"}, ix.Kinds())
}

func TestFileIndexRoundTrip(t *testing.T) {
	fi, err := OpenFileIndex(t.TempDir(), slog.Default())
	require.NoError(t, err)
	defer fi.Close()

	a := storage.NodeIDFromUint64(1)
	b := storage.NodeIDFromUint64(2)

	require.NoError(t, fi.AddMapping("src/app.js", a))
	require.NoError(t, fi.AddMapping("src/app.js", b))
	require.NoError(t, fi.AddMapping("src/server.js", b))

	ids, err := fi.Nodes("src/app.js")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{a, b}, ids)

	ids, err = fi.Nodes("missing.js")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileIndexRebuild(t *testing.T) {
	fi, err := OpenFileIndex(t.TempDir(), slog.Default())
	require.NoError(t, err)
	defer fi.Close()

	stale := storage.NodeIDFromUint64(9)
	require.NoError(t, fi.AddMapping("old.js", stale))

	fresh := storage.NodeIDFromUint64(1)
	require.NoError(t, fi.Rebuild(map[string][]storage.NodeID{
		"src/app.js": {fresh},
	}))

	ids, err := fi.Nodes("old.js")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = fi.Nodes("src/app.js")
	require.NoError(t, err)
	assert.Equal(t, []storage.NodeID{fresh}, ids)
}
