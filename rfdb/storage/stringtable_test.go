package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringTableInternResolve(t *testing.T) {
	st := NewStringTable()

	offFn := st.Intern("FUNCTION")
	offMain := st.Intern("main")
	offFile := st.Intern("src/app.js")

	tests := []struct {
		name string
		off  uint32
		want string
	}{
		{"first entry", offFn, "FUNCTION"},
		{"second entry", offMain, "main"},
		{"third entry", offFile, "src/app.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := st.Resolve(tt.off)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown offset", func(t *testing.T) {
		_, ok := st.Resolve(9999)
		assert.False(t, ok)
	})
}

func TestStringTableDedup(t *testing.T) {
	st := NewStringTable()
	a := st.Intern("CALLS")
	b := st.Intern("CALLS")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, st.Len())
}

func TestStringTableEmptyString(t *testing.T) {
	st := NewStringTable()

	offEmpty := st.Intern("")
	offX := st.Intern("x")

	require.NotEqual(t, offEmpty, offX, "empty string must not share a start offset")

	got, ok := st.Resolve(offEmpty)
	require.True(t, ok)
	assert.Equal(t, "", got)

	got, ok = st.Resolve(offX)
	require.True(t, ok)
	assert.Equal(t, "x", got)

	assert.Equal(t, offEmpty, st.Intern(""), "empty string reference is stable")
	assert.Equal(t, 1, st.Len(), "only real entries occupy the blob")
}

func TestStringTableRoundTrip(t *testing.T) {
	st := NewStringTable()
	values := []string{"FUNCTION", "CLASS", "src/lib/üñïçø∂é.ts", "x"}
	offs := make([]uint32, 0, len(values))
	for _, v := range values {
		offs = append(offs, st.Intern(v))
	}

	var buf bytes.Buffer
	n, err := st.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	back, err := ReadStringTable(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, st.Len(), back.Len())
	for i, v := range values {
		got, ok := back.Resolve(offs[i])
		require.True(t, ok, "offset %d", offs[i])
		assert.Equal(t, v, got)
	}
}

func TestReadStringTableTruncated(t *testing.T) {
	st := NewStringTable()
	st.Intern("hello")
	st.Intern("world")
	var buf bytes.Buffer
	_, err := st.WriteTo(&buf)
	require.NoError(t, err)

	full := buf.Bytes()
	for _, cut := range []int{0, 4, 8, len(full) - 1} {
		_, err := ReadStringTable(full[:cut])
		assert.Error(t, err, "cut at %d", cut)
	}
}
