package tlist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
)

func newTList(t *testing.T) (*TList, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "g.tlist")
	tl, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { tl.Close() })
	return tl, path
}

func TestAppendAndIterInOrder(t *testing.T) {
	tl, _ := newTList(t)
	want := []rid.Quad{
		{S: 1, P: 2, O: 3},
		{S: 4, P: 5, O: 6},
		{S: 7, P: 8, O: 9},
	}
	for _, q := range want {
		require.NoError(t, tl.Append(q.S, q.P, q.O))
	}
	assert.Equal(t, uint64(len(want)), tl.Len())

	var got []rid.Quad
	tl.Iter()(func(s, p, o rid.RID) bool {
		got = append(got, rid.Quad{S: s, P: p, O: o})
		return true
	})
	assert.Equal(t, want, got)
}

func TestTripleIndexing(t *testing.T) {
	tl, _ := newTList(t)
	require.NoError(t, tl.Append(10, 20, 30))
	require.NoError(t, tl.Append(40, 50, 60))

	s, p, o := tl.Triple(1)
	assert.Equal(t, rid.RID(40), s)
	assert.Equal(t, rid.RID(50), p)
	assert.Equal(t, rid.RID(60), o)
}

func TestTruncateEmptiesList(t *testing.T) {
	tl, _ := newTList(t)
	require.NoError(t, tl.Append(1, 1, 1))
	require.NoError(t, tl.Append(2, 2, 2))
	assert.Equal(t, uint64(2), tl.Len())

	require.NoError(t, tl.Truncate())
	assert.Equal(t, uint64(0), tl.Len())

	require.NoError(t, tl.Append(9, 9, 9))
	assert.Equal(t, uint64(1), tl.Len())
}

func TestReopenPreservesTriples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "g.tlist")
	tl, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, tl.Append(1, 2, 3))
	require.NoError(t, tl.Close())

	tl2, err := Open(path, false)
	require.NoError(t, err)
	defer tl2.Close()
	assert.Equal(t, uint64(1), tl2.Len())
	s, p, o := tl2.Triple(0)
	assert.Equal(t, rid.RID(1), s)
	assert.Equal(t, rid.RID(2), p)
	assert.Equal(t, rid.RID(3), o)
}
