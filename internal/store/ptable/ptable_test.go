package ptable

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	tb, err := Create(filepath.Join(t.TempDir(), "t.ptable"))
	require.NoError(t, err)
	t.Cleanup(func() { tb.Close() })
	return tb
}

func TestAddPairBuildsChainInPrependOrder(t *testing.T) {
	tb := newTable(t)

	head, err := tb.AddPair(0, rid.Pair{1, 1})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{2, 2})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{3, 3})
	require.NoError(t, err)

	var got []rid.Pair
	for p := range tb.Iter(head) {
		got = append(got, p)
	}
	assert.Equal(t, []rid.Pair{{3, 3}, {2, 2}, {1, 1}}, got)
}

func TestPairExists(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{1, 2})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{3, 4})
	require.NoError(t, err)

	assert.True(t, tb.PairExists(head, rid.Pair{1, 2}))
	assert.True(t, tb.PairExists(head, rid.Pair{3, 4}))
	assert.False(t, tb.PairExists(head, rid.Pair{5, 6}))
}

func TestRemovePairFiltersAndKeepsOrder(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{1, 1})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{2, 2})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{1, 3})
	require.NoError(t, err)

	newHead, removed := tb.RemovePair(head, rid.Pair{1, rid.NULL}, nil)
	assert.Equal(t, 2, removed)

	var got []rid.Pair
	for p := range tb.Iter(newHead) {
		got = append(got, p)
	}
	assert.Equal(t, []rid.Pair{{2, 2}}, got)
}

func TestRemovePairRecordsGraphsWhenWildcard(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{10, 1})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{20, 2})
	require.NoError(t, err)

	models := roaring64.New()
	_, removed := tb.RemovePair(head, rid.Pair{rid.NULL, rid.NULL}, models)
	assert.Equal(t, 2, removed)
	assert.True(t, models.Contains(10))
	assert.True(t, models.Contains(20))
}

func TestChainLengthDetectsOverBound(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{1, 1})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{2, 2})
	require.NoError(t, err)
	head, err = tb.AddPair(head, rid.Pair{3, 3})
	require.NoError(t, err)

	n, err := tb.ChainLength(head, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	_, err = tb.ChainLength(head, 2)
	require.Error(t, err)
}

func TestRemovedRowsAreReusedFromFreeList(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{1, 1})
	require.NoError(t, err)
	before := tb.Length()

	newHead, removed := tb.RemovePair(head, rid.Pair{1, 1}, nil)
	assert.Equal(t, 1, removed)
	assert.Equal(t, RowID(0), newHead)
	assert.Equal(t, uint32(1), tb.FreeLength())

	_, err = tb.AddPair(0, rid.Pair{9, 9})
	require.NoError(t, err)
	assert.Equal(t, before, tb.Length(), "reused row must not grow the table")
}

func TestFingerprintStableForSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.ptable")
	tb, err := Create(path)
	require.NoError(t, err)
	fp := tb.Fingerprint()
	require.NoError(t, tb.Close())

	tb2, err := Open(path, false)
	require.NoError(t, err)
	defer tb2.Close()
	assert.Equal(t, fp, tb2.Fingerprint())
}

func TestCheckLeaksReclaimsUnreachableRows(t *testing.T) {
	tb := newTable(t)
	head, err := tb.AddPair(0, rid.Pair{1, 1})
	require.NoError(t, err)
	_, err = tb.AddPair(0, rid.Pair{2, 2}) // orphaned: never linked into `head`'s chain
	require.NoError(t, err)

	reachable := map[RowID]bool{head: true}
	leaks := tb.CheckLeaks(reachable)
	assert.Equal(t, 1, leaks)
}
