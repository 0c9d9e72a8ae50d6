package ptree

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/ptable"
)

func newTree(t *testing.T) *Tree {
	t.Helper()
	pt, err := ptable.Create(filepath.Join(t.TempDir(), "shared.ptable"))
	require.NoError(t, err)
	t.Cleanup(func() { pt.Close() })

	tree, err := Create(filepath.Join(t.TempDir(), "t"), pt)
	require.NoError(t, err)
	t.Cleanup(func() { tree.Close() })
	return tree
}

func collectSearch(tree *Tree, pk rid.RID, pattern rid.Pair) []rid.Pair {
	var out []rid.Pair
	for p := range tree.Search(pk, pattern) {
		out = append(out, p)
	}
	return out
}

func TestAddAndSearchSinglePK(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(rid.RID(100), rid.Pair{1, 2}, false))
	require.NoError(t, tree.Add(rid.RID(100), rid.Pair{3, 4}, false))

	got := collectSearch(tree, rid.RID(100), rid.Pair{rid.NULL, rid.NULL})
	assert.ElementsMatch(t, []rid.Pair{{1, 2}, {3, 4}}, got)
}

func TestSearchMissingPKYieldsNothing(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(rid.RID(1), rid.Pair{1, 1}, false))

	got := collectSearch(tree, rid.RID(999), rid.Pair{rid.NULL, rid.NULL})
	assert.Empty(t, got)
}

func TestAddManyDistinctPKsAndCount(t *testing.T) {
	tree := newTree(t)
	for i := rid.RID(1); i <= 50; i++ {
		require.NoError(t, tree.Add(i, rid.Pair{i, i * 2}, false))
	}
	assert.Equal(t, uint64(50), tree.Count())

	for i := rid.RID(1); i <= 50; i++ {
		got := collectSearch(tree, i, rid.Pair{rid.NULL, rid.NULL})
		assert.Equal(t, []rid.Pair{{i, i * 2}}, got)
	}
}

func TestForceDupSkipsIdenticalPair(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(rid.RID(5), rid.Pair{1, 1}, true))
	require.NoError(t, tree.Add(rid.RID(5), rid.Pair{1, 1}, true))

	got := collectSearch(tree, rid.RID(5), rid.Pair{rid.NULL, rid.NULL})
	assert.Len(t, got, 1)
}

func TestTraverseVisitsEveryPair(t *testing.T) {
	tree := newTree(t)
	want := map[rid.RID]rid.Pair{}
	for i := rid.RID(1); i <= 20; i++ {
		p := rid.Pair{i, i + 1}
		want[i] = p
		require.NoError(t, tree.Add(i, p, false))
	}

	got := map[rid.RID]rid.Pair{}
	for pk, p := range tree.Traverse(false, rid.NULL) {
		got[pk] = p
	}
	assert.Equal(t, want, got)
}

func TestTraverseFiltersByGraph(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(1, rid.Pair{100, 1}, false))
	require.NoError(t, tree.Add(2, rid.Pair{200, 2}, false))
	require.NoError(t, tree.Add(3, rid.Pair{100, 3}, false))

	var pks []rid.RID
	for pk := range tree.Traverse(true, rid.RID(100)) {
		pks = append(pks, pk)
	}
	assert.ElementsMatch(t, []rid.RID{1, 3}, pks)
}

func TestRemoveShrinksChainAndCollapsesLeaf(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(1, rid.Pair{1, 1}, false))
	require.NoError(t, tree.Add(1, rid.Pair{2, 2}, false))

	removed, err := tree.Remove(1, rid.Pair{1, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	got := collectSearch(tree, 1, rid.Pair{rid.NULL, rid.NULL})
	assert.Equal(t, []rid.Pair{{2, 2}}, got)

	removed, err = tree.Remove(1, rid.Pair{2, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, collectSearch(tree, 1, rid.Pair{rid.NULL, rid.NULL}))
	assert.Equal(t, uint64(0), tree.Count())
}

func TestRemoveAllSweepsMatchingPairsWithoutRecordingBoundGraph(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(1, rid.Pair{10, 1}, false))
	require.NoError(t, tree.Add(2, rid.Pair{20, 2}, false))
	require.NoError(t, tree.Add(3, rid.Pair{10, 3}, false))

	models := roaring64.New()
	anyDeleted, err := tree.RemoveAll(rid.Pair{10, rid.NULL}, models)
	require.NoError(t, err)
	assert.True(t, anyDeleted)
	assert.False(t, models.Contains(10))
	assert.False(t, models.Contains(20))

	assert.Empty(t, collectSearch(tree, 1, rid.Pair{rid.NULL, rid.NULL}))
	assert.Empty(t, collectSearch(tree, 3, rid.Pair{rid.NULL, rid.NULL}))
	assert.NotEmpty(t, collectSearch(tree, 2, rid.Pair{rid.NULL, rid.NULL}))
}

func TestCheckConsistencyPassesAfterMutation(t *testing.T) {
	tree := newTree(t)
	for i := rid.RID(1); i <= 30; i++ {
		require.NoError(t, tree.Add(i, rid.Pair{i, i}, false))
		require.NoError(t, tree.Add(i, rid.Pair{i + 1, i}, false))
	}
	_, err := tree.Remove(5, rid.Pair{6, 5}, nil)
	require.NoError(t, err)
	assert.NoError(t, tree.CheckConsistency())
}

func TestReachableRowsMatchesLiveChains(t *testing.T) {
	tree := newTree(t)
	require.NoError(t, tree.Add(1, rid.Pair{1, 1}, false))
	require.NoError(t, tree.Add(1, rid.Pair{2, 2}, false))
	require.NoError(t, tree.Add(2, rid.Pair{3, 3}, false))

	reachable := tree.ReachableRows()
	assert.Len(t, reachable, 3)
}

func TestOpenRejectsMismatchedPtable(t *testing.T) {
	dir := t.TempDir()
	pt1, err := ptable.Create(filepath.Join(dir, "a.ptable"))
	require.NoError(t, err)
	defer pt1.Close()

	base := filepath.Join(dir, "tree")
	tree, err := Create(base, pt1)
	require.NoError(t, err)
	require.NoError(t, tree.Close())

	pt2, err := ptable.Create(filepath.Join(dir, "b.ptable"))
	require.NoError(t, err)
	defer pt2.Close()

	_, err = Open(base, pt2, false)
	require.Error(t, err)
}
