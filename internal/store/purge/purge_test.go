package purge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/mhash"
	"github.com/fourstore/fourstore/internal/store/ptable"
	"github.com/fourstore/fourstore/internal/store/ptree"
	"github.com/fourstore/fourstore/internal/store/tbchain"
	"github.com/fourstore/fourstore/internal/store/tlist"
)

type harness struct {
	dir    string
	pt     *ptable.Table
	mh     *mhash.Hash
	tb     *tbchain.Chain
	trees  map[rid.RID][2]*ptree.Tree
	order  []rid.RID
	graphs map[rid.RID]*tlist.TList
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	pt, err := ptable.Create(filepath.Join(dir, "p.ptable"))
	require.NoError(t, err)
	mh, err := mhash.Create(filepath.Join(dir, "m.mhash"))
	require.NoError(t, err)
	tb, err := tbchain.Create(filepath.Join(dir, "t.tbchain"))
	require.NoError(t, err)
	h := &harness{
		dir: dir, pt: pt, mh: mh, tb: tb,
		trees:  make(map[rid.RID][2]*ptree.Tree),
		graphs: make(map[rid.RID]*tlist.TList),
	}
	t.Cleanup(func() {
		for _, pair := range h.trees {
			pair[0].Close()
			pair[1].Close()
		}
		for _, tl := range h.graphs {
			tl.Close()
		}
		mh.Close()
		tb.Close()
		pt.Close()
	})
	return h
}

func (h *harness) tree(t *testing.T, pred rid.RID) (*ptree.Tree, *ptree.Tree) {
	t.Helper()
	if pair, ok := h.trees[pred]; ok {
		return pair[0], pair[1]
	}
	base := filepath.Join(t.TempDir(), "pred")
	subj, err := ptree.Create(base+"-s", h.pt)
	require.NoError(t, err)
	obj, err := ptree.Create(base+"-o", h.pt)
	require.NoError(t, err)
	h.trees[pred] = [2]*ptree.Tree{subj, obj}
	h.order = append(h.order, pred)
	return subj, obj
}

// addQuadChainMode inserts q into its predicate's ptrees and registers its
// graph in a tbchain (mimicking ingest.Commit's chain-mode path).
func (h *harness) addQuadChainMode(t *testing.T, q rid.Quad) {
	t.Helper()
	subj, obj := h.tree(t, q.P)
	require.NoError(t, subj.Add(q.S, rid.Pair{q.G, q.O}, false))
	require.NoError(t, obj.Add(q.O, rid.Pair{q.G, q.S}, false))

	head := h.mh.Get(q.G)
	newHead, err := h.tb.AddTriple(head, rid.Quad{S: q.S, P: q.P, O: q.O})
	require.NoError(t, err)
	if newHead != head {
		require.NoError(t, h.mh.Put(q.G, newHead))
	}
}

// addQuadFileMode inserts q and registers its graph as tlist-backed
// (mhash value 1).
func (h *harness) addQuadFileMode(t *testing.T, q rid.Quad) {
	t.Helper()
	subj, obj := h.tree(t, q.P)
	require.NoError(t, subj.Add(q.S, rid.Pair{q.G, q.O}, false))
	require.NoError(t, obj.Add(q.O, rid.Pair{q.G, q.S}, false))

	if h.mh.Get(q.G) == 0 {
		require.NoError(t, h.mh.Put(q.G, 1))
	}
	tl, _, err := h.openGraph(q.G)
	require.NoError(t, err)
	require.NoError(t, tl.Append(q.S, q.P, q.O))
}

func (h *harness) openPtree(pred rid.RID) (*ptree.Tree, *ptree.Tree, bool) {
	pair, ok := h.trees[pred]
	if !ok {
		return nil, nil, false
	}
	return pair[0], pair[1], true
}

func (h *harness) openGraph(g rid.RID) (*tlist.TList, bool, error) {
	if tl, ok := h.graphs[g]; ok {
		return tl, true, nil
	}
	tl, err := tlist.Create(filepath.Join(h.dir, "g.tlist"))
	if err != nil {
		return nil, false, err
	}
	h.graphs[g] = tl
	return tl, true, nil
}

func (h *harness) predicateList(yield func(rid.RID) bool) {
	for _, p := range h.order {
		if !yield(p) {
			return
		}
	}
}

func (h *harness) deps(segmentSize uint64) Deps {
	return Deps{
		MHash:         h.mh,
		TBChain:       h.tb,
		PredicateList: h.predicateList,
		OpenPtree:     h.openPtree,
		OpenGraph:     h.openGraph,
		SegmentSize:   segmentSize,
	}
}

func subjectPairs(tr *ptree.Tree, pk rid.RID) []rid.Pair {
	var out []rid.Pair
	for p := range tr.Search(pk, rid.Pair{rid.NULL, rid.NULL}) {
		out = append(out, p)
	}
	return out
}

func TestWipeAllClearsEveryPtreeAndMHash(t *testing.T) {
	h := newHarness(t)
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 20})
	h.addQuadChainMode(t, rid.Quad{G: 2, S: 11, P: 3, O: 21})

	require.NoError(t, WipeAll(h.deps(0)))

	subj, _ := h.tree(t, 2)
	assert.Empty(t, subjectPairs(subj, 10))
	assert.Zero(t, h.mh.Get(1))
	assert.Zero(t, h.mh.Get(2))
}

func TestDeleteModelsFastPathRemovesOnlyNamedGraph(t *testing.T) {
	h := newHarness(t)
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 20})
	h.addQuadChainMode(t, rid.Quad{G: 2, S: 11, P: 2, O: 21})

	touched, err := DeleteModels(h.deps(1000), []rid.RID{1})
	require.NoError(t, err)
	assert.True(t, touched.Contains(1))
	assert.False(t, touched.Contains(2))

	subj, _ := h.tree(t, 2)
	assert.Empty(t, subjectPairs(subj, 10))
	assert.Equal(t, []rid.Pair{{2, 21}}, subjectPairs(subj, 11))
	assert.Zero(t, h.mh.Get(1))
	assert.NotZero(t, h.mh.Get(2))
}

func TestDeleteModelsUnknownGraphIsNoop(t *testing.T) {
	h := newHarness(t)
	touched, err := DeleteModels(h.deps(0), []rid.RID{99})
	require.NoError(t, err)
	assert.True(t, touched.IsEmpty())
}

func TestDeleteModelsGeneralSweepOverMultipleGraphs(t *testing.T) {
	h := newHarness(t)
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 20})
	h.addQuadChainMode(t, rid.Quad{G: 2, S: 11, P: 2, O: 21})
	h.addQuadChainMode(t, rid.Quad{G: 3, S: 12, P: 2, O: 22})

	touched, err := DeleteModels(h.deps(0), []rid.RID{1, 2})
	require.NoError(t, err)
	assert.True(t, touched.Contains(1))
	assert.True(t, touched.Contains(2))
	assert.False(t, touched.Contains(3))

	subj, _ := h.tree(t, 2)
	assert.Empty(t, subjectPairs(subj, 10))
	assert.Empty(t, subjectPairs(subj, 11))
	assert.Equal(t, []rid.Pair{{3, 22}}, subjectPairs(subj, 12))
}

func TestDeleteModelsFileBackedGraphTruncatesTList(t *testing.T) {
	h := newHarness(t)
	h.addQuadFileMode(t, rid.Quad{G: 7, S: 10, P: 2, O: 20})

	touched, err := DeleteModels(h.deps(0), []rid.RID{7})
	require.NoError(t, err)
	assert.True(t, touched.Contains(7))

	tl, _, err := h.openGraph(7)
	require.NoError(t, err)
	assert.Zero(t, tl.Len())
	assert.Zero(t, h.mh.Get(7))
}

func TestDeleteQuadsRemovesExactTripleAndMarksSuperset(t *testing.T) {
	h := newHarness(t)
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 20})
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 30})

	touched, err := DeleteQuads(h.deps(0), []rid.Quad{{G: 1, S: 10, P: 2, O: 20}})
	require.NoError(t, err)
	assert.True(t, touched.Contains(1))

	subj, _ := h.tree(t, 2)
	assert.Equal(t, []rid.Pair{{1, 30}}, subjectPairs(subj, 10))

	head := h.mh.Get(1)
	require.NotZero(t, head)
	assert.True(t, h.tb.GetBit(head, tbchain.Superset))
}

func TestDeleteQuadsNoopWhenTripleAbsent(t *testing.T) {
	h := newHarness(t)
	h.addQuadChainMode(t, rid.Quad{G: 1, S: 10, P: 2, O: 20})

	touched, err := DeleteQuads(h.deps(0), []rid.Quad{{G: 1, S: 10, P: 2, O: 999}})
	require.NoError(t, err)
	assert.True(t, touched.IsEmpty())
}
