// Package purge implements graph deletion (spec §4.11): wiping an entire
// segment, dropping one or more whole graphs, and removing individual
// quads from a graph, while keeping the subject/object ptrees and the
// graph storage (tbchain or tlist) consistent.
package purge

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/mhash"
	"github.com/fourstore/fourstore/internal/store/ptree"
	"github.com/fourstore/fourstore/internal/store/tbchain"
	"github.com/fourstore/fourstore/internal/store/tlist"
)

// fastPathRatio and fastPathMaxTriples gate the single-graph fast path
// (spec §4.11): a lone graph takes deleteSingleGraphFastPath only when its
// tbchain holds at most fastPathMaxTriples triples or less than
// fastPathRatio of the segment. Both that path and the general path sweep
// every open ptree with a (g, NULL) pattern; neither walks the graph's own
// triple list.
const (
	fastPathRatio       = 0.01
	fastPathMaxTriples  = 100
)

// Deps bundles the structures a deletion touches.
type Deps struct {
	MHash       *mhash.Hash
	TBChain     *tbchain.Chain
	PredicateList func(yield func(rid.RID) bool)
	OpenPtree   func(pred rid.RID) (subject, object *ptree.Tree, ok bool)
	OpenGraph   func(g rid.RID) (*tlist.TList, bool, error) // bool: whether a graph file exists for g
	SegmentSize uint64                                       // total quad count, for the fast-path ratio check
}

// WipeAll removes every quad in the segment by sweeping every open ptree
// (spec §4.11 "wipe-all"), then resets mhash to empty and every tbchain
// head to reclaimed.
func WipeAll(deps Deps) error {
	var err error
	deps.PredicateList(func(p rid.RID) bool {
		subj, obj, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		if _, e := subj.RemoveAll(rid.Pair{rid.NULL, rid.NULL}, nil); e != nil {
			err = e
			return false
		}
		if _, e := obj.RemoveAll(rid.Pair{rid.NULL, rid.NULL}, nil); e != nil {
			err = e
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	for g := range deps.MHash.Keys() {
		if err := deleteGraphStorage(deps, g); err != nil {
			return err
		}
	}
	return nil
}

// DeleteModels drops every graph named in graphs (spec §4.11). It chooses
// the single-graph fast path when len(graphs) == 1 and that graph is
// small relative to the segment, else runs the general sweep over every
// ptree. Returns the set of graphs actually touched (for wire-level
// NEW_MODELS bookkeeping), which is empty when none of the named graphs
// existed.
func DeleteModels(deps Deps, graphs []rid.RID) (*roaring64.Bitmap, error) {
	touched := roaring64.New()
	if len(graphs) == 1 {
		g := graphs[0]
		v := deps.MHash.Get(g)
		if v == 0 {
			return touched, nil
		}
		if isSmallGraph(deps, v) {
			if err := deleteSingleGraphFastPath(deps, g); err != nil {
				return nil, err
			}
			touched.Add(uint64(g))
			return touched, nil
		}
	}

	want := map[rid.RID]bool{}
	for _, g := range graphs {
		if deps.MHash.Get(g) != 0 {
			want[g] = true
		}
	}
	if len(want) == 0 {
		return touched, nil
	}

	var err error
	deps.PredicateList(func(p rid.RID) bool {
		subj, obj, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		for g := range want {
			pattern := rid.Pair{g, rid.NULL}
			anyDel, e := subj.RemoveAll(pattern, nil)
			if e != nil {
				err = e
				return false
			}
			if !anyDel {
				// Nothing for g under this predicate's subject tree, so
				// the object tree holds nothing for it either.
				continue
			}
			touched.Add(uint64(g))
			if _, e := obj.RemoveAll(pattern, nil); e != nil {
				err = e
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	for g := range want {
		if err := deleteGraphStorage(deps, g); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

// DeleteQuads removes a specific set of quads from their graph (spec
// §4.11 "delete_quads", the granular form used by SPARQL Update). Each
// quad's predicate ptree pair is swept for exactly that (subject,object)
// under that graph; the owning graph's tbchain is marked SUPERSET so
// stale-triple verification kicks in on next read rather than requiring
// an immediate rewrite of its block chain.
func DeleteQuads(deps Deps, quads []rid.Quad) (*roaring64.Bitmap, error) {
	touched := roaring64.New()
	byPred := map[rid.RID][]rid.Quad{}
	for _, q := range quads {
		byPred[q.P] = append(byPred[q.P], q)
	}
	for p, qs := range byPred {
		subj, obj, ok := deps.OpenPtree(p)
		if !ok {
			continue
		}
		for _, q := range qs {
			pattern := rid.Pair{q.G, q.O}
			n, err := subj.Remove(q.S, pattern, nil)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				continue
			}
			touched.Add(uint64(q.G))
			if _, err := obj.Remove(q.O, rid.Pair{q.G, q.S}, nil); err != nil {
				return nil, err
			}
		}
	}
	it := touched.Iterator()
	for it.HasNext() {
		g := rid.RID(it.Next())
		if head := deps.MHash.Get(g); head >= 2 {
			deps.TBChain.SetBit(head, tbchain.Superset)
		}
	}
	return touched, nil
}

// isSmallGraph applies the fast-path ratio/absolute-count gate against a
// graph's tbchain length (spec §4.11). A graph stored in its own tlist
// (value 1) always qualifies, since it owns no shared ptree rows to
// sweep from other graphs' perspective.
func isSmallGraph(deps Deps, value uint32) bool {
	if value == 1 {
		return true
	}
	if value == 0 {
		return true
	}
	n := uint64(deps.TBChain.Length(value))
	if n <= fastPathMaxTriples {
		return true
	}
	if deps.SegmentSize == 0 {
		return false
	}
	return float64(n)/float64(deps.SegmentSize) < fastPathRatio
}

// deleteSingleGraphFastPath sweeps every open ptree for exactly g, the
// same mechanism as the general path restricted to one graph; "fast" here
// means the caller has already established the sweep is cheap relative
// to the segment (spec §4.11).
func deleteSingleGraphFastPath(deps Deps, g rid.RID) error {
	var err error
	deps.PredicateList(func(p rid.RID) bool {
		subj, obj, ok := deps.OpenPtree(p)
		if !ok {
			return true
		}
		pattern := rid.Pair{g, rid.NULL}
		if _, e := subj.RemoveAll(pattern, nil); e != nil {
			err = e
			return false
		}
		if _, e := obj.RemoveAll(pattern, nil); e != nil {
			err = e
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return deleteGraphStorage(deps, g)
}

// deleteGraphStorage reclaims whatever backs g's triples (a tbchain or a
// tlist file) and clears its mhash entry.
func deleteGraphStorage(deps Deps, g rid.RID) error {
	v := deps.MHash.Get(g)
	switch {
	case v == 1:
		tl, ok, err := deps.OpenGraph(g)
		if err != nil {
			return err
		}
		if ok {
			if err := tl.Truncate(); err != nil {
				return err
			}
		}
	case v >= 2:
		deps.TBChain.RemoveChain(v)
	}
	deps.MHash.Delete(g)
	return nil
}
