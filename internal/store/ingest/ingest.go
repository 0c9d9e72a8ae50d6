// Package ingest implements the commit-path algorithm of spec §4.9: sort
// the staged quads twice (subject-primary, object-primary), dedup, insert
// into the two ptrees per distinct predicate, then sort by graph and
// append into the per-graph tbchain or tlist.
//
// It depends only on the lower-level structures (ptable is reached
// through the ptree it's paired with), not on segment, so segment can
// import it without a cycle.
package ingest

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/mhash"
	"github.com/fourstore/fourstore/internal/store/ptree"
	"github.com/fourstore/fourstore/internal/store/tbchain"
	"github.com/fourstore/fourstore/internal/store/tlist"
)

// PtreeOpener fetches or lazily creates the (subject, object) ptree pair
// for a predicate, enforcing the segment's LRU cap (spec §4.8
// open_ptree).
type PtreeOpener func(pred rid.RID) (subject, object *ptree.Tree, err error)

// GraphFileOpener fetches or lazily creates the per-graph tlist used when
// a KB was created with model_files=true (spec §9 open question: both
// read paths must be supported, writes follow the creation-time flag).
type GraphFileOpener func(g rid.RID) (*tlist.TList, error)

// Deps bundles everything the commit algorithm touches.
type Deps struct {
	MHash        *mhash.Hash
	TBChain      *tbchain.Chain
	OpenPtree    PtreeOpener
	OpenGraph    GraphFileOpener
	ModelFiles   bool // KB creation-time flag: new graphs get a tlist, not a tbchain chain
	DefaultGraph rid.RID
}

// Commit runs the full in-memory ingest algorithm (spec §4.9 step 3/4)
// over a staged batch of quads. It mutates quads in place while sorting,
// so callers should pass an owned, non-aliased slice.
func Commit(deps Deps, quads []rid.Quad) error {
	if len(quads) == 0 {
		return nil
	}

	// Pass 1: subject-primary sort, dedup, insert into subject ptrees.
	sort.Slice(quads, func(i, j int) bool { return lessBySubject(quads[i], quads[j]) })
	skip := markDupes(quads, equalExact)
	if err := insertDirection(deps, quads, skip, rid.BySubject); err != nil {
		return err
	}

	// Pass 2: predicate+object-primary sort (skipping dupes found above),
	// insert into object ptrees.
	sort.Slice(quads, func(i, j int) bool { return lessByObject(quads[i], quads[j]) })
	// Recompute skip against the new order; the *set* of duplicate rows is
	// order-independent, so dedup again by value rather than trying to
	// permute the first skip vector.
	skip2 := markDupes(quads, equalExact)
	if err := insertDirection(deps, quads, skip2, rid.ByObject); err != nil {
		return err
	}

	// Pass 3: graph-primary sort, append to tbchain or tlist per mhash,
	// skipping the same duplicates as the two ptree passes.
	sort.Slice(quads, func(i, j int) bool {
		if quads[i].G != quads[j].G {
			return quads[i].G < quads[j].G
		}
		return lessBySubject(quads[i], quads[j])
	})
	skip3 := markDupes(quads, equalExact)
	unique := make([]rid.Quad, 0, len(quads))
	for i, q := range quads {
		if !skip3[i] {
			unique = append(unique, q)
		}
	}
	return insertGraphs(deps, unique)
}

func equalExact(a, b rid.Quad) bool { return a == b }

func lessBySubject(a, b rid.Quad) bool {
	if a.S != b.S {
		return a.S < b.S
	}
	if a.P != b.P {
		return a.P < b.P
	}
	if a.G != b.G {
		return a.G < b.G
	}
	return a.O < b.O
}

func lessByObject(a, b rid.Quad) bool {
	if a.P != b.P {
		return a.P < b.P
	}
	if a.O != b.O {
		return a.O < b.O
	}
	if a.G != b.G {
		return a.G < b.G
	}
	return a.S < b.S
}

// markDupes marks a quad equal to its immediate predecessor as skip
// (spec §4.9 "Dedup rule"), returning a parallel bool slice.
func markDupes(quads []rid.Quad, equal func(a, b rid.Quad) bool) []bool {
	skip := make([]bool, len(quads))
	for i := 1; i < len(quads); i++ {
		if equal(quads[i], quads[i-1]) {
			skip[i] = true
		}
	}
	return skip
}

func insertDirection(deps Deps, quads []rid.Quad, skip []bool, dir rid.Direction) error {
	var curPred rid.RID
	var subj, obj *ptree.Tree
	havePred := false
	for i, q := range quads {
		if skip[i] {
			continue
		}
		if !havePred || q.P != curPred {
			var err error
			subj, obj, err = deps.OpenPtree(q.P)
			if err != nil {
				return err
			}
			curPred = q.P
			havePred = true
		}
		if dir == rid.BySubject {
			if err := subj.Add(q.S, rid.Pair{q.G, q.O}, false); err != nil {
				return err
			}
		} else {
			if err := obj.Add(q.O, rid.Pair{q.G, q.S}, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertGraphs(deps Deps, quads []rid.Quad) error {
	var curGraph rid.RID
	have := false
	for _, q := range quads {
		if !have || q.G != curGraph {
			curGraph = q.G
			have = true
		}
		if err := appendGraphTriple(deps, curGraph, rid.Quad{S: q.S, P: q.P, O: q.O}); err != nil {
			return err
		}
	}
	return nil
}

func appendGraphTriple(deps Deps, g rid.RID, triple rid.Quad) error {
	v := deps.MHash.Get(g)
	switch {
	case v == 0 && deps.ModelFiles:
		tl, err := deps.OpenGraph(g)
		if err != nil {
			return err
		}
		if err := tl.Append(triple.S, triple.P, triple.O); err != nil {
			return err
		}
		return deps.MHash.Put(g, 1)

	case v == 1:
		tl, err := deps.OpenGraph(g)
		if err != nil {
			return err
		}
		return tl.Append(triple.S, triple.P, triple.O)

	default: // v >= 2, or v == 0 with chain-mode (model_files == false)
		head, err := deps.TBChain.AddTriple(uint32(v), triple)
		if err != nil {
			return err
		}
		if head != uint32(v) {
			return deps.MHash.Put(g, head)
		}
		return nil
	}
}

// PartitionByPredBucket groups quads into 16 buckets by (pred >> 40) & 0xF
// (spec §4.9 "16 on-disk pending lists"), for the overflowed-session path
// where quads were staged to disk rather than kept fully in memory.
func PartitionByPredBucket(quads []rid.Quad) [16][]rid.Quad {
	var buckets [16][]rid.Quad
	for _, q := range quads {
		b := (uint64(q.P) >> 40) & 0xF
		buckets[b] = append(buckets[b], q)
	}
	return buckets
}

// CommitPagedBuckets runs the paged variant of the algorithm (spec §4.9
// step 2): each of the 16 buckets is sorted by (pred,subject,graph,object)
// then walked with a "current predicate" cursor against the subject tree,
// then resorted by (pred,object,graph,subject) against the object tree.
// Unlike the in-memory path, dedup here is delegated to ptree.Add's
// force_dup parameter, since the data may span multiple commit sessions.
func CommitPagedBuckets(deps Deps, buckets [16][]rid.Quad) error {
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		sort.Slice(bucket, func(i, j int) bool { return lessBySubjectGraph(bucket[i], bucket[j]) })
		if err := insertDirectionForceDup(deps, bucket, rid.BySubject); err != nil {
			return err
		}
		sort.Slice(bucket, func(i, j int) bool { return lessByObjectGraph(bucket[i], bucket[j]) })
		if err := insertDirectionForceDup(deps, bucket, rid.ByObject); err != nil {
			return err
		}
	}
	var all []rid.Quad
	for _, b := range buckets {
		all = append(all, b...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].G < all[j].G })
	return insertGraphs(deps, all)
}

func lessBySubjectGraph(a, b rid.Quad) bool {
	if a.P != b.P {
		return a.P < b.P
	}
	return lessBySubject(a, b)
}
func lessByObjectGraph(a, b rid.Quad) bool {
	if a.P != b.P {
		return a.P < b.P
	}
	return lessByObject(a, b)
}

func insertDirectionForceDup(deps Deps, quads []rid.Quad, dir rid.Direction) error {
	var curPred rid.RID
	var subj, obj *ptree.Tree
	havePred := false
	for _, q := range quads {
		if !havePred || q.P != curPred {
			var err error
			subj, obj, err = deps.OpenPtree(q.P)
			if err != nil {
				return err
			}
			curPred = q.P
			havePred = true
		}
		if dir == rid.BySubject {
			if err := subj.Add(q.S, rid.Pair{q.G, q.O}, true); err != nil {
				return err
			}
		} else {
			if err := obj.Add(q.O, rid.Pair{q.G, q.S}, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// ModelsTouched returns the distinct set of graph RIDs present in quads,
// used by callers that need to mark affected tbchains (spec §4.11).
func ModelsTouched(quads []rid.Quad) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, q := range quads {
		bm.Add(uint64(q.G))
	}
	return bm
}
