// Package ptree implements the predicate tree (spec §4.3): a radix trie
// over a 64-bit key (subject RID in the subject-direction tree, object RID
// in the object-direction tree), 4-way branching on 2 bits per level, with
// leaves pointing into a shared ptable chain.
//
// One ptree exists per (predicate, direction); the pair of trees for a
// predicate share the same underlying ptable (spec §3).
package ptree

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
	"github.com/fourstore/fourstore/internal/store/ptable"
)

// Magic "JXP1" per spec §6.3.
var Magic = [4]byte{'J', 'X', 'P', '1'}

const Revision = 1

// nodeBlockSize: 4 children, 4 bytes each.
const nodeBlockSize = 16

// leafBlockSize: pk(8) + chain_head(4) + length(4).
const leafBlockSize = 16

const (
	leafOffPK     = 0
	leafOffChain  = 8
	leafOffLength = 12
)

// tagBit marks a child reference as pointing into the interior-node array
// rather than the leaf array (spec §4.3 "MSB=1 denotes interior").
const tagBit = uint32(1) << 31

func isInterior(ref uint32) bool { return ref&tagBit != 0 }
func idOf(ref uint32) uint32     { return ref &^ tagBit }
func interiorRef(id uint32) uint32 { return id | tagBit }
func leafRef(id uint32) uint32     { return id &^ tagBit }

// rootInteriorID is the fixed sentinel interior node: block 1 of the node
// array, allocated at Create time (spec §4.3 "root is a fixed sentinel").
const rootInteriorID = uint32(1)

// Tree is one predicate-direction tree. Two parallel paged files back it:
// one arena of 4-way branch nodes, one arena of leaves. This is a
// deliberate split from the spec's "two arrays in one file" wording (see
// DESIGN.md) — operationally equivalent since both still grow by doubling
// and share no cross-file invariants beyond the tagged-id scheme.
type Tree struct {
	nodes *pagedfile.File
	leaves *pagedfile.File
	pt    *ptable.Table // chains referenced from leaves live here
}

// Create makes a new, empty ptree at the given base path (two files:
// base+".nodes", base+".leaves"), rooted over pt.
func Create(basePath string, pt *ptable.Table) (*Tree, error) {
	nodes, err := pagedfile.Create(basePath+".nodes", pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: nodeBlockSize, InitialCap: 64,
	})
	if err != nil {
		return nil, err
	}
	leaves, err := pagedfile.Create(basePath+".leaves", pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: leafBlockSize, InitialCap: 64,
	})
	if err != nil {
		nodes.Close()
		return nil, err
	}
	t := &Tree{nodes: nodes, leaves: leaves, pt: pt}
	nodes.SetExtraUint64(pt.Fingerprint())
	// Block 1 of the node array is the root sentinel, all-NULL children.
	if _, err := t.nodes.Alloc(func(uint32) uint32 { return 0 }); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Open opens an existing ptree over pt. Reopening a ptree that references
// a different ptable than the one supplied is a fatal open error (spec
// §4.3).
func Open(basePath string, pt *ptable.Table, readOnly bool) (*Tree, error) {
	nodes, err := pagedfile.Open(basePath+".nodes", pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: nodeBlockSize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	leaves, err := pagedfile.Open(basePath+".leaves", pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: leafBlockSize, ReadOnly: readOnly,
	})
	if err != nil {
		nodes.Close()
		return nil, err
	}
	if want := pt.Fingerprint(); nodes.ExtraUint64() != want {
		nodes.Close()
		leaves.Close()
		return nil, ferror.New(ferror.KindCorruption, "ptree %s: references a different ptable than the one supplied", basePath)
	}
	return &Tree{nodes: nodes, leaves: leaves, pt: pt}, nil
}

func (t *Tree) Close() error {
	e1 := t.nodes.Close()
	e2 := t.leaves.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

func (t *Tree) Sync() error {
	if err := t.nodes.Sync(); err != nil {
		return err
	}
	return t.leaves.Sync()
}

// --- node array accessors ---

func (t *Tree) child(nodeID uint32, branch int) uint32 {
	b := t.nodes.Block(nodeID)
	return binary.LittleEndian.Uint32(b[branch*4:])
}

func (t *Tree) setChild(nodeID uint32, branch int, ref uint32) {
	b := t.nodes.Block(nodeID)
	binary.LittleEndian.PutUint32(b[branch*4:], ref)
}

func (t *Tree) newInterior() (uint32, error) {
	id, err := t.nodes.Alloc(func(freeHead uint32) uint32 { return t.child(freeHead, 0) })
	if err != nil {
		return 0, err
	}
	for i := 0; i < 4; i++ {
		t.setChild(id, i, 0)
	}
	return id, nil
}

func (t *Tree) freeInterior(id uint32) {
	t.nodes.Free(id, func(id, prevHead uint32) { t.setChild(id, 0, prevHead) })
}

// --- leaf array accessors ---

func (t *Tree) leafPK(leafID uint32) rid.RID {
	b := t.leaves.Block(leafID)
	return rid.RID(binary.LittleEndian.Uint64(b[leafOffPK:]))
}
func (t *Tree) setLeafPK(leafID uint32, pk rid.RID) {
	b := t.leaves.Block(leafID)
	binary.LittleEndian.PutUint64(b[leafOffPK:], uint64(pk))
}
func (t *Tree) leafChain(leafID uint32) ptable.RowID {
	b := t.leaves.Block(leafID)
	return binary.LittleEndian.Uint32(b[leafOffChain:])
}
func (t *Tree) setLeafChain(leafID uint32, head ptable.RowID) {
	b := t.leaves.Block(leafID)
	binary.LittleEndian.PutUint32(b[leafOffChain:], head)
}
func (t *Tree) leafLength(leafID uint32) uint32 {
	b := t.leaves.Block(leafID)
	return binary.LittleEndian.Uint32(b[leafOffLength:])
}
func (t *Tree) setLeafLength(leafID uint32, n uint32) {
	b := t.leaves.Block(leafID)
	binary.LittleEndian.PutUint32(b[leafOffLength:], n)
}

func (t *Tree) newLeaf(pk rid.RID) (uint32, error) {
	id, err := t.leaves.Alloc(func(freeHead uint32) uint32 { return t.leafChain(freeHead) })
	if err != nil {
		return 0, err
	}
	t.setLeafPK(id, pk)
	t.setLeafChain(id, 0)
	t.setLeafLength(id, 0)
	return id, nil
}

func (t *Tree) freeLeaf(id uint32) {
	t.leaves.Free(id, func(id, prevHead uint32) { t.setLeafChain(id, prevHead) })
}

// branch returns the 2-bit branch index at level (0 = high end of pk).
func branch(pk rid.RID, level int) int {
	shift := 62 - 2*level
	if shift < 0 {
		shift = 0
	}
	return int((uint64(pk) >> uint(shift)) & 0x3)
}

// Add descends from the root, splitting as needed, and appends pair to the
// leaf's chain for pk. When forceDup is false, the caller has already
// deduped (spec §4.9); Add never itself checks for duplicates unless
// forceDup is true, in which case it skips appending an identical pair.
func (t *Tree) Add(pk rid.RID, pair rid.Pair, forceDup bool) error {
	nodeID := rootInteriorID
	level := 0
	for {
		b := branch(pk, level)
		ref := t.child(nodeID, b)
		switch {
		case ref == 0 && nodeID == rootInteriorID:
			// Empty slot under the root: route through one new interior
			// node, so no leaf hangs directly off the root and every leaf
			// sits at depth >= 2.
			newInteriorID, err := t.newInterior()
			if err != nil {
				return err
			}
			t.setChild(nodeID, b, interiorRef(newInteriorID))
			nodeID = newInteriorID
			level++
			continue

		case ref == 0:
			// Empty slot below the root: plant a leaf directly.
			leafID, err := t.newLeaf(pk)
			if err != nil {
				return err
			}
			if !forceDup || !t.pt.PairExists(0, pair) {
				head, err := t.pt.AddPair(0, pair)
				if err != nil {
					return err
				}
				t.setLeafChain(leafID, head)
				t.setLeafLength(leafID, 1)
			}
			t.setChild(nodeID, b, leafRef(leafID))
			return nil

		case !isInterior(ref):
			leafID := idOf(ref)
			existingPK := t.leafPK(leafID)
			if existingPK == pk {
				if forceDup && t.pt.PairExists(t.leafChain(leafID), pair) {
					return nil
				}
				head, err := t.pt.AddPair(t.leafChain(leafID), pair)
				if err != nil {
					return err
				}
				t.setLeafChain(leafID, head)
				t.setLeafLength(leafID, t.leafLength(leafID)+1)
				return nil
			}
			// Split: insert exactly one new interior node on the shared
			// prefix path (spec §4.3 edge rule).
			newInteriorID, err := t.newInterior()
			if err != nil {
				return err
			}
			existingBranch := branch(existingPK, level+1)
			t.setChild(newInteriorID, existingBranch, leafRef(leafID))
			t.setChild(nodeID, b, interiorRef(newInteriorID))
			nodeID = newInteriorID
			level++
			continue

		default:
			nodeID = idOf(ref)
			level++
		}
	}
}

// Search returns a lazy stream of pairs in the chain at the leaf for pk
// that match pattern (NULL wildcards either slot).
func (t *Tree) Search(pk rid.RID, pattern rid.Pair) func(yield func(rid.Pair) bool) {
	return func(yield func(rid.Pair) bool) {
		leafID, ok := t.findLeaf(pk)
		if !ok {
			return
		}
		for p := range t.pt.Iter(t.leafChain(leafID)) {
			if !patMatch(p, pattern) {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

func patMatch(got, pattern rid.Pair) bool {
	if pattern[0] != rid.NULL && got[0] != pattern[0] {
		return false
	}
	if pattern[1] != rid.NULL && got[1] != pattern[1] {
		return false
	}
	return true
}

func (t *Tree) findLeaf(pk rid.RID) (uint32, bool) {
	nodeID := rootInteriorID
	level := 0
	for {
		b := branch(pk, level)
		ref := t.child(nodeID, b)
		if ref == 0 {
			return 0, false
		}
		if !isInterior(ref) {
			leafID := idOf(ref)
			if t.leafPK(leafID) == pk {
				return leafID, true
			}
			return 0, false
		}
		nodeID = idOf(ref)
		level++
	}
}

// Count returns the total number of rows (pairs) across every leaf.
func (t *Tree) Count() uint64 {
	var n uint64
	t.walk(rootInteriorID, 0, func(leafID uint32, pk rid.RID) {
		n += uint64(t.leafLength(leafID))
	})
	return n
}

// Traverse enumerates every (pk, pair) in the tree, optionally filtering
// pairs whose graph slot (position 0) equals graphFilter when filter is
// true.
func (t *Tree) Traverse(filter bool, graphFilter rid.RID) func(yield func(rid.RID, rid.Pair) bool) {
	return func(yield func(rid.RID, rid.Pair) bool) {
		stop := false
		t.walk(rootInteriorID, 0, func(leafID uint32, pk rid.RID) {
			if stop {
				return
			}
			for p := range t.pt.Iter(t.leafChain(leafID)) {
				if filter && p[0] != graphFilter {
					continue
				}
				if !yield(pk, p) {
					stop = true
					return
				}
			}
		})
	}
}

func (t *Tree) walk(nodeID uint32, level int, onLeaf func(leafID uint32, pk rid.RID)) {
	for b := 0; b < 4; b++ {
		ref := t.child(nodeID, b)
		if ref == 0 {
			continue
		}
		if isInterior(ref) {
			t.walk(idOf(ref), level+1, onLeaf)
		} else {
			leafID := idOf(ref)
			onLeaf(leafID, t.leafPK(leafID))
		}
	}
}

// Remove removes matches of pair (wildcards per patMatch) from pk's leaf
// chain. If the leaf's chain becomes empty, the leaf is freed and the path
// is collapsed upward while interior nodes become degenerate.
func (t *Tree) Remove(pk rid.RID, pattern rid.Pair, models *roaring64.Bitmap) (removed int, err error) {
	path, ok := t.pathTo(pk)
	if !ok {
		return 0, nil
	}
	leafID := idOf(t.child(path[len(path)-1].node, path[len(path)-1].branch))
	newHead, n := t.pt.RemovePair(t.leafChain(leafID), pattern, models)
	removed = n
	if n == 0 {
		return 0, nil
	}
	remaining, err := t.pt.ChainLength(newHead, 0)
	if err != nil {
		return removed, err
	}
	if remaining == 0 {
		t.freeLeaf(leafID)
		t.setChild(path[len(path)-1].node, path[len(path)-1].branch, 0)
		t.collapse(path)
	} else {
		t.setLeafChain(leafID, newHead)
		t.setLeafLength(leafID, remaining)
	}
	return removed, nil
}

// RemoveAll sweeps the whole tree removing matches of pattern; uses the
// same collapse rules as Remove. Returns whether anything was deleted,
// which purge.DeleteModels uses to skip the sweep on the paired direction
// tree (spec §4.11).
func (t *Tree) RemoveAll(pattern rid.Pair, models *roaring64.Bitmap) (anyDeleted bool, err error) {
	var leaves []struct {
		id uint32
		pk rid.RID
	}
	t.walk(rootInteriorID, 0, func(leafID uint32, pk rid.RID) {
		leaves = append(leaves, struct {
			id uint32
			pk rid.RID
		}{leafID, pk})
	})
	for _, l := range leaves {
		n, e := t.Remove(l.pk, pattern, models)
		if e != nil {
			return anyDeleted, e
		}
		if n > 0 {
			anyDeleted = true
		}
	}
	return anyDeleted, nil
}

type pathStep struct {
	node   uint32
	branch int
}

// pathTo returns the interior-node path from the root down to (but not
// including) the leaf for pk, if one exists.
func (t *Tree) pathTo(pk rid.RID) ([]pathStep, bool) {
	var path []pathStep
	nodeID := rootInteriorID
	level := 0
	for {
		b := branch(pk, level)
		ref := t.child(nodeID, b)
		path = append(path, pathStep{nodeID, b})
		if ref == 0 {
			return nil, false
		}
		if !isInterior(ref) {
			leafID := idOf(ref)
			if t.leafPK(leafID) != pk {
				return nil, false
			}
			return path, true
		}
		nodeID = idOf(ref)
		level++
	}
}

// collapse walks from the deepest affected path to the root (but never
// touches the root sentinel itself): after freeing a leaf, if the parent
// now has zero children it is freed and the rule recurses to its parent;
// if it has exactly one remaining child (leaf or interior) it is NOT
// promoted, preserving the split invariant (spec §4.3 edge rules).
func (t *Tree) collapse(path []pathStep) {
	for i := len(path) - 1; i >= 0; i-- {
		step := path[i]
		if step.node == rootInteriorID {
			return
		}
		count := 0
		for b := 0; b < 4; b++ {
			if t.child(step.node, b) != 0 {
				count++
			}
		}
		if count != 0 {
			return
		}
		// step.node is now empty; free it and clear the parent's pointer
		// to it, then continue collapsing upward.
		t.freeInterior(step.node)
		if i > 0 {
			parent := path[i-1]
			t.setChild(parent.node, parent.branch, 0)
		}
	}
}

// CheckConsistency validates invariant (a) from spec §3: leaf.length ==
// chain_length(ptable, leaf.chain_head) for every leaf, returning the
// first mismatch found as an error.
func (t *Tree) CheckConsistency() error {
	var err error
	t.walk(rootInteriorID, 0, func(leafID uint32, pk rid.RID) {
		if err != nil {
			return
		}
		want := t.leafLength(leafID)
		got, e := t.pt.ChainLength(t.leafChain(leafID), want+1)
		if e != nil {
			err = e
			return
		}
		if got != want {
			err = ferror.New(ferror.KindCorruption, "ptree: leaf pk=%d length=%d but chain length=%d", pk, want, got)
		}
	})
	return err
}

// ReachableRows returns the set of ptable row ids reachable from any leaf
// in this tree, for use by ptable.CheckLeaks.
func (t *Tree) ReachableRows() map[ptable.RowID]bool {
	out := map[ptable.RowID]bool{}
	t.walk(rootInteriorID, 0, func(leafID uint32, pk rid.RID) {
		for id := t.leafChain(leafID); id != 0; id = t.pt.GetNext(id) {
			out[id] = true
		}
	})
	return out
}
