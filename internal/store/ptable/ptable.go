// Package ptable implements the chain table (spec §4.2): an arena of
// 24-byte rows, each an (rid,rid) pair plus a "next row" pointer. Rows
// form singly-linked chains referenced from ptree leaves.
package ptable

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic "JXT0" per spec §6.3 (ptable shares its tag with tlist; they are
// distinguished structurally, as the original source does).
var Magic = [4]byte{'J', 'X', 'T', '0'}

const Revision = 1

// rowSize: next_row_id(4) + rid_a(8) + rid_b(8) = 20, padded to 24 as spec'd.
const rowSize = 24

const (
	rowOffNext = 0
	rowOffA    = 4
	rowOffB    = 12
)

// RowID identifies a row; 0 means "no row" (NULL/end of chain).
type RowID = uint32

// Table is the chain table arena.
type Table struct {
	pf *pagedfile.File
}

// Create makes a new, empty ptable at path.
func Create(path string) (*Table, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: rowSize, InitialCap: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Table{pf: pf}, nil
}

// Open opens an existing ptable.
func Open(path string, readOnly bool) (*Table, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: rowSize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	return &Table{pf: pf}, nil
}

func (t *Table) Close() error { return t.pf.Close() }
func (t *Table) Sync() error  { return t.pf.Sync() }

// Fingerprint derives a stable identity for this table from its backing
// path, so a ptree can stamp which ptable it was created against and
// refuse to reopen over a different one (spec §4.3).
func (t *Table) Fingerprint() uint64 {
	h := fnv.New64a()
	h.Write([]byte(t.pf.Path()))
	return h.Sum64()
}

// Length returns the number of rows ever allocated (including freed ones).
func (t *Table) Length() uint32 { return uint32(t.pf.Length()) }

// FreeLength returns the number of rows on the free list.
func (t *Table) FreeLength() uint32 { return t.pf.FreeLen() }

func (t *Table) rowBytes(id RowID) []byte { return t.pf.Block(id) }

func (t *Table) next(id RowID) RowID {
	if id == 0 {
		return 0
	}
	return binary.LittleEndian.Uint32(t.rowBytes(id)[rowOffNext:])
}

func (t *Table) setNext(id, next RowID) {
	binary.LittleEndian.PutUint32(t.rowBytes(id)[rowOffNext:], next)
}

func (t *Table) pair(id RowID) rid.Pair {
	b := t.rowBytes(id)
	return rid.Pair{
		rid.RID(binary.LittleEndian.Uint64(b[rowOffA:])),
		rid.RID(binary.LittleEndian.Uint64(b[rowOffB:])),
	}
}

func (t *Table) setPair(id RowID, p rid.Pair) {
	b := t.rowBytes(id)
	binary.LittleEndian.PutUint64(b[rowOffA:], uint64(p[0]))
	binary.LittleEndian.PutUint64(b[rowOffB:], uint64(p[1]))
}

// NewRow allocates a fresh, unlinked row.
func (t *Table) NewRow() (RowID, error) {
	id, err := t.pf.Alloc(func(freeHead uint32) uint32 { return t.next(freeHead) })
	if err != nil {
		return 0, err
	}
	t.setNext(id, 0)
	t.setPair(id, rid.Pair{rid.NULL, rid.NULL})
	return id, nil
}

func (t *Table) freeRow(id RowID) {
	t.pf.Free(id, func(id, prevHead uint32) { t.setNext(id, prevHead) })
}

// AddPair prepends a new row holding pair, pointing at the existing tail,
// and returns the new head (O(1), spec §4.2).
func (t *Table) AddPair(tail RowID, pair rid.Pair) (RowID, error) {
	id, err := t.NewRow()
	if err != nil {
		return 0, err
	}
	t.setPair(id, pair)
	t.setNext(id, tail)
	return id, nil
}

// GetRow fetches the pair stored at row id.
func (t *Table) GetRow(id RowID) (rid.Pair, error) {
	if id == 0 {
		return rid.Pair{}, ferror.New(ferror.KindNotFound, "ptable: row 0 has no data")
	}
	return t.pair(id), nil
}

// GetNext returns the next row in the chain, or 0 if id terminates it.
func (t *Table) GetNext(id RowID) RowID { return t.next(id) }

func matches(got, pattern rid.Pair) bool {
	if pattern[0] != rid.NULL && got[0] != pattern[0] {
		return false
	}
	if pattern[1] != rid.NULL && got[1] != pattern[1] {
		return false
	}
	return true
}

// PairExists reports whether pair occurs anywhere in the chain rooted at
// head.
func (t *Table) PairExists(head RowID, pair rid.Pair) bool {
	for id := head; id != 0; id = t.next(id) {
		if t.pair(id) == pair {
			return true
		}
	}
	return false
}

// RemovePair removes every row in the chain whose pair matches pattern
// ((NULL,NULL) removes all). Removed rows go to the free list. When
// pattern's graph slot (position 0) is wildcard, every distinct graph
// encountered among removed rows is recorded into models, so callers can
// mark the owning tbchain SUPERSET.
func (t *Table) RemovePair(head RowID, pattern rid.Pair, models *roaring64.Bitmap) (newHead RowID, removed int) {
	var newChain RowID
	var tail RowID // last kept row, to append subsequent kept rows after it in order
	for id := head; id != 0; {
		next := t.next(id)
		p := t.pair(id)
		if matches(p, pattern) {
			if pattern[0] == rid.NULL && models != nil {
				models.Add(uint64(p[0]))
			}
			t.freeRow(id)
			removed++
		} else {
			t.setNext(id, 0)
			if tail == 0 {
				newChain = id
			} else {
				t.setNext(tail, id)
			}
			tail = id
		}
		id = next
	}
	return newChain, removed
}

// ChainLength walks the chain rooted at head and returns its row count,
// stopping at bound (0 means unbounded) to detect cycles; a cycle beyond
// bound surfaces as Corruption.
func (t *Table) ChainLength(head RowID, bound uint32) (uint32, error) {
	var n uint32
	for id := head; id != 0; id = t.next(id) {
		n++
		if bound != 0 && n > bound {
			return 0, ferror.New(ferror.KindCorruption, "ptable: chain at %d exceeds bound %d (cycle?)", head, bound)
		}
	}
	return n, nil
}

// Iter lazily yields rows of the chain rooted at head, in chain order,
// until exhausted. Restartability is not guaranteed across mutation of
// the underlying structure (Design Notes §9).
func (t *Table) Iter(head RowID) func(yield func(rid.Pair) bool) {
	return func(yield func(rid.Pair) bool) {
		for id := head; id != 0; id = t.next(id) {
			if !yield(t.pair(id)) {
				return
			}
		}
	}
}

// CheckLeaks scans the free list and the table and returns the count of
// rows reachable from neither (the leak-check routine of original_source's
// backend; spec Design Notes §9 "Cancellation"). reachable should already
// contain every row id reachable from a ptree leaf. Leaked rows are
// appended to the free list so they are reclaimed.
func (t *Table) CheckLeaks(reachable map[RowID]bool) (leaks int) {
	free := map[RowID]bool{}
	for id := t.FreeHead(); id != 0; id = t.next(id) {
		free[id] = true
	}
	for id := RowID(1); id <= t.Length(); id++ {
		if reachable[id] || free[id] {
			continue
		}
		t.freeRow(id)
		leaks++
	}
	return leaks
}

// FreeHead exposes the free-list head, mainly for CheckLeaks/tests.
func (t *Table) FreeHead() RowID { return t.pf.FreeHead() }
