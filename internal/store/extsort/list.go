// Package extsort implements the sorted list (spec §4.7): a fixed-row-width
// append file used as on-disk scratch during ingest, supporting a chunked
// external merge sort and a uniqed read that suppresses equal consecutive
// rows.
package extsort

import (
	"bytes"
	"sort"

	"github.com/google/btree"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic "JXLS" — list is a scratch structure, not named in spec §6.3's
// magic table (which only lists the six persistent index structures), but
// it shares the same paged-file header discipline, so it gets its own tag
// in the same family.
var Magic = [4]byte{'J', 'X', 'L', 'S'}

const Revision = 1

// DefaultChunkBudgetBytes is the in-memory budget per sort chunk (spec
// §4.7's "~512 MiB of rows"). Exposed as a tuning knob, not a contract
// (Design Notes §9).
const DefaultChunkBudgetBytes = 512 << 20

// State models the list's lifecycle (spec §4.7).
type State int

const (
	Unsorted State = iota
	ChunkSorted
	Sorted
)

// Less compares two fixed-width rows for ordering.
type Less func(a, b []byte) int

// List is a fixed-row-width append-only scratch file with external sort.
type List struct {
	pf          *pagedfile.File
	rowWidth    int
	less        Less
	state       State
	chunkRows   uint64 // rows per sort chunk
	chunkBounds []uint64 // exclusive end row-index of each chunk, once ChunkSorted
}

// Create makes a new, empty list with the given row width (bytes) and
// comparator. chunkBudgetBytes <= 0 uses DefaultChunkBudgetBytes.
func Create(path string, rowWidth int, less Less, chunkBudgetBytes int64) (*List, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: uint32(rowWidth), InitialCap: 1024,
	})
	if err != nil {
		return nil, err
	}
	if chunkBudgetBytes <= 0 {
		chunkBudgetBytes = DefaultChunkBudgetBytes
	}
	chunkRows := uint64(chunkBudgetBytes) / uint64(rowWidth)
	if chunkRows == 0 {
		chunkRows = 1
	}
	return &List{pf: pf, rowWidth: rowWidth, less: less, chunkRows: chunkRows}, nil
}

func Open(path string, rowWidth int, less Less, readOnly bool) (*List, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: uint32(rowWidth), ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	return &List{pf: pf, rowWidth: rowWidth, less: less, chunkRows: DefaultChunkBudgetBytes / uint64(rowWidth), state: Unsorted}, nil
}

func (l *List) Close() error { return l.pf.Close() }
func (l *List) Sync() error  { return l.pf.Sync() }

// Len returns the number of rows appended so far.
func (l *List) Len() uint64 { return l.pf.Length() }

func (l *List) row(i uint64) []byte { return l.pf.Block(uint32(i + 1)) } // rows are 0-indexed; block 0 is the NULL sentinel

// Append adds row to the end of the list. row must be exactly rowWidth
// bytes. Appending after a sort resets the state to Unsorted.
func (l *List) Append(row []byte) error {
	if len(row) != l.rowWidth {
		return ferror.New(ferror.KindCorruption, "list: row width %d != %d", len(row), l.rowWidth)
	}
	id, err := l.pf.Alloc(func(uint32) uint32 { return 0 }) // no free list: pure append log
	if err != nil {
		return err
	}
	copy(l.pf.Block(id), row)
	l.state = Unsorted
	l.chunkBounds = nil
	return nil
}

// Sort performs the chunked external merge sort: each chunk (sized to the
// configured row budget) is sorted in place; Sort itself only performs the
// chunk-sort pass (state becomes ChunkSorted). NextSortUniqed does the
// k-way merge lazily so a full materialized sorted copy is never required.
func (l *List) Sort() error {
	n := l.Len()
	l.chunkBounds = nil
	for start := uint64(0); start < n; start += l.chunkRows {
		end := start + l.chunkRows
		if end > n {
			end = n
		}
		l.sortChunk(start, end)
		l.chunkBounds = append(l.chunkBounds, end)
	}
	l.state = ChunkSorted
	return nil
}

func (l *List) sortChunk(start, end uint64) {
	rows := int(end - start)
	sort.Sort(&chunkSorter{l: l, start: start, n: rows})
}

type chunkSorter struct {
	l     *List
	start uint64
	n     int
}

func (c *chunkSorter) Len() int { return c.n }
func (c *chunkSorter) Less(i, j int) bool {
	return c.l.less(c.l.row(c.start+uint64(i)), c.l.row(c.start+uint64(j))) < 0
}
func (c *chunkSorter) Swap(i, j int) {
	a := c.l.row(c.start + uint64(i))
	b := c.l.row(c.start + uint64(j))
	var tmp [256]byte // generous upper bound for any row width used in this engine
	buf := tmp[:len(a)]
	copy(buf, a)
	copy(a, b)
	copy(b, buf)
}

// mergeCursor tracks one chunk's read position during the k-way merge.
type mergeCursor struct {
	l          *List
	pos, end   uint64
}

func (m *mergeCursor) peek() ([]byte, bool) {
	if m.pos >= m.end {
		return nil, false
	}
	return m.l.row(m.pos), true
}
func (m *mergeCursor) advance() { m.pos++ }

// cursorItem is one chunk cursor's current row, keyed into the merge
// btree (spec §4.7's k-way merge). ci disambiguates ties between chunks
// whose current rows compare equal, since a BTreeG requires a strict
// order.
type cursorItem struct {
	row []byte
	ci  int
}

func cursorLess(less Less) func(a, b cursorItem) bool {
	return func(a, b cursorItem) bool {
		if c := less(a.row, b.row); c != 0 {
			return c < 0
		}
		return a.ci < b.ci
	}
}

// mergeDegree is the BTreeG node degree for the cursor index; the tree
// holds at most one item per input chunk, so a small degree is plenty.
const mergeDegree = 16

// NextSortUniqed returns a lazy stream of rows in full sorted order across
// all chunks, suppressing equal consecutive rows (spec §4.7). Calling it
// on an Unsorted list is an error; on ChunkSorted it merges chunk cursors
// through a btree.BTreeG keyed on each cursor's current row, replacing the
// lowest cursor's entry as it advances; on Sorted it uses a single cursor
// (the degenerate one-chunk case, same code path).
func (l *List) NextSortUniqed() (func(yield func([]byte) bool), error) {
	if l.state == Unsorted {
		return nil, ferror.New(ferror.KindCorruption, "list: NextSortUniqed called on an Unsorted list")
	}
	bounds := l.chunkBounds
	if len(bounds) == 0 {
		bounds = []uint64{l.Len()}
	}
	cursors := make([]*mergeCursor, 0, len(bounds))
	start := uint64(0)
	for _, end := range bounds {
		cursors = append(cursors, &mergeCursor{l: l, pos: start, end: end})
		start = end
	}

	bt := btree.NewG(mergeDegree, cursorLess(l.less))
	seed := func(ci int) {
		if row, ok := cursors[ci].peek(); ok {
			bt.ReplaceOrInsert(cursorItem{row: append([]byte(nil), row...), ci: ci})
		}
	}
	for ci := range cursors {
		seed(ci)
	}

	return func(yield func([]byte) bool) {
		var last []byte
		haveLast := false
		for bt.Len() > 0 {
			min, _ := bt.Min()
			bt.Delete(min)
			cursors[min.ci].advance()
			seed(min.ci)
			if haveLast && bytes.Equal(last, min.row) {
				continue
			}
			last = min.row
			haveLast = true
			if !yield(min.row) {
				return
			}
		}
	}, nil
}

// State reports the list's current lifecycle state.
func (l *List) State() State { return l.state }
