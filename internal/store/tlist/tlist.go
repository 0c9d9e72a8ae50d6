// Package tlist implements the per-graph append-only tuple list (spec
// §4.7): a plain width-3 RID file used when a graph is stored in its own
// file (the "old-style"/"model_files" path, spec §9 open question),
// rather than in the shared tbchain.
package tlist

import (
	"encoding/binary"
	"os"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic "JXT0" — tlist shares its tag with ptable per spec §6.3's table
// (both are distinguished by directory convention: tlist files live
// directly under m/, one file per graph named by its RID in hex, with no
// hash-prefix subdirectories; ptable is <label>.ptable).
var Magic = [4]byte{'J', 'X', 'T', '0'}

const Revision = 1

const rowSize = 24 // s, p, o as 3x8 bytes

// TList is one graph's triple list.
type TList struct {
	path string
	pf   *pagedfile.File
}

func Create(path string) (*TList, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: rowSize, InitialCap: 64,
	})
	if err != nil {
		return nil, err
	}
	return &TList{path: path, pf: pf}, nil
}

func Open(path string, readOnly bool) (*TList, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: rowSize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	return &TList{path: path, pf: pf}, nil
}

func (t *TList) Close() error { return t.pf.Close() }
func (t *TList) Sync() error  { return t.pf.Sync() }

// Len returns the number of triples appended so far.
func (t *TList) Len() uint64 { return t.pf.Length() }

// Append adds one (s,p,o) triple.
func (t *TList) Append(s, p, o rid.RID) error {
	id, err := t.pf.Alloc(func(uint32) uint32 { return 0 })
	if err != nil {
		return err
	}
	b := t.pf.Block(id)
	binary.LittleEndian.PutUint64(b[0:], uint64(s))
	binary.LittleEndian.PutUint64(b[8:], uint64(p))
	binary.LittleEndian.PutUint64(b[16:], uint64(o))
	return nil
}

// Triple returns the 0-indexed i'th appended triple.
func (t *TList) Triple(i uint64) (s, p, o rid.RID) {
	b := t.pf.Block(uint32(i + 1))
	return rid.RID(binary.LittleEndian.Uint64(b[0:])),
		rid.RID(binary.LittleEndian.Uint64(b[8:])),
		rid.RID(binary.LittleEndian.Uint64(b[16:]))
}

// Iter lazily yields every triple in append order.
func (t *TList) Iter() func(yield func(s, p, o rid.RID) bool) {
	return func(yield func(s, p, o rid.RID) bool) {
		n := t.Len()
		for i := uint64(0); i < n; i++ {
			s, p, o := t.Triple(i)
			if !yield(s, p, o) {
				return
			}
		}
	}
}

// Truncate empties the list by closing, removing, and recreating the
// backing paged file (used by every graph-deletion path for a graph stored
// in its own file, spec §4.11). A tlist has no free-list
// semantics of its own, so there is no cheaper in-place reset.
func (t *TList) Truncate() error {
	if err := t.pf.Close(); err != nil {
		return err
	}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return ferror.Wrap(ferror.KindIO, err, "remove %s for truncate", t.path)
	}
	_ = os.Remove(t.path + ".lock")
	pf, err := pagedfile.Create(t.path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: rowSize, InitialCap: 64,
	})
	if err != nil {
		return err
	}
	t.pf = pf
	return nil
}
