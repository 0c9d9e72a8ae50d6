// Package rhash implements the resource hash (spec §4.6): a disk-backed,
// power-of-two, linear-probed table mapping a 64-bit RID to (attr, lex).
// Short lex strings are stored inline; long ones spill to a sidecar file
// referenced by (offset, length).
package rhash

import (
	"encoding/binary"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic reuses the paged-file header scheme; rhash does not appear in
// spec §6.3's magic-tag table explicitly, so it uses the same "JXT0"
// family prefix convention as the rest of the index files (see DESIGN.md).
var Magic = [4]byte{'J', 'X', 'R', 'H'}

const Revision = 1

const inlineLexCap = 22

// entry layout: rid(8) attr(8) kind(1) inlineLen(1) payload(22) = 40 bytes.
const entrySize = 40

const (
	offRID       = 0
	offAttr      = 8
	offKind      = 16
	offInlineLen = 17
	offPayload   = 18
)

const (
	kindEmpty   = 0
	kindInline  = 1
	kindPointer = 2
)

const minCapacity = 64

// Hash is the resource hash plus its sidecar lex file.
type Hash struct {
	pf       *pagedfile.File
	lexPath  string
	lex      *os.File
	lexSize  int64
	capacity uint64
	probe    uint32
	lexCache *lru.ARCCache[rid.RID, string]
}

func Create(path string) (*Hash, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: entrySize, InitialCap: minCapacity,
	})
	if err != nil {
		return nil, err
	}
	lexPath := path + ".lex"
	lex, err := os.OpenFile(lexPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		pf.Close()
		return nil, ferror.Wrap(ferror.KindIO, err, "create lex sidecar %s", lexPath)
	}
	cache, _ := lru.NewARC[rid.RID, string](4096)
	return &Hash{pf: pf, lexPath: lexPath, lex: lex, capacity: minCapacity, probe: 8, lexCache: cache}, nil
}

func Open(path string, readOnly bool) (*Hash, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: entrySize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	lexPath := path + ".lex"
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	lex, err := os.OpenFile(lexPath, flags, 0644)
	if err != nil {
		pf.Close()
		return nil, ferror.Wrap(ferror.KindIO, err, "open lex sidecar %s", lexPath)
	}
	fi, err := lex.Stat()
	if err != nil {
		pf.Close()
		lex.Close()
		return nil, ferror.Wrap(ferror.KindIO, err, "stat lex sidecar %s", lexPath)
	}
	cap := pf.Capacity()
	probe := uint32(8)
	for c := minCapacity; uint64(c) < cap; c *= 2 {
		probe *= 2
	}
	cache, _ := lru.NewARC[rid.RID, string](4096)
	return &Hash{pf: pf, lexPath: lexPath, lex: lex, lexSize: fi.Size(), capacity: cap, probe: probe, lexCache: cache}, nil
}

func (h *Hash) Close() error {
	e1 := h.pf.Close()
	e2 := h.lex.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

func (h *Hash) Sync() error {
	if err := h.lex.Sync(); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "sync lex sidecar %s", h.lexPath)
	}
	return h.pf.Sync()
}

func (h *Hash) index(r rid.RID) uint64 {
	return uint64(r) % h.capacity
}

func (h *Hash) entryRID(slot uint64) rid.RID {
	return rid.RID(binary.LittleEndian.Uint64(h.pf.Block(uint32(slot))[offRID:]))
}
func (h *Hash) entryKind(slot uint64) byte { return h.pf.Block(uint32(slot))[offKind] }

// appendLex writes s to the sidecar file and returns its (offset, length).
func (h *Hash) appendLex(s string) (int64, uint32, error) {
	off := h.lexSize
	n, err := h.lex.WriteAt([]byte(s), off)
	if err != nil {
		return 0, 0, ferror.Wrap(ferror.KindIO, err, "append lex sidecar %s", h.lexPath)
	}
	h.lexSize += int64(n)
	return off, uint32(n), nil
}

func (h *Hash) readLex(off int64, length uint32) (string, error) {
	buf := make([]byte, length)
	if _, err := h.lex.ReadAt(buf, off); err != nil && err != io.EOF {
		return "", ferror.Wrap(ferror.KindIO, err, "read lex sidecar %s", h.lexPath)
	}
	return string(buf), nil
}

func (h *Hash) writeEntry(slot uint64, r, attr rid.RID, lex string) error {
	b := h.pf.Block(uint32(slot))
	binary.LittleEndian.PutUint64(b[offRID:], uint64(r))
	binary.LittleEndian.PutUint64(b[offAttr:], uint64(attr))
	if len(lex) <= inlineLexCap {
		b[offKind] = kindInline
		b[offInlineLen] = byte(len(lex))
		copy(b[offPayload:], lex)
		for i := len(lex); i < inlineLexCap; i++ {
			b[offPayload+i] = 0
		}
		return nil
	}
	off, n, err := h.appendLex(lex)
	if err != nil {
		return err
	}
	b[offKind] = kindPointer
	binary.LittleEndian.PutUint64(b[offPayload:], uint64(off))
	binary.LittleEndian.PutUint32(b[offPayload+8:], n)
	return nil
}

func (h *Hash) readEntry(slot uint64) (attr rid.RID, lex string, err error) {
	b := h.pf.Block(uint32(slot))
	attr = rid.RID(binary.LittleEndian.Uint64(b[offAttr:]))
	switch b[offKind] {
	case kindInline:
		n := int(b[offInlineLen])
		lex = string(b[offPayload : offPayload+n])
	case kindPointer:
		off := int64(binary.LittleEndian.Uint64(b[offPayload:]))
		n := binary.LittleEndian.Uint32(b[offPayload+8:])
		lex, err = h.readLex(off, n)
	}
	return attr, lex, err
}

// PutMulti batch-inserts resources, deduping by RID. If a slot for a RID
// already holds a different lex, this is an astronomically rare hash
// collision (RIDs are already strong hashes); the design tolerates it by
// keeping first-write-wins and logging a warning rather than crashing
// (spec §4.6).
func (h *Hash) PutMulti(resources []rid.Resource) error {
	for _, r := range resources {
		if err := h.putOne(r); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hash) putOne(r rid.Resource) error {
	for {
		if done, err := h.tryPut(r); err != nil {
			return err
		} else if done {
			// Drop any cached lex: the table keeps the first write, and
			// the next GetMulti reads and caches what it holds.
			h.lexCache.Remove(r.RID)
			return nil
		}
		if err := h.grow(); err != nil {
			return err
		}
	}
}

func (h *Hash) tryPut(r rid.Resource) (bool, error) {
	start := h.index(r.RID)
	for i := uint32(0); i < h.probe; i++ {
		slot := (start + uint64(i)) % h.capacity
		switch h.entryKind(slot) {
		case kindEmpty:
			return true, h.writeEntry(slot, r.RID, r.Attr, r.Lex)
		default:
			if h.entryRID(slot) == r.RID {
				_, existingLex, err := h.readEntry(slot)
				if err != nil {
					return false, err
				}
				if existingLex != r.Lex {
					log.Warnw("rhash collision: rid maps to distinct lex, keeping first write",
						"rid", r.RID, "existing", existingLex, "incoming", r.Lex)
				}
				return true, nil
			}
		}
	}
	return false, nil
}

func (h *Hash) grow() error {
	type kv struct {
		r    rid.Resource
	}
	var live []rid.Resource
	for slot := uint64(0); slot < h.capacity; slot++ {
		if h.entryKind(slot) != kindEmpty {
			attr, lex, err := h.readEntry(slot)
			if err != nil {
				return err
			}
			live = append(live, rid.Resource{RID: h.entryRID(slot), Attr: attr, Lex: lex})
		}
	}
	if err := h.pf.Grow(); err != nil {
		return err
	}
	h.capacity *= 2
	h.probe *= 2
	for slot := uint64(0); slot < h.capacity; slot++ {
		b := h.pf.Block(uint32(slot))
		b[offKind] = kindEmpty
	}
	for _, r := range live {
		ok, err := h.tryPut(r)
		if err != nil {
			return err
		}
		if !ok {
			return ferror.New(ferror.KindCorruption, "rhash: rehash failed to place %d even after growth", r.RID)
		}
	}
	return nil
}

// GetMulti fills Attr and Lex for each resource in-place from its RID,
// leaving entries with no stored resource untouched (caller checks by
// pre-zeroing, or by length comparison against what was requested).
func (h *Hash) GetMulti(resources []rid.Resource) error {
	for i := range resources {
		r := resources[i].RID
		if lex, ok := h.lexCache.Get(r); ok {
			resources[i].Lex = lex
			continue
		}
		attr, lex, found, err := h.get(r)
		if err != nil {
			return err
		}
		if found {
			resources[i].Attr = attr
			resources[i].Lex = lex
			h.lexCache.Add(r, lex)
		}
	}
	return nil
}

func (h *Hash) get(r rid.RID) (attr rid.RID, lex string, found bool, err error) {
	start := h.index(r)
	for i := uint32(0); i < h.probe; i++ {
		slot := (start + uint64(i)) % h.capacity
		switch h.entryKind(slot) {
		case kindEmpty:
			return 0, "", false, nil
		default:
			if h.entryRID(slot) == r {
				attr, lex, err = h.readEntry(slot)
				return attr, lex, true, err
			}
		}
	}
	return 0, "", false, nil
}

// Count returns the number of live entries.
func (h *Hash) Count() int {
	n := 0
	for slot := uint64(0); slot < h.capacity; slot++ {
		if h.entryKind(slot) != kindEmpty {
			n++
		}
	}
	return n
}
