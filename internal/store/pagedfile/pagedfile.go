// Package pagedfile implements the uniform paged-file and block-allocator
// substrate every on-disk index structure (ptable, ptree, mhash, tbchain,
// rhash) is built on top of (spec §4.1). A File is a single memory map of
// header + block_size*capacity bytes; blocks are identified by 32-bit ids,
// id 0 is reserved as NULL, and growth doubles capacity and remaps.
package pagedfile

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/fourstore/fourstore/internal/ferror"
)

// HeaderSize is the size of the fixed 512-byte on-disk header shared by every
// structure built on pagedfile (spec §6.3 "File headers are 512 bytes").
const HeaderSize = 512

const (
	offMagic      = 0  // 4 bytes
	offRevision   = 4  // 4 bytes
	offBlockSize  = 8  // 4 bytes
	offHeaderSize = 12 // 4 bytes, always HeaderSize, sanity-checked on open
	offCapacity   = 16 // 8 bytes: number of blocks currently mapped
	offLength     = 24 // 8 bytes: number of blocks ever allocated (high-water id)
	offFreeHead   = 32 // 4 bytes: head of the free list, 0 if empty
	offFreeLen    = 36 // 4 bytes: number of blocks on the free list
	offExtra      = 40 // 8 bytes: free for the owning structure to stamp a cross-reference (e.g. ptree's ptable fingerprint)
)

// Options configures Open/Create.
type Options struct {
	Magic      [4]byte
	Revision   uint32
	BlockSize  uint32
	ReadOnly   bool
	InitialCap uint64 // blocks to allocate on Create; at least 1
}

// File is a memory-mapped header-plus-blocks paged file. Block 0 is never
// a valid allocation (NULL); block 1 is left for callers to use as a
// sentinel or root (ptree's root, for instance).
type File struct {
	path    string
	f       *os.File
	lock    *flock.Flock
	mm      mmap.MMap
	opts    Options
	cap     uint64 // blocks currently mapped
	locked  bool
}

// Create makes a new paged file at path with the given options and an
// initial capacity (grown to at least 2 blocks so id 1 always exists).
func Create(path string, opts Options) (*File, error) {
	if opts.InitialCap < 2 {
		opts.InitialCap = 2
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, ferror.Wrap(ferror.KindIO, err, "create paged file %s", path)
	}
	pf := &File{path: path, f: f, opts: opts}
	if err := pf.lockExclusive(); err != nil {
		f.Close()
		return nil, err
	}
	if err := pf.truncateAndMap(opts.InitialCap); err != nil {
		pf.Close()
		return nil, err
	}
	pf.putUint32(offMagic, binary.LittleEndian.Uint32(opts.Magic[:]))
	pf.putUint32(offRevision, opts.Revision)
	pf.putUint32(offBlockSize, opts.BlockSize)
	pf.putUint32(offHeaderSize, HeaderSize)
	pf.putUint64(offCapacity, opts.InitialCap)
	pf.putUint64(offLength, 0) // block 0 is the permanent NULL sentinel; nothing allocated yet
	pf.putUint32(offFreeHead, 0)
	pf.putUint32(offFreeLen, 0)
	return pf, nil
}

// Open opens an existing paged file, verifying magic and revision match
// (spec §3 "Invariants to preserve": mismatched magic or revision ⇒ refuse
// to open).
func Open(path string, opts Options) (*File, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, ferror.Wrap(ferror.KindIO, err, "open paged file %s", path)
	}
	pf := &File{path: path, f: f, opts: opts}
	if opts.ReadOnly {
		if err := pf.lockShared(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := pf.lockExclusive(); err != nil {
			f.Close()
			return nil, err
		}
	}

	fi, err := f.Stat()
	if err != nil {
		pf.Close()
		return nil, ferror.Wrap(ferror.KindIO, err, "stat %s", path)
	}
	blocks := (uint64(fi.Size()) - HeaderSize) / uint64(opts.BlockSize)
	if err := pf.mapRange(blocks); err != nil {
		pf.Close()
		return nil, err
	}

	wantMagic := binary.LittleEndian.Uint32(opts.Magic[:])
	if gotMagic := pf.uint32(offMagic); gotMagic != wantMagic {
		pf.Close()
		return nil, ferror.New(ferror.KindCorruption, "%s: bad magic %08x, want %08x", path, gotMagic, wantMagic)
	}
	if gotRev := pf.uint32(offRevision); gotRev != opts.Revision {
		pf.Close()
		return nil, ferror.New(ferror.KindCorruption, "%s: bad revision %d, want %d", path, gotRev, opts.Revision)
	}
	if gotHdr := pf.uint32(offHeaderSize); gotHdr != HeaderSize {
		pf.Close()
		return nil, ferror.New(ferror.KindCorruption, "%s: bad header size %d", path, gotHdr)
	}
	return pf, nil
}

func (pf *File) lockExclusive() error {
	pf.lock = flock.New(pf.path + ".lock")
	ok, err := pf.lock.TryLock()
	if err != nil {
		return ferror.Wrap(ferror.KindIO, err, "flock %s", pf.path)
	}
	if !ok {
		return ferror.New(ferror.KindConflict, "%s already locked for writing", pf.path)
	}
	pf.locked = true
	return nil
}

func (pf *File) lockShared() error {
	pf.lock = flock.New(pf.path + ".lock")
	ok, err := pf.lock.TryRLock()
	if err != nil {
		return ferror.Wrap(ferror.KindIO, err, "flock shared %s", pf.path)
	}
	if !ok {
		return ferror.New(ferror.KindConflict, "%s locked exclusively", pf.path)
	}
	pf.locked = true
	return nil
}

func (pf *File) truncateAndMap(capBlocks uint64) error {
	size := int64(HeaderSize) + int64(capBlocks)*int64(pf.opts.BlockSize)
	if err := pf.f.Truncate(size); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "truncate %s to %d", pf.path, size)
	}
	return pf.mapRange(capBlocks)
}

func (pf *File) mapRange(capBlocks uint64) error {
	if pf.mm != nil {
		if err := pf.mm.Unmap(); err != nil {
			return ferror.Wrap(ferror.KindIO, err, "unmap %s", pf.path)
		}
		pf.mm = nil
	}
	prot := mmap.RDWR
	if pf.opts.ReadOnly {
		prot = mmap.RDONLY
	}
	m, err := mmap.Map(pf.f, prot, 0)
	if err != nil {
		return ferror.Wrap(ferror.KindIO, err, "mmap %s", pf.path)
	}
	pf.mm = m
	pf.cap = capBlocks
	return nil
}

// Grow doubles capacity (the only permitted growth policy, spec §4.1) and
// remaps. Any pointers/slices callers hold into block data are invalidated
// by Grow; callers must re-acquire block views afterward.
func (pf *File) Grow() error {
	newCap := pf.cap * 2
	if newCap == 0 {
		newCap = 2
	}
	if err := pf.truncateAndMap(newCap); err != nil {
		return ferror.Wrap(ferror.KindCapacity, err, "grow %s to %d blocks", pf.path, newCap)
	}
	pf.putUint64(offCapacity, newCap)
	return nil
}

// Capacity returns the number of blocks currently backed by the map.
func (pf *File) Capacity() uint64 { return pf.cap }

// Path returns the backing file's path, for structures that need to
// derive a stable identity from it (e.g. ptree's ptable fingerprint).
func (pf *File) Path() string { return pf.path }

// ExtraUint64/SetExtraUint64 expose an 8-byte header slot the owning
// index structure can use however it needs (spec §3's cross-reference
// checks, e.g. "reopening a ptree that references a different ptable is
// a fatal open error").
func (pf *File) ExtraUint64() uint64        { return pf.uint64(offExtra) }
func (pf *File) SetExtraUint64(v uint64)    { pf.putUint64(offExtra, v) }

// Length returns the high-water allocated block id (exclusive of the free
// list): the next never-yet-used id is Length()+1 absent free-list reuse.
func (pf *File) Length() uint64 { return pf.uint64(offLength) }

func (pf *File) setLength(v uint64) { pf.putUint64(offLength, v) }

// FreeHead/FreeLen expose the free list bookkeeping to callers (ptable,
// ptree, tbchain) that layer chain semantics over raw blocks.
func (pf *File) FreeHead() uint32     { return pf.uint32(offFreeHead) }
func (pf *File) SetFreeHead(id uint32) { pf.putUint32(offFreeHead, id) }
func (pf *File) FreeLen() uint32      { return pf.uint32(offFreeLen) }
func (pf *File) SetFreeLen(n uint32)  { pf.putUint32(offFreeLen, n) }

// Alloc returns a fresh block id, growing the file if the free list is
// empty and capacity is exhausted. The block's bytes are NOT zeroed
// (Freeing does not zero either, per spec §4.1).
func (pf *File) Alloc(popFree func(id uint32) uint32) (uint32, error) {
	if head := pf.FreeHead(); head != 0 {
		next := popFree(head)
		pf.SetFreeHead(next)
		pf.SetFreeLen(pf.FreeLen() - 1)
		return head, nil
	}
	id := pf.Length() + 1
	if id >= pf.cap {
		if err := pf.Grow(); err != nil {
			return 0, err
		}
	}
	pf.setLength(id)
	return uint32(id), nil
}

// Free pushes id onto the free list. pushFree must link id's "next" slot to
// the previous free head (structure-specific, hence the callback).
func (pf *File) Free(id uint32, pushFree func(id, prevHead uint32)) {
	prev := pf.FreeHead()
	pushFree(id, prev)
	pf.SetFreeHead(id)
	pf.SetFreeLen(pf.FreeLen() + 1)
}

// Block returns a byte slice view over block id's storage. Valid only
// until the next Grow.
func (pf *File) Block(id uint32) []byte {
	off := HeaderSize + uint64(id)*uint64(pf.opts.BlockSize)
	return pf.mm[off : off+uint64(pf.opts.BlockSize)]
}

// Sync flushes the memory map to disk (msync), used at stop_import and on
// close per spec §5 "Ordering guarantees".
func (pf *File) Sync() error {
	if pf.mm == nil {
		return nil
	}
	if err := pf.mm.Flush(); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "msync %s", pf.path)
	}
	// Belt-and-braces: some platforms' mmap.Flush is a no-op synonym for
	// msync(MS_ASYNC); force MS_SYNC directly via golang.org/x/sys so
	// stop_import's durability guarantee (spec §5) actually holds.
	if err := unix.Msync([]byte(pf.mm), unix.MS_SYNC); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "MS_SYNC %s", pf.path)
	}
	return nil
}

// Close unmaps, syncs, and releases the file lock.
func (pf *File) Close() error {
	var firstErr error
	if pf.mm != nil {
		if err := pf.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := pf.mm.Unmap(); err != nil && firstErr == nil {
			firstErr = ferror.Wrap(ferror.KindIO, err, "unmap %s", pf.path)
		}
		pf.mm = nil
	}
	if pf.f != nil {
		pf.f.Close()
		pf.f = nil
	}
	if pf.lock != nil && pf.locked {
		pf.lock.Unlock()
		pf.locked = false
	}
	return firstErr
}

func (pf *File) uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(pf.mm[off : off+4])
}
func (pf *File) putUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(pf.mm[off:off+4], v)
}
func (pf *File) uint64(off int) uint64 {
	return binary.LittleEndian.Uint64(pf.mm[off : off+8])
}
func (pf *File) putUint64(off int, v uint64) {
	binary.LittleEndian.PutUint64(pf.mm[off:off+8], v)
}
