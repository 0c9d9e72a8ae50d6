// Package mhash implements the model hash (spec §4.4): an open-addressed
// hash mapping a graph RID to a usage tag (0 absent, 1 file-backed tlist,
// >=2 a tbchain head id).
package mhash

import (
	"encoding/binary"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic "JXM0" per spec §6.3.
var Magic = [4]byte{'J', 'X', 'M', '0'}

const Revision = 1

// entrySize: rid(8) + value(4), padded to 12 bytes per spec §3.
const entrySize = 12

const minCapacity = 64

// Hash is the open-addressed model hash.
type Hash struct {
	pf       *pagedfile.File
	capacity uint64 // power of two, mirrors header but cached for fast mod
	probe    uint32 // current bounded probe distance, doubles with capacity
}

// Create makes a new, empty mhash at path.
func Create(path string) (*Hash, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: entrySize, InitialCap: minCapacity,
	})
	if err != nil {
		return nil, err
	}
	h := &Hash{pf: pf, capacity: minCapacity, probe: 8}
	return h, nil
}

// Open opens an existing mhash.
func Open(path string, readOnly bool) (*Hash, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: entrySize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	cap := pf.Capacity()
	probe := uint32(8)
	for c := minCapacity; uint64(c) < cap; c *= 2 {
		probe *= 2
	}
	return &Hash{pf: pf, capacity: cap, probe: probe}, nil
}

func (h *Hash) Close() error { return h.pf.Close() }
func (h *Hash) Sync() error  { return h.pf.Sync() }

func (h *Hash) slotRID(slot uint64) rid.RID {
	b := h.pf.Block(uint32(slot))
	return rid.RID(binary.LittleEndian.Uint64(b[0:]))
}
func (h *Hash) slotValue(slot uint64) uint32 {
	b := h.pf.Block(uint32(slot))
	return binary.LittleEndian.Uint32(b[8:])
}
func (h *Hash) setSlot(slot uint64, r rid.RID, value uint32) {
	b := h.pf.Block(uint32(slot))
	binary.LittleEndian.PutUint64(b[0:], uint64(r))
	binary.LittleEndian.PutUint32(b[8:], value)
}

// index is the initial probe position: (rid >> 10) mod capacity (spec
// §4.4).
func (h *Hash) index(r rid.RID) uint64 {
	return (uint64(r) >> 10) % h.capacity
}

// Get returns the value stored for graph g, or 0 if absent.
func (h *Hash) Get(g rid.RID) uint32 {
	start := h.index(g)
	for i := uint32(0); i < h.probe; i++ {
		slot := (start + uint64(i)) % h.capacity
		v := h.slotValue(slot)
		if v == 0 {
			return 0
		}
		if h.slotRID(slot) == g {
			return v
		}
	}
	return 0
}

// Put stores value for graph g, growing (doubling capacity and probe
// window, then rehashing) if the probe distance would be exceeded.
func (h *Hash) Put(g rid.RID, value uint32) error {
	for {
		if h.tryPut(g, value) {
			return nil
		}
		if err := h.grow(); err != nil {
			return err
		}
	}
}

func (h *Hash) tryPut(g rid.RID, value uint32) bool {
	start := h.index(g)
	for i := uint32(0); i < h.probe; i++ {
		slot := (start + uint64(i)) % h.capacity
		v := h.slotValue(slot)
		if v == 0 || h.slotRID(slot) == g {
			h.setSlot(slot, g, value)
			return true
		}
	}
	return false
}

// Delete sets g's value to 0 (a tombstone by convention; on rehash, zero
// entries are simply dropped, spec §4.4).
func (h *Hash) Delete(g rid.RID) { h.Put(g, 0) }

func (h *Hash) grow() error {
	// Collect all live (rid,value) pairs before growing the backing file,
	// since Grow invalidates block views.
	type kv struct {
		r rid.RID
		v uint32
	}
	var live []kv
	for slot := uint64(0); slot < h.capacity; slot++ {
		if v := h.slotValue(slot); v != 0 {
			live = append(live, kv{h.slotRID(slot), v})
		}
	}
	if err := h.pf.Grow(); err != nil {
		return err
	}
	h.capacity *= 2
	h.probe *= 2
	for slot := uint64(0); slot < h.capacity; slot++ {
		h.setSlot(slot, rid.NULL, 0)
	}
	for _, e := range live {
		if !h.tryPut(e.r, e.v) {
			return ferror.New(ferror.KindCorruption, "mhash: rehash failed to place %d even after growth", e.r)
		}
	}
	return nil
}

// Keys enumerates every graph RID with a non-zero value.
func (h *Hash) Keys() func(yield func(rid.RID) bool) {
	return func(yield func(rid.RID) bool) {
		for slot := uint64(0); slot < h.capacity; slot++ {
			if h.slotValue(slot) != 0 {
				if !yield(h.slotRID(slot)) {
					return
				}
			}
		}
	}
}

// Count returns the number of live (non-zero) entries.
func (h *Hash) Count() int {
	n := 0
	for range h.Keys() {
		n++
	}
	return n
}
