// Package tbchain implements the triple-block chain (spec §4.5): per
// graph, a chain of 128-byte blocks each holding up to 5 (s,p,o) triples,
// with SPARSE (some triples are GONE) and SUPERSET (chain may be stale,
// reads must re-verify) flags carried on the chain's head block.
package tbchain

import (
	"encoding/binary"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/pagedfile"
)

// Magic "JXTB" per spec §6.3.
var Magic = [4]byte{'J', 'X', 'T', 'B'}

const Revision = 1

const (
	BlockSize   = 128
	TriplesPerBlock = 5
	tripleSize  = 24 // s,p,o as 3x8 bytes
)

const (
	offNext  = 0 // 4 bytes: successor block id (continues toward the tail)
	offUsed  = 4 // 1 byte: count of used triple slots in this block (max 5)
	offFlags = 5 // 1 byte: SPARSE/SUPERSET, only meaningful on the head block
	// bytes 6-7 are padding.
	offData = 8 // TriplesPerBlock * tripleSize = 120 bytes, fitting exactly in the remaining 120 of BlockSize
)

// Flags carried on a chain's head block.
type Flags uint32

const (
	Sparse   Flags = 1
	Superset Flags = 2
)

// Chain is the tbchain arena, shared by every graph's chain in a segment.
type Chain struct {
	pf *pagedfile.File
}

func Create(path string) (*Chain, error) {
	pf, err := pagedfile.Create(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: BlockSize, InitialCap: 64,
	})
	if err != nil {
		return nil, err
	}
	// Block 1 is reserved so no chain head is ever 1, the mhash value that
	// marks a graph stored in its own tlist file.
	if _, err := pf.Alloc(func(uint32) uint32 { return 0 }); err != nil {
		pf.Close()
		return nil, err
	}
	return &Chain{pf: pf}, nil
}

func Open(path string, readOnly bool) (*Chain, error) {
	pf, err := pagedfile.Open(path, pagedfile.Options{
		Magic: Magic, Revision: Revision, BlockSize: BlockSize, ReadOnly: readOnly,
	})
	if err != nil {
		return nil, err
	}
	return &Chain{pf: pf}, nil
}

func (c *Chain) Close() error { return c.pf.Close() }
func (c *Chain) Sync() error  { return c.pf.Sync() }

func (c *Chain) next(id uint32) uint32 {
	return binary.LittleEndian.Uint32(c.pf.Block(id)[offNext:])
}
func (c *Chain) setNext(id, next uint32) {
	binary.LittleEndian.PutUint32(c.pf.Block(id)[offNext:], next)
}
func (c *Chain) used(id uint32) uint32 {
	return uint32(c.pf.Block(id)[offUsed])
}
func (c *Chain) setUsed(id, n uint32) {
	c.pf.Block(id)[offUsed] = byte(n)
}
func (c *Chain) flags(id uint32) Flags {
	return Flags(c.pf.Block(id)[offFlags])
}
func (c *Chain) setFlags(id uint32, f Flags) {
	c.pf.Block(id)[offFlags] = byte(f)
}
func (c *Chain) triple(id uint32, slot int) rid.Quad {
	b := c.pf.Block(id)[offData+slot*tripleSize:]
	return rid.Quad{
		S: rid.RID(binary.LittleEndian.Uint64(b[0:])),
		P: rid.RID(binary.LittleEndian.Uint64(b[8:])),
		O: rid.RID(binary.LittleEndian.Uint64(b[16:])),
	}
}
func (c *Chain) setTriple(id uint32, slot int, q rid.Quad) {
	b := c.pf.Block(id)[offData+slot*tripleSize:]
	binary.LittleEndian.PutUint64(b[0:], uint64(q.S))
	binary.LittleEndian.PutUint64(b[8:], uint64(q.P))
	binary.LittleEndian.PutUint64(b[16:], uint64(q.O))
}

func (c *Chain) allocBlock() (uint32, error) {
	id, err := c.pf.Alloc(func(freeHead uint32) uint32 { return c.next(freeHead) })
	if err != nil {
		return 0, err
	}
	c.setNext(id, 0)
	c.setUsed(id, 0)
	c.setFlags(id, 0)
	return id, nil
}

func (c *Chain) freeBlock(id uint32) {
	c.pf.Free(id, func(id, prevHead uint32) { c.setNext(id, prevHead) })
}

// NewChain allocates a fresh, empty chain and returns its head id.
func (c *Chain) NewChain() (uint32, error) { return c.allocBlock() }

// AddTriple appends triple to the chain rooted at head. If head has room
// it is appended in place; else a new head is allocated that continues
// into the old one (prepend semantics, spec §4.5), and the new head id is
// returned for the caller to store back (e.g. into mhash).
func (c *Chain) AddTriple(head uint32, q rid.Quad) (newHead uint32, err error) {
	if head != 0 && c.used(head) < TriplesPerBlock {
		n := c.used(head)
		c.setTriple(head, int(n), q)
		c.setUsed(head, n+1)
		return head, nil
	}
	id, err := c.allocBlock()
	if err != nil {
		return head, err
	}
	c.setNext(id, head)
	c.setTriple(id, 0, q)
	c.setUsed(id, 1)
	if head != 0 {
		c.setFlags(id, c.flags(head))
	}
	return id, nil
}

// RemoveChain walks the chain rooted at head and frees every block.
func (c *Chain) RemoveChain(head uint32) {
	for id := head; id != 0; {
		next := c.next(id)
		c.freeBlock(id)
		id = next
	}
}

// Length counts only non-GONE triples reachable from head.
func (c *Chain) Length(head uint32) uint32 {
	var n uint32
	for id := head; id != 0; id = c.next(id) {
		for i := 0; i < int(c.used(id)); i++ {
			if c.triple(id, i).S != rid.GONE {
				n++
			}
		}
	}
	return n
}

func (c *Chain) SetBit(head uint32, f Flags)   { c.setFlags(head, c.flags(head)|f) }
func (c *Chain) ClearBit(head uint32, f Flags) { c.setFlags(head, c.flags(head)&^f) }
func (c *Chain) GetBit(head uint32, f Flags) bool { return c.flags(head)&f != 0 }

// Verifier reports whether triple q is still present in the authoritative
// ptree indexes for graph g; used to re-verify SUPERSET chains on read.
type Verifier func(g rid.RID, q rid.Quad) bool

// Iter yields triples of the chain rooted at head. When SUPERSET is set,
// each triple is cross-checked against verify, and triples that fail are
// overwritten with GONE and the chain is marked SPARSE. After a full scan
// that found no unverified (i.e. all-verified) triples, SUPERSET is
// cleared.
func (c *Chain) Iter(head uint32, graphHint rid.RID, verify Verifier) func(yield func(rid.Quad) bool) {
	return func(yield func(rid.Quad) bool) {
		if head == 0 {
			return
		}
		superset := c.GetBit(head, Superset)
		allVerified := true
		stopped := false
		for id := head; id != 0; id = c.next(id) {
			n := int(c.used(id))
			for i := 0; i < n; i++ {
				q := c.triple(id, i)
				if q.S == rid.GONE {
					continue
				}
				if superset && verify != nil {
					if !verify(graphHint, q) {
						q.S = rid.GONE
						c.setTriple(id, i, q)
						c.setFlags(head, c.flags(head)|Sparse)
						allVerified = false
						continue
					}
				}
				if stopped {
					continue
				}
				if !yield(q) {
					stopped = true
				}
			}
		}
		if superset && allVerified && !stopped {
			c.ClearBit(head, Superset)
		}
	}
}

// BlockIDs supports checking invariant (c) of spec §3/§8.3: every block is
// reachable from exactly one mhash entry (checked by the caller, which
// owns the set of live heads) or is in the free list. This helper walks a
// single chain and returns its block ids, for the caller to union against
// all other chains' block ids and the free list.
func (c *Chain) BlockIDs(head uint32) []uint32 {
	var ids []uint32
	for id := head; id != 0; id = c.next(id) {
		ids = append(ids, id)
	}
	return ids
}

var errInvalidHead = ferror.New(ferror.KindCorruption, "tbchain: head block has zero used triples")

// ValidateHead enforces the boundary rule that a chain head block with 0
// triples is invalid (spec §8 "Boundary behaviors").
func (c *Chain) ValidateHead(head uint32) error {
	if head != 0 && c.used(head) == 0 {
		return errInvalidHead
	}
	return nil
}
