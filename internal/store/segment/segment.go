// Package segment implements the Engine facade (spec §4.8): one open
// segment directory, owning its mhash/tbchain/rhash/metadata and a
// bounded LRU of open ptree pairs, one per predicate. Every higher-level
// operation (bind, ingest, purge) is reached only through a *Segment.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/store/ingest"
	"github.com/fourstore/fourstore/internal/store/mhash"
	"github.com/fourstore/fourstore/internal/store/metadata"
	"github.com/fourstore/fourstore/internal/store/ptable"
	"github.com/fourstore/fourstore/internal/store/ptree"
	"github.com/fourstore/fourstore/internal/store/purge"
	"github.com/fourstore/fourstore/internal/store/rhash"
	"github.com/fourstore/fourstore/internal/store/tbchain"
	"github.com/fourstore/fourstore/internal/store/tlist"
)

// MaxOpenPtrees bounds the LRU cache of (subject,object) ptree pairs kept
// open at once (spec §3 "Ownership & lifetimes", FS_MAX_OPEN_PTREES=300
// in the original engine).
const MaxOpenPtrees = 300

// QuadBufferCap is the staging capacity for quad_import before a caller
// must flush via quad_import_commit (spec §4.9).
const QuadBufferCap = 10240

// predTreePair is what the LRU cache holds per predicate.
type predTreePair struct {
	pred         rid.RID
	subj, obj    *ptree.Tree
	ptbl         *ptable.Table
}

func (p *predTreePair) close() {
	p.subj.Close()
	p.obj.Close()
	p.ptbl.Close()
}

// Segment is one open segment directory: every index structure that
// lives under it, plus the staging buffers import uses.
type Segment struct {
	dir  string
	id   int
	meta *metadata.Metadata

	mu sync.Mutex // serializes writers within this process; the segment directory also carries a real flock (spec §5)

	mhash   *mhash.Hash
	tbchain *tbchain.Chain
	rhash   *rhash.Hash

	ptrees *lru.Cache[rid.RID, *predTreePair]

	quadBuffer []rid.Quad
	resBuffer  []rid.Resource

	modelFiles bool
	defaultGraph rid.RID

	nextBnode rid.RID
}

// Open opens (or creates, if create is true) a segment rooted at dir.
func Open(dir string, id int, create bool) (*Segment, error) {
	s := &Segment{dir: dir, id: id}

	metaPath := filepath.Join(dir, "metadata.nt")
	meta, err := metadata.Open(metaPath)
	if err != nil {
		return nil, err
	}
	s.meta = meta
	s.modelFiles = meta.GetBool(metadata.ModelFiles, false)

	// Per-predicate ptrees live under "p/", per-graph tlists under "m/";
	// both must exist before any file inside them is created.
	for _, sub := range []string{"p", "m"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, ferror.Wrap(ferror.KindIO, err, "segment %s: create %s dir", dir, sub)
		}
	}

	mhashPath := filepath.Join(dir, "models.mhash")
	if create {
		s.mhash, err = mhash.Create(mhashPath)
	} else {
		s.mhash, err = mhash.Open(mhashPath, false)
	}
	if err != nil {
		return nil, err
	}

	tbPath := filepath.Join(dir, "quads.tbchain")
	if create {
		s.tbchain, err = tbchain.Create(tbPath)
	} else {
		s.tbchain, err = tbchain.Open(tbPath, false)
	}
	if err != nil {
		s.mhash.Close()
		return nil, err
	}

	rhPath := filepath.Join(dir, "resources.rhash")
	if create {
		s.rhash, err = rhash.Create(rhPath)
	} else {
		s.rhash, err = rhash.Open(rhPath, false)
	}
	if err != nil {
		s.mhash.Close()
		s.tbchain.Close()
		return nil, err
	}

	cache, err := lru.NewWithEvict[rid.RID, *predTreePair](MaxOpenPtrees, func(_ rid.RID, pair *predTreePair) {
		pair.close()
	})
	if err != nil {
		s.Close()
		return nil, ferror.Wrap(ferror.KindIO, err, "segment %s: create ptree cache", dir)
	}
	s.ptrees = cache

	return s, nil
}

// Close flushes and releases every open structure.
func (s *Segment) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ptrees != nil {
		for _, pred := range s.ptrees.Keys() {
			if pair, ok := s.ptrees.Peek(pred); ok {
				pair.close()
			}
		}
		s.ptrees.Purge()
	}
	if s.mhash != nil {
		keep(s.mhash.Close())
	}
	if s.tbchain != nil {
		keep(s.tbchain.Close())
	}
	if s.rhash != nil {
		keep(s.rhash.Close())
	}
	return firstErr
}

// ptreeBasePath returns the base path (without extension) for predicate
// p's ptree pair files (spec §6.3 directory layout: one pair of files per
// predicate, named by predicate RID).
func (s *Segment) ptreeBasePath(p rid.RID) string {
	return filepath.Join(s.dir, "p", fmt.Sprintf("%016x", uint64(p)))
}

// openPtree fetches predicate p's (subject,object) tree pair, creating
// them on first use, and evicting the LRU's oldest pair if the cache is
// at capacity (spec §3 "Ownership & lifetimes").
func (s *Segment) openPtree(p rid.RID) (subj, obj *ptree.Tree, err error) {
	if pair, ok := s.ptrees.Get(p); ok {
		return pair.subj, pair.obj, nil
	}

	base := s.ptreeBasePath(p)
	ptbl, err := openOrCreateTable(base + ".ptable")
	if err != nil {
		return nil, nil, err
	}
	subjT, err := openOrCreateTree(base+".subj", ptbl)
	if err != nil {
		ptbl.Close()
		return nil, nil, err
	}
	objT, err := openOrCreateTree(base+".obj", ptbl)
	if err != nil {
		subjT.Close()
		ptbl.Close()
		return nil, nil, err
	}

	pair := &predTreePair{pred: p, subj: subjT, obj: objT, ptbl: ptbl}
	s.ptrees.Add(p, pair)
	return subjT, objT, nil
}

// openPtreeIfExists is openPtree's read-only counterpart for bind plans
// that must never create a ptree that has no data (spec §4.10: plans
// never create new ptrees). It reports ok=false when no ptable file
// exists for p yet.
func (s *Segment) openPtreeIfExists(p rid.RID) (subj, obj *ptree.Tree, ok bool) {
	if pair, cached := s.ptrees.Get(p); cached {
		return pair.subj, pair.obj, true
	}
	base := s.ptreeBasePath(p)
	if !pathExists(base + ".ptable") {
		return nil, nil, false
	}
	subjT, objT, err := s.openPtree(p)
	if err != nil {
		log.Warnw("segment: failed reopening existing ptree", "pred", p, "err", err)
		return nil, nil, false
	}
	return subjT, objT, true
}

func openOrCreateTable(path string) (*ptable.Table, error) {
	if pathExists(path) {
		return ptable.Open(path, false)
	}
	return ptable.Create(path)
}

func openOrCreateTree(base string, pt *ptable.Table) (*ptree.Tree, error) {
	if pathExists(base + ".nodes") {
		return ptree.Open(base, pt, false)
	}
	return ptree.Create(base, pt)
}

// predicateList enumerates every predicate with an on-disk ptree pair,
// by walking the segment's "p/" directory (spec §4.10's distinct-P plan
// and scan fallbacks never need more than a directory listing).
func (s *Segment) predicateList(yield func(rid.RID) bool) {
	dir := filepath.Join(s.dir, "p")
	entries, err := listDir(dir)
	if err != nil {
		return
	}
	for _, name := range entries {
		v, ok := parsePredFileName(name)
		if !ok {
			continue
		}
		p := rid.RID(v)
		if !yield(p) {
			return
		}
	}
}

// openGraphFile opens (or creates) g's tlist file for the model_files
// storage path (spec §9 open question: both read paths are supported).
func (s *Segment) openGraphFile(g rid.RID) (*tlist.TList, bool, error) {
	path := s.graphFilePath(g)
	if pathExists(path) {
		tl, err := tlist.Open(path, false)
		return tl, true, err
	}
	tl, err := tlist.Create(path)
	return tl, err == nil, err
}

func (s *Segment) graphFilePath(g rid.RID) string {
	return filepath.Join(s.dir, "m", fmt.Sprintf("%016x", uint64(g)))
}

// graphTriples reads whatever backs g's triples (tbchain, or a tlist when
// model_files is in effect), used by bind's known-graph plan.
func (s *Segment) graphTriples(g rid.RID, yield func(s2, p, o rid.RID) bool) {
	v := s.mhash.Get(g)
	switch {
	case v == 0:
		return
	case v == 1:
		tl, ok, err := s.openGraphFile(g)
		if err != nil || !ok {
			return
		}
		tl.Iter()(yield)
	default:
		verify := func(graphHint rid.RID, q rid.Quad) bool {
			subj, _, ok := s.openPtreeIfExists(q.P)
			if !ok {
				return false
			}
			for range subj.Search(q.S, rid.Pair{graphHint, q.O}) {
				return true
			}
			return false
		}
		for q := range s.tbchain.Iter(v, g, verify) {
			if !yield(q.S, q.P, q.O) {
				return
			}
		}
	}
}

func (s *Segment) bindDeps() bind.Deps {
	return bind.Deps{
		MHash:         s.mhash,
		PredicateList: s.predicateList,
		OpenPtree:     s.openPtreeIfExists,
		GraphTriples:  s.graphTriples,
	}
}

func (s *Segment) purgeDeps() purge.Deps {
	return purge.Deps{
		MHash:         s.mhash,
		TBChain:       s.tbchain,
		PredicateList: s.predicateList,
		OpenPtree:     s.openPtreeIfExists,
		OpenGraph:     s.openGraphFile,
		SegmentSize:   s.approxQuadCount(),
	}
}

func (s *Segment) approxQuadCount() uint64 {
	var n uint64
	s.predicateList(func(p rid.RID) bool {
		if subj, _, ok := s.openPtreeIfExists(p); ok {
			n += subj.Count()
		}
		return true
	})
	return n
}

// Bind executes a quad-pattern match (spec §4.10).
func (s *Segment) Bind(req bind.Request) (bind.Result, error) {
	return bind.Do(s.bindDeps(), req)
}

// ReverseBind executes the reverse-bind primitive (spec §4.10).
func (s *Segment) ReverseBind(req bind.Request) (bind.Result, error) {
	return bind.ReverseBind(s.bindDeps(), req)
}

// Resolve fetches the (attr, lexical) form of a set of RIDs (spec §4.6).
func (s *Segment) Resolve(resources []rid.Resource) error {
	return s.rhash.GetMulti(resources)
}

// AllQuads enumerates every quad stored under this segment, across every
// predicate's subject ptree, for use by dump/restore and consistency
// checks (spec SUPPLEMENTED FEATURES' dump/debug routines). It is a
// subject-ptree sweep, so it never double-counts a quad the way walking
// both subject and object trees would.
func (s *Segment) AllQuads(yield func(rid.Quad) bool) {
	stop := false
	s.predicateList(func(p rid.RID) bool {
		subj, _, ok := s.openPtreeIfExists(p)
		if !ok {
			return true
		}
		for pk, pair := range subj.Traverse(false, rid.NULL) {
			if !yield(rid.Quad{G: pair[0], S: pk, P: p, O: pair[1]}) {
				stop = true
				return false
			}
		}
		return !stop
	})
}

// StartImport begins a staged-write session: the quad and resource
// buffers are cleared and writes are serialized behind s.mu until
// StopImport (spec §4.9/§5).
func (s *Segment) StartImport() {
	s.mu.Lock()
	s.quadBuffer = s.quadBuffer[:0]
	s.resBuffer = s.resBuffer[:0]
}

// StopImport flushes any staged-but-uncommitted rows, fsyncs every
// structure (spec §5 "Ordering guarantees": durable once stop_import
// returns), and releases the writer lock.
func (s *Segment) StopImport() error {
	defer s.mu.Unlock()
	if err := s.flushQuads(); err != nil {
		return err
	}
	if err := s.flushResources(); err != nil {
		return err
	}
	for _, sync := range []func() error{s.mhash.Sync, s.tbchain.Sync, s.rhash.Sync} {
		if err := sync(); err != nil {
			return err
		}
	}
	return nil
}

// InsertResource stages a resource for commit (spec §4.9 res_import).
func (s *Segment) InsertResource(r rid.Resource) error {
	s.resBuffer = append(s.resBuffer, r)
	if len(s.resBuffer) >= QuadBufferCap {
		return s.flushResources()
	}
	return nil
}

// CommitResources flushes the resource buffer immediately (spec §4.9
// res_import_commit).
func (s *Segment) CommitResources() error { return s.flushResources() }

func (s *Segment) flushResources() error {
	if len(s.resBuffer) == 0 {
		return nil
	}
	if err := s.rhash.PutMulti(s.resBuffer); err != nil {
		return err
	}
	s.resBuffer = s.resBuffer[:0]
	return nil
}

// InsertQuad stages a quad for commit (spec §4.9 quad_import).
func (s *Segment) InsertQuad(q rid.Quad) error {
	s.quadBuffer = append(s.quadBuffer, q)
	if len(s.quadBuffer) >= QuadBufferCap {
		return s.flushQuads()
	}
	return nil
}

// CommitQuads runs the ingest algorithm over the staged quad buffer
// immediately (spec §4.9 quad_import_commit).
func (s *Segment) CommitQuads() error { return s.flushQuads() }

func (s *Segment) flushQuads() error {
	if len(s.quadBuffer) == 0 {
		return nil
	}
	deps := ingest.Deps{
		MHash:        s.mhash,
		TBChain:      s.tbchain,
		OpenPtree:    s.openPtree,
		OpenGraph:    func(g rid.RID) (*tlist.TList, error) { tl, _, err := s.openGraphFile(g); return tl, err },
		ModelFiles:   s.modelFiles,
		DefaultGraph: s.defaultGraph,
	}
	batch := append([]rid.Quad(nil), s.quadBuffer...)
	if err := ingest.Commit(deps, batch); err != nil {
		return err
	}
	s.quadBuffer = s.quadBuffer[:0]
	return nil
}

// DeleteModels removes whole graphs (spec §4.11 delete_models).
func (s *Segment) DeleteModels(graphs []rid.RID) error {
	_, err := purge.DeleteModels(s.purgeDeps(), graphs)
	return err
}

// DeleteQuads removes individual quads (spec §4.11 delete_quads).
func (s *Segment) DeleteQuads(quads []rid.Quad) error {
	_, err := purge.DeleteQuads(s.purgeDeps(), quads)
	return err
}

// WipeAll empties the segment entirely (spec §4.11 wipe-all, used by
// backend-destroy/backend-setup --force).
func (s *Segment) WipeAll() error {
	return purge.WipeAll(s.purgeDeps())
}

// AllocBnode reserves count fresh blank-node RIDs (spec §4.8
// bnode_alloc): a contiguous run tagged TypeBlank, persisted via the
// metadata file's "bnode" counter so restarts never reuse a range.
func (s *Segment) AllocBnode(count int) (from, to rid.RID, err error) {
	if s.nextBnode == 0 {
		s.nextBnode = rid.RID(s.meta.GetInt(metadata.Bnode, 0)) + 1
	}
	from = s.nextBnode
	s.nextBnode += rid.RID(count)
	to = s.nextBnode - 1
	s.meta.SetInt(metadata.Bnode, int64(s.nextBnode-1))
	if err := s.meta.Flush(); err != nil {
		return 0, 0, err
	}
	return rid.WithTag(rid.TypeBlank, uint64(from)), rid.WithTag(rid.TypeBlank, uint64(to)), nil
}

// Transaction is unimplemented in this branch (spec §9 open question:
// the original engine's transaction support is itself a stub). Callers
// should treat this as a documented limit, not a bug to work around.
func (s *Segment) Transaction(op int) error {
	return ferror.New(ferror.KindUnsupported, "segment: transaction op %d is not supported in this branch", op)
}
