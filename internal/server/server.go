// Package server implements the per-connection frame dispatcher (spec
// §5/§6.1): one goroutine per client connection, reading and replying to
// wire.Frame requests against a *segment.Segment, the idiomatic
// replacement for the original engine's fork-per-connection model.
package server

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/log"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/storeroot"
	"github.com/fourstore/fourstore/internal/wire"
)

// maxPayload bounds a single frame's payload (spec §8: oversized length
// is a Protocol error, not a crash).
const maxPayload = 64 << 20

// Auth carries the credentials a connection must present before any
// opcode besides AUTH/NO_OP is served (spec §6.1).
type Auth struct {
	KBName   string
	Password string
	Salt     [4]byte
}

// Server owns one segment and accepts connections for it. A segment may
// only be open for writing from one process at a time (spec §5): the
// directory-level flock is acquired for the process's lifetime, and a
// sync.Mutex inside Segment serializes writers within this process.
type Server struct {
	seg      *segment.Segment
	auth     Auth
	flock    *flock.Flock
	segDir   string
	minFree  uint64 // 0 disables the check
}

// New opens seg's directory lock and returns a Server ready to accept
// connections. dirLockPath should name a file inside the segment
// directory reserved for this purpose (spec §5). minFreeBytes gates
// START_IMPORT with a Capacity error when segDir's filesystem has less
// free space than this (0 disables the check; spec SUPPLEMENTED
// FEATURES, storeroot.FreeSpace).
func New(seg *segment.Segment, auth Auth, dirLockPath string, minFreeBytes uint64) (*Server, error) {
	fl := flock.New(dirLockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, ferror.Wrap(ferror.KindIO, err, "server: lock %s", dirLockPath)
	}
	if !ok {
		return nil, ferror.New(ferror.KindConflict, "server: segment %s already locked by another process", dirLockPath)
	}
	return &Server{seg: seg, auth: auth, flock: fl, segDir: filepath.Dir(dirLockPath), minFree: minFreeBytes}, nil
}

// Close releases the segment directory lock and the segment itself.
func (s *Server) Close() error {
	_ = s.flock.Unlock()
	return s.seg.Close()
}

// Serve accepts connections on ln until ctx is cancelled, handling each
// on its own goroutine (spec §5's goroutine-per-connection model).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return ferror.Wrap(ferror.KindIO, err, "server: accept")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			s.handleConn(conn)
		}()
	}
}

// handleConn services one connection until it errors or the peer closes.
func (s *Server) handleConn(conn net.Conn) {
	c := &conn_{Server: s, rw: conn, remote: conn.RemoteAddr().String()}
	for {
		fr, err := wire.ReadFrame(conn, maxPayload)
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Warnw("server: frame read error", "remote", c.remote, "err", err)
			return
		}
		if !c.authed && fr.Header.Op.RequiresAuth() {
			writeError(conn, fr.Header.Segment, ferror.New(ferror.KindAuth, "server: AUTH required before %s", fr.Header.Op))
			continue
		}
		if err := c.dispatch(fr); err != nil {
			writeError(conn, fr.Header.Segment, err)
			if ferror.Is(err, ferror.KindIO) {
				return
			}
		}
	}
}

type conn_ struct {
	*Server
	rw     io.Writer
	remote string
	authed bool
}

func writeError(w io.Writer, segID uint32, err error) {
	msg := err.Error()
	if werr := wire.WriteFrame(w, wire.OpError, segID, wire.PutString(nil, msg)); werr != nil {
		log.Warnw("server: failed writing error frame", "err", werr)
	}
}

func (c *conn_) dispatch(fr wire.Frame) error {
	switch fr.Header.Op {
	case wire.OpAuth:
		return c.handleAuth(fr)
	case wire.OpNoOp:
		return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
	case wire.OpResolveAttr:
		return c.handleResolve(fr)
	case wire.OpBindLimit:
		return c.handleBind(fr, false)
	case wire.OpReverseBind:
		return c.handleBind(fr, true)
	case wire.OpInsertResource:
		return c.handleInsertResource(fr)
	case wire.OpCommitResource:
		if err := c.seg.CommitResources(); err != nil {
			return err
		}
		return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
	case wire.OpInsertQuad:
		return c.handleInsertQuad(fr)
	case wire.OpCommitQuad:
		if err := c.seg.CommitQuads(); err != nil {
			return err
		}
		return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
	case wire.OpStartImport:
		if c.Server.minFree > 0 {
			if err := storeroot.CheckCapacity(c.Server.segDir, c.Server.minFree); err != nil {
				return err
			}
		}
		c.seg.StartImport()
		return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
	case wire.OpStopImport:
		if err := c.seg.StopImport(); err != nil {
			return err
		}
		return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
	case wire.OpDeleteModels:
		return c.handleDeleteModels(fr)
	case wire.OpDeleteQuads:
		return c.handleDeleteQuads(fr)
	case wire.OpBnodeAlloc:
		return c.handleBnodeAlloc(fr)
	case wire.OpTransaction:
		return c.seg.Transaction(0)
	default:
		return ferror.New(ferror.KindProtocol, "server: opcode %s not handled by this build", fr.Header.Op)
	}
}

func (c *conn_) handleAuth(fr wire.Frame) error {
	kbname, rest, err := wire.TakeString(fr.Payload)
	if err != nil {
		return err
	}
	password, rest, err := wire.TakeString(rest)
	if err != nil {
		return err
	}
	if len(rest) < wire.AuthDigestLen {
		return ferror.New(ferror.KindProtocol, "server: AUTH payload missing digest")
	}
	var digest [wire.AuthDigestLen]byte
	copy(digest[:], rest)
	_ = kbname
	_ = password
	if !wire.CheckAuthDigest(digest, c.Server.auth.KBName, c.Server.auth.Password, c.Server.auth.Salt) {
		return ferror.New(ferror.KindAuth, "server: auth failed")
	}
	c.authed = true
	payload := wire.PutString(nil, string(wire.FeatureNone))
	return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, payload)
}

func (c *conn_) handleResolve(fr wire.Frame) error {
	rids, _, err := wire.TakeRIDVector(fr.Payload)
	if err != nil {
		return err
	}
	resources := make([]rid.Resource, len(rids))
	for i, r := range rids {
		resources[i].RID = r
	}
	if err := c.seg.Resolve(resources); err != nil {
		return err
	}
	buf := wire.EncodeResourceAttrList(resources)
	return wire.WriteFrame(c.rw, wire.OpResourceAttrList, fr.Header.Segment, buf)
}

func (c *conn_) handleInsertResource(fr wire.Frame) error {
	rids, rest, err := wire.TakeRIDVector(fr.Payload)
	if err != nil {
		return err
	}
	if len(rids) != 1 {
		return ferror.New(ferror.KindProtocol, "server: INSERT_RESOURCE expects exactly one rid")
	}
	lex, _, err := wire.TakeString(rest)
	if err != nil {
		return err
	}
	if err := c.seg.InsertResource(rid.Resource{RID: rids[0], Lex: lex}); err != nil {
		return err
	}
	return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
}

func (c *conn_) handleInsertQuad(fr wire.Frame) error {
	rids, _, err := wire.TakeRIDVector(fr.Payload)
	if err != nil {
		return err
	}
	if len(rids) != 4 {
		return ferror.New(ferror.KindProtocol, "server: INSERT_QUAD expects 4 rids")
	}
	if err := c.seg.InsertQuad(rid.Quad{G: rids[0], S: rids[1], P: rids[2], O: rids[3]}); err != nil {
		return err
	}
	return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
}

func (c *conn_) handleDeleteModels(fr wire.Frame) error {
	rids, _, err := wire.TakeRIDVector(fr.Payload)
	if err != nil {
		return err
	}
	if err := c.seg.DeleteModels(rids); err != nil {
		return err
	}
	return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
}

func (c *conn_) handleDeleteQuads(fr wire.Frame) error {
	rids, _, err := wire.TakeRIDVector(fr.Payload)
	if err != nil {
		return err
	}
	if len(rids)%4 != 0 {
		return ferror.New(ferror.KindProtocol, "server: DELETE_QUADS vector length must be a multiple of 4")
	}
	quads := make([]rid.Quad, len(rids)/4)
	for i := range quads {
		quads[i] = rid.Quad{G: rids[i*4], S: rids[i*4+1], P: rids[i*4+2], O: rids[i*4+3]}
	}
	if err := c.seg.DeleteQuads(quads); err != nil {
		return err
	}
	return wire.WriteFrame(c.rw, wire.OpDoneOK, fr.Header.Segment, nil)
}

func (c *conn_) handleBnodeAlloc(fr wire.Frame) error {
	count, _, err := takeUint32Local(fr.Payload)
	if err != nil {
		return err
	}
	from, to, err := c.seg.AllocBnode(int(count))
	if err != nil {
		return err
	}
	buf := wire.PutRIDVector(nil, []rid.RID{from, to})
	return wire.WriteFrame(c.rw, wire.OpBnodeRange, fr.Header.Segment, buf)
}

func (c *conn_) handleBind(fr wire.Frame, reverse bool) error {
	req, err := decodeBindRequest(fr.Payload)
	if err != nil {
		return err
	}
	var res bind.Result
	if reverse {
		res, err = c.seg.ReverseBind(req)
	} else {
		res, err = c.seg.Bind(req)
	}
	if err != nil {
		return err
	}
	if res.NoMatch {
		return wire.WriteFrame(c.rw, wire.OpNoMatch, fr.Header.Segment, nil)
	}
	buf := encodeBindResult(res)
	return wire.WriteFrame(c.rw, wire.OpBindList, fr.Header.Segment, buf)
}
