// Package client implements a small reconnecting wire-protocol client,
// used by tests that want to exercise a *server over a real socket
// instead of calling into *segment.Segment directly.
package client

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fourstore/fourstore/internal/ferror"
	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/wire"
)

// Client is a single connection to a backend worker, auto-reconnecting
// on I/O failure.
type Client struct {
	addr     string
	kbname   string
	password string

	conn net.Conn
}

// Dial connects to addr and authenticates as kbname/password, retrying
// the initial connection with exponential backoff (the teacher's own
// RPC clients use the same library for dial retry).
func Dial(ctx context.Context, addr, kbname, password string) (*Client, error) {
	c := &Client{addr: addr, kbname: kbname, password: password}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", c.addr)
		return err
	}
	if err := backoff.Retry(op, b); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "client: dial %s", c.addr)
	}
	c.conn = conn
	return c.auth()
}

func (c *Client) auth() error {
	var salt [4]byte // a real client reads this from a prior handshake frame; zero here pending that exchange
	digest := wire.AuthDigest(c.kbname, c.password, salt)
	payload := wire.PutString(nil, c.kbname)
	payload = wire.PutString(payload, c.password)
	payload = append(payload, digest[:]...)
	if err := wire.WriteFrame(c.conn, wire.OpAuth, 0, payload); err != nil {
		return err
	}
	fr, err := wire.ReadFrame(c.conn, 1<<20)
	if err != nil {
		return err
	}
	if fr.Header.Op != wire.OpDoneOK {
		return ferror.New(ferror.KindAuth, "client: auth rejected")
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// call sends a single request frame and returns the response frame,
// reconnecting once on an I/O error before giving up.
func (c *Client) call(ctx context.Context, op wire.Opcode, segment uint32, payload []byte) (wire.Frame, error) {
	fr, err := c.tryCall(op, segment, payload)
	if err == nil {
		return fr, nil
	}
	if !ferror.Is(err, ferror.KindIO) {
		return wire.Frame{}, err
	}
	if rerr := c.connect(ctx); rerr != nil {
		return wire.Frame{}, rerr
	}
	return c.tryCall(op, segment, payload)
}

func (c *Client) tryCall(op wire.Opcode, segment uint32, payload []byte) (wire.Frame, error) {
	_ = c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	if err := wire.WriteFrame(c.conn, op, segment, payload); err != nil {
		return wire.Frame{}, err
	}
	return wire.ReadFrame(c.conn, 1<<20)
}

// Resolve fetches (attr, lex) for each rid in rids.
func (c *Client) Resolve(ctx context.Context, segment uint32, rids []rid.RID) ([]rid.Resource, error) {
	fr, err := c.call(ctx, wire.OpResolveAttr, segment, wire.PutRIDVector(nil, rids))
	if err != nil {
		return nil, err
	}
	if fr.Header.Op == wire.OpError {
		msg, _, _ := wire.TakeString(fr.Payload)
		return nil, ferror.New(ferror.KindProtocol, "client: resolve: %s", msg)
	}
	count, rest, err := wire.DecodeResourceAttrList(fr.Payload)
	_ = count
	return rest, err
}

// Bind issues a BIND_LIMIT request.
func (c *Client) Bind(ctx context.Context, segment uint32, req bind.Request) (bind.Result, error) {
	return c.doBind(ctx, wire.OpBindLimit, segment, req)
}

// ReverseBind issues a REVERSE_BIND request.
func (c *Client) ReverseBind(ctx context.Context, segment uint32, req bind.Request) (bind.Result, error) {
	return c.doBind(ctx, wire.OpReverseBind, segment, req)
}

func (c *Client) doBind(ctx context.Context, op wire.Opcode, segment uint32, req bind.Request) (bind.Result, error) {
	fr, err := c.call(ctx, op, segment, wire.EncodeBindRequest(req))
	if err != nil {
		return bind.Result{}, err
	}
	switch fr.Header.Op {
	case wire.OpNoMatch:
		return bind.Result{NoMatch: true}, nil
	case wire.OpError:
		msg, _, _ := wire.TakeString(fr.Payload)
		return bind.Result{}, ferror.New(ferror.KindProtocol, "client: bind: %s", msg)
	default:
		return wire.DecodeBindResult(fr.Payload)
	}
}
