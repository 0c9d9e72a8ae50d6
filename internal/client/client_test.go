package client

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/server"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/store/segment"
)

// startTestServer boots a real *server.Server over a loopback TCP
// listener and returns its address, tearing both down on test cleanup.
func startTestServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seg, err := segment.Open(dir, 0, true)
	require.NoError(t, err)

	srv, err := server.New(seg, server.Auth{KBName: "kb", Password: "pw"}, filepath.Join(dir, "lock"), 0)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return ln.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, "kb", "pw")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDialAuthenticatesSuccessfully(t *testing.T) {
	addr := startTestServer(t)
	dialTestClient(t, addr)
}

func TestDialFailsWithWrongPassword(t *testing.T) {
	addr := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, addr, "kb", "wrong")
	require.Error(t, err)
}

func TestResolveRoundTripsOverRealSocket(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)

	res, err := c.Resolve(context.Background(), 0, []rid.RID{1})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, rid.RID(1), res[0].RID)
}

func TestBindReturnsNoMatchForUnknownPredicate(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)

	res, err := c.Bind(context.Background(), 0, bind.Request{
		P:     []rid.RID{999},
		Limit: -1,
	})
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
}

func TestReverseBindRejectsObjectDirectionOverSocket(t *testing.T) {
	addr := startTestServer(t)
	c := dialTestClient(t, addr)

	_, err := c.ReverseBind(context.Background(), 0, bind.Request{
		Flags: bind.Flags{Direction: rid.ByObject},
		P:     []rid.RID{1},
		O:     []rid.RID{2},
	})
	require.Error(t, err)
}
