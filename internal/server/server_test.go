package server

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
	"github.com/fourstore/fourstore/internal/store/bind"
	"github.com/fourstore/fourstore/internal/store/segment"
	"github.com/fourstore/fourstore/internal/wire"
)

const testPassword = "sekrit"

var testSalt = [4]byte{1, 2, 3, 4}

// newTestServer opens a fresh segment and a Server over it, wired to a
// net.Pipe so tests can drive the frame dispatcher without a real socket.
func newTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	dir := t.TempDir()
	seg, err := segment.Open(dir, 0, true)
	require.NoError(t, err)

	srv, err := New(seg, Auth{KBName: "kb", Password: testPassword, Salt: testSalt}, filepath.Join(dir, "lock"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	serverConn, clientConn := net.Pipe()
	go srv.handleConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return srv, clientConn
}

func sendFrame(t *testing.T, conn net.Conn, op wire.Opcode, payload []byte) wire.Frame {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, wire.WriteFrame(conn, op, 0, payload))
	fr, err := wire.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	return fr
}

func authenticate(t *testing.T, conn net.Conn) {
	t.Helper()
	digest := wire.AuthDigest("kb", testPassword, testSalt)
	payload := wire.PutString(nil, "kb")
	payload = wire.PutString(payload, testPassword)
	payload = append(payload, digest[:]...)
	fr := sendFrame(t, conn, wire.OpAuth, payload)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)
}

func TestAuthThenNoOpSucceeds(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	fr := sendFrame(t, conn, wire.OpNoOp, nil)
	assert.Equal(t, wire.OpDoneOK, fr.Header.Op)
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	_, conn := newTestServer(t)
	fr := sendFrame(t, conn, wire.OpResolveAttr, wire.PutRIDVector(nil, []rid.RID{1}))
	assert.Equal(t, wire.OpError, fr.Header.Op)
}

func TestAuthWithWrongPasswordFails(t *testing.T) {
	_, conn := newTestServer(t)
	digest := wire.AuthDigest("kb", "wrong-password", testSalt)
	payload := wire.PutString(nil, "kb")
	payload = wire.PutString(payload, "wrong-password")
	payload = append(payload, digest[:]...)
	fr := sendFrame(t, conn, wire.OpAuth, payload)
	assert.Equal(t, wire.OpError, fr.Header.Op)
}

func TestNoOpBeforeAuthIsAllowed(t *testing.T) {
	_, conn := newTestServer(t)
	fr := sendFrame(t, conn, wire.OpNoOp, nil)
	assert.Equal(t, wire.OpDoneOK, fr.Header.Op)
}

func TestInsertResourceCommitAndResolveRoundTrip(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	payload := wire.PutRIDVector(nil, []rid.RID{42})
	payload = wire.PutString(payload, "http://example.org/thing")
	fr := sendFrame(t, conn, wire.OpInsertResource, payload)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpCommitResource, nil)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpResolveAttr, wire.PutRIDVector(nil, []rid.RID{42}))
	require.Equal(t, wire.OpResourceAttrList, fr.Header.Op)
	_, resources, err := wire.DecodeResourceAttrList(fr.Payload)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "http://example.org/thing", resources[0].Lex)
}

func TestInsertQuadCommitAndBindRoundTrip(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	fr := sendFrame(t, conn, wire.OpInsertQuad, wire.PutRIDVector(nil, []rid.RID{1, 10, 2, 20}))
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)
	fr = sendFrame(t, conn, wire.OpCommitQuad, nil)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	req := bind.Request{Flags: bind.Flags{Columns: bind.ColS}, P: []rid.RID{2}, Limit: -1}
	fr = sendFrame(t, conn, wire.OpBindLimit, wire.EncodeBindRequest(req))
	require.Equal(t, wire.OpBindList, fr.Header.Op)
	res, err := wire.DecodeBindResult(fr.Payload)
	require.NoError(t, err)
	assert.Equal(t, []rid.RID{10}, res.S)
}

func TestBindNoMatchReturnsNoMatchOpcode(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	req := bind.Request{P: []rid.RID{999}, Limit: -1}
	fr := sendFrame(t, conn, wire.OpBindLimit, wire.EncodeBindRequest(req))
	assert.Equal(t, wire.OpNoMatch, fr.Header.Op)
}

func TestBnodeAllocReturnsRange(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	payload := make([]byte, 4)
	payload[0] = 5 // count=5, little endian uint32
	fr := sendFrame(t, conn, wire.OpBnodeAlloc, payload)
	require.Equal(t, wire.OpBnodeRange, fr.Header.Op)
	rids, _, err := wire.TakeRIDVector(fr.Payload)
	require.NoError(t, err)
	require.Len(t, rids, 2)
	assert.Equal(t, rid.TypeBlank, rids[0].Tag())
}

func TestStartImportThenStopImportFlushesBuffer(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	fr := sendFrame(t, conn, wire.OpStartImport, nil)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpInsertQuad, wire.PutRIDVector(nil, []rid.RID{1, 10, 2, 20}))
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpStopImport, nil)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)
}

func TestDeleteModelsAndDeleteQuads(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	fr := sendFrame(t, conn, wire.OpInsertQuad, wire.PutRIDVector(nil, []rid.RID{1, 10, 2, 20}))
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)
	fr = sendFrame(t, conn, wire.OpCommitQuad, nil)
	require.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpDeleteQuads, wire.PutRIDVector(nil, []rid.RID{1, 10, 2, 20}))
	assert.Equal(t, wire.OpDoneOK, fr.Header.Op)

	fr = sendFrame(t, conn, wire.OpDeleteModels, wire.PutRIDVector(nil, []rid.RID{1}))
	assert.Equal(t, wire.OpDoneOK, fr.Header.Op)
}

func TestTransactionOpcodeReturnsError(t *testing.T) {
	_, conn := newTestServer(t)
	authenticate(t, conn)

	fr := sendFrame(t, conn, wire.OpTransaction, nil)
	assert.Equal(t, wire.OpError, fr.Header.Op)
}

func TestNewRejectsSecondLockOnSameDirectory(t *testing.T) {
	dir := t.TempDir()
	seg1, err := segment.Open(dir, 0, true)
	require.NoError(t, err)
	defer seg1.Close()

	lockPath := filepath.Join(dir, "lock")
	srv1, err := New(seg1, Auth{}, lockPath, 0)
	require.NoError(t, err)
	defer srv1.Close()

	seg2, err := segment.Open(filepath.Join(dir, "dup-view"), 0, true)
	require.NoError(t, err)
	defer seg2.Close()

	_, err = New(seg2, Auth{}, lockPath, 0)
	require.Error(t, err)
}
