package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/ferror"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello quads")

	require.NoError(t, WriteFrame(&buf, OpInsertQuad, 3, payload))

	fr, err := ReadFrame(&buf, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, OpInsertQuad, fr.Header.Op)
	assert.Equal(t, uint32(3), fr.Header.Segment)
	assert.Equal(t, uint32(len(payload)), fr.Header.Len)
	assert.Equal(t, payload, fr.Payload)
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpNoOp, 0, nil))

	fr, err := ReadFrame(&buf, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, OpNoOp, fr.Header.Op)
	assert.Empty(t, fr.Payload)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := []byte{'X', 'Y', Version, byte(OpNoOp), 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := ReadFrame(bytes.NewReader(buf), 1<<20)
	require.Error(t, err)
	assert.True(t, ferror.Is(err, ferror.KindProtocol))
}

func TestReadFrameRejectsUnknownOpcode(t *testing.T) {
	buf := []byte{Magic[0], Magic[1], Version, 255, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := ReadFrame(bytes.NewReader(buf), 1<<20)
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpInsertQuad, 0, make([]byte, 100)))
	_, err := ReadFrame(&buf, 10)
	require.Error(t, err)
}

func TestOpcodeValidAndString(t *testing.T) {
	assert.True(t, OpAuth.valid())
	assert.True(t, OpNoMatch.valid())
	assert.False(t, Opcode(0).valid())
	assert.False(t, opcodeCount.valid())
	assert.Equal(t, "AUTH", OpAuth.String())
	assert.Equal(t, "UNKNOWN", Opcode(0).String())
}

func TestRequiresAuth(t *testing.T) {
	assert.False(t, OpAuth.RequiresAuth())
	assert.False(t, OpNoOp.RequiresAuth())
	assert.True(t, OpInsertQuad.RequiresAuth())
	assert.True(t, OpBindLimit.RequiresAuth())
}
