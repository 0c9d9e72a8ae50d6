package adminwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("mykb")

	require.NoError(t, WriteFrame(&buf, OpCreateKB, payload))

	fr, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpCreateKB, fr.Op)
	assert.Equal(t, payload, fr.Payload)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, OpCreateKB, make([]byte, maxPayload+1))
	require.Error(t, err)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	buf := []byte{'X', 'Y', Version, byte(OpStartKB), 0, 0}
	_, err := ReadFrame(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestReadFrameRejectsBadVersion(t *testing.T) {
	buf := []byte{Magic[0], Magic[1], 99, byte(OpStartKB), 0, 0}
	_, err := ReadFrame(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpDoneOK, nil))

	fr, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpDoneOK, fr.Op)
	assert.Empty(t, fr.Payload)
}
