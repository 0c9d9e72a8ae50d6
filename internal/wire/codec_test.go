package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/rid"
)

func TestPutTakeStringRoundTrip(t *testing.T) {
	scenarios := []string{"", "a", "http://example.org/thing", "exactly8"}

	for _, s := range scenarios {
		buf := PutString(nil, s)
		assert.Equal(t, 0, len(buf)%8, "padded length must be a multiple of 8")

		got, rest, err := TakeString(buf)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Empty(t, rest)
	}
}

func TestTakeStringLeavesTrailingBytes(t *testing.T) {
	buf := PutString(nil, "hi")
	buf = append(buf, 0xAA, 0xBB)

	got, rest, err := TakeString(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)
}

func TestTakeStringRejectsUnterminated(t *testing.T) {
	_, _, err := TakeString([]byte{'a', 'b', 'c'})
	require.Error(t, err)
}

func TestPutTakeRIDVectorRoundTrip(t *testing.T) {
	scenarios := [][]rid.RID{
		nil,
		{rid.NULL},
		{rid.RID(1), rid.RID(2), rid.RID(3)},
	}

	for _, s := range scenarios {
		buf := PutRIDVector(nil, s)
		got, rest, err := TakeRIDVector(buf)
		require.NoError(t, err)
		assert.Equal(t, len(s), len(got))
		for i := range s {
			assert.Equal(t, s[i], got[i])
		}
		assert.Empty(t, rest)
	}
}

func TestTakeRIDVectorRejectsTruncation(t *testing.T) {
	_, _, err := TakeRIDVector([]byte{1, 0})
	require.Error(t, err)

	buf := PutRIDVector(nil, []rid.RID{1, 2})
	_, _, err = TakeRIDVector(buf[:len(buf)-4])
	require.Error(t, err)
}
