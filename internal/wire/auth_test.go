package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthDigestIsDeterministic(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	a := AuthDigest("mykb", "secret", salt)
	b := AuthDigest("mykb", "secret", salt)
	assert.Equal(t, a, b)
}

func TestAuthDigestVariesByInput(t *testing.T) {
	salt := [4]byte{1, 2, 3, 4}
	base := AuthDigest("mykb", "secret", salt)

	assert.NotEqual(t, base, AuthDigest("otherkb", "secret", salt))
	assert.NotEqual(t, base, AuthDigest("mykb", "different", salt))
	assert.NotEqual(t, base, AuthDigest("mykb", "secret", [4]byte{9, 9, 9, 9}))
}

func TestCheckAuthDigest(t *testing.T) {
	salt := [4]byte{5, 6, 7, 8}
	digest := AuthDigest("mykb", "secret", salt)

	assert.True(t, CheckAuthDigest(digest, "mykb", "secret", salt))
	assert.False(t, CheckAuthDigest(digest, "mykb", "wrong", salt))
}
