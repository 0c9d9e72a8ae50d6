package ferror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	scenarios := []struct {
		kind Kind
		want string
	}{
		{KindIO, "io"},
		{KindCorruption, "corruption"},
		{KindProtocol, "protocol"},
		{KindAuth, "auth"},
		{KindCapacity, "capacity"},
		{KindNotFound, "not_found"},
		{KindConflict, "conflict"},
		{KindUnsupported, "unsupported"},
		{Kind(99), "unknown"},
	}

	for _, s := range scenarios {
		assert.Equal(t, s.want, s.kind.String())
	}
}

func TestNewHasNoCause(t *testing.T) {
	err := New(KindNotFound, "graph %s missing", "g1")
	assert.Equal(t, "not_found: graph g1 missing", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapPreservesCauseAndIs(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindCapacity, cause, "grow segment")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity")
	assert.Contains(t, err.Error(), "grow segment")
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, Is(err, KindCapacity))
	assert.False(t, Is(err, KindIO))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindIO))
}
