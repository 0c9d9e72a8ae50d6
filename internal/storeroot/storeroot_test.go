package storeroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourstore/fourstore/internal/ferror"
)

func TestOpenUsesEnvThenDefault(t *testing.T) {
	old, had := os.LookupEnv(EnvStoreRoot)
	defer func() {
		if had {
			os.Setenv(EnvStoreRoot, old)
		} else {
			os.Unsetenv(EnvStoreRoot)
		}
	}()

	os.Unsetenv(EnvStoreRoot)
	r, err := Open("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRoot, r.Path)

	os.Setenv(EnvStoreRoot, "/data/4store")
	r, err = Open("")
	require.NoError(t, err)
	assert.Equal(t, "/data/4store", r.Path)

	r, err = Open("/explicit")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", r.Path)
}

func TestKBAndSegmentPath(t *testing.T) {
	r := &Root{Fs: afero.NewMemMapFs(), Path: "/store"}
	assert.Equal(t, filepath.Join("/store", "mykb"), r.KBPath("mykb"))
	assert.Equal(t, filepath.Join("/store", "mykb", "segment-3"), r.SegmentPath("mykb", 3))
}

func TestFreeSpaceOnRealDir(t *testing.T) {
	free, err := FreeSpace(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestCheckCapacity(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckCapacity(dir, 0))

	err := CheckCapacity(dir, ^uint64(0))
	require.Error(t, err)
	assert.True(t, ferror.Is(err, ferror.KindCapacity))
}

func TestEnsureDirAndRemoveKB(t *testing.T) {
	r := &Root{Fs: afero.NewMemMapFs(), Path: "/store"}
	require.NoError(t, r.EnsureDir(r.SegmentPath("mykb", 0)))

	exists, err := afero.DirExists(r.Fs, r.SegmentPath("mykb", 0))
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, r.RemoveKB("mykb"))
	exists, err = afero.DirExists(r.Fs, r.KBPath("mykb"))
	require.NoError(t, err)
	assert.False(t, exists)
}
