// Package storeroot abstracts the $FS_STORE_ROOT directory tree that
// holds every KB's segment directories (spec §6.5), using afero so
// tests can swap in an in-memory filesystem instead of touching disk.
package storeroot

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"

	"github.com/fourstore/fourstore/internal/ferror"
)

const (
	// EnvStoreRoot names the environment variable pointing at the store
	// root directory (spec §6.5).
	EnvStoreRoot = "FS_STORE_ROOT"
	// DefaultRoot is used when EnvStoreRoot is unset.
	DefaultRoot = "/var/lib/4store"

	// EnvDiskLimit names the environment variable holding the minimum
	// free-space threshold, in megabytes (spec §6.5).
	EnvDiskLimit = "FS_DISK_LIMIT"
)

// Root is one store root directory.
type Root struct {
	Fs   afero.Fs
	Path string
}

// Open resolves the store root from the environment (or dir if
// non-empty) and returns a Root backed by the real OS filesystem.
func Open(dir string) (*Root, error) {
	if dir == "" {
		dir = os.Getenv(EnvStoreRoot)
	}
	if dir == "" {
		dir = DefaultRoot
	}
	return &Root{Fs: afero.NewOsFs(), Path: dir}, nil
}

// KBPath returns the on-disk path for kbname's store directory.
func (r *Root) KBPath(kbname string) string {
	return filepath.Join(r.Path, kbname)
}

// SegmentPath returns the on-disk path for one of kbname's segment
// directories.
func (r *Root) SegmentPath(kbname string, segID int) string {
	return filepath.Join(r.KBPath(kbname), fmt.Sprintf("segment-%d", segID))
}

// FreeSpace reports the number of free bytes available on the
// filesystem that backs path, consulted by start_import's Capacity
// error path (spec SUPPLEMENTED FEATURES, 4s-store-root.c's disk-free
// threshold check). afero has no cross-platform statfs of its own, so
// this one call goes directly to syscall — logged as an intentional
// stdlib exception in DESIGN.md since the corpus carries no statfs
// wrapper library.
func FreeSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, ferror.Wrap(ferror.KindIO, err, "storeroot: statfs %s", path)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CheckCapacity returns a Capacity error if path's filesystem has less
// than minFreeBytes available (spec §4.9 start_import / §8 error kinds).
func CheckCapacity(path string, minFreeBytes uint64) error {
	free, err := FreeSpace(path)
	if err != nil {
		return err
	}
	if free < minFreeBytes {
		return ferror.New(ferror.KindCapacity, "storeroot: %s has %d bytes free, below threshold %d", path, free, minFreeBytes)
	}
	return nil
}

// EnsureDir creates dir (and parents) if it does not already exist.
func (r *Root) EnsureDir(dir string) error {
	if err := r.Fs.MkdirAll(dir, 0o755); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "storeroot: mkdir %s", dir)
	}
	return nil
}

// RemoveKB deletes kbname's entire store directory tree (used by
// backend-destroy).
func (r *Root) RemoveKB(kbname string) error {
	if err := r.Fs.RemoveAll(r.KBPath(kbname)); err != nil {
		return ferror.Wrap(ferror.KindIO, err, "storeroot: remove %s", r.KBPath(kbname))
	}
	return nil
}
