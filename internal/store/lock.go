package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	apperrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// IndexLockFile is the lock file name inside the data directory.
const IndexLockFile = ".index.lock"

// IndexLock keeps two processes from writing the same index. bleve allows a
// single writer per index directory.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIndexLock creates a lock for the data directory.
func NewIndexLock(dataDir string) *IndexLock {
	path := filepath.Join(dataDir, IndexLockFile)
	return &IndexLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. A lock held elsewhere returns
// an ERR_206_INDEX_LOCKED error.
func (l *IndexLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return apperrors.New(apperrors.ErrCodeIndexLocked, "failed to acquire index lock", err).
			WithDetail("path", l.path)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeIndexLocked, "index is locked by another repoindex process", nil).
			WithDetail("path", l.path).
			WithSuggestion("stop the running 'repoindex daemon' or wait for the other command to finish")
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *IndexLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	return nil
}

// Held reports whether this process holds the lock.
func (l *IndexLock) Held() bool {
	return l.locked
}

// Path returns the lock file path.
func (l *IndexLock) Path() string {
	return l.path
}

// IsLocked probes whether another process holds the lock.
func IsLocked(dataDir string) (bool, error) {
	path := filepath.Join(dataDir, IndexLockFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	probe := flock.New(path)
	ok, err := probe.TryRLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = probe.Unlock()
	}
	return !ok, nil
}
