package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// writeLock makes writer exclusivity hold across processes sharing an index
// directory. The in-process half is Index.writeMu.
type writeLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newWriteLock(dir string) *writeLock {
	path := filepath.Join(dir, lockName)
	return &writeLock{
		path:  path,
		flock: flock.New(path),
	}
}

// tryLock attempts to acquire the lock without blocking.
// Returns false if another process holds it.
func (l *writeLock) tryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire write lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// unlock releases the lock. Safe to call when not held.
func (l *writeLock) unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release write lock: %w", err)
	}
	return nil
}
