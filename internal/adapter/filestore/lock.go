package filestore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".etl.lock"

// DirLock is an advisory lock on a data directory, held for the length of a
// run so overlapping cron invocations do not interleave writes.
type DirLock struct {
	lock *flock.Flock
	path string
}

// Lock acquires the lock for base, waiting for another holder to finish.
func Lock(base string, logger *slog.Logger) (*DirLock, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", base, err)
	}
	l, ok, err := tryLock(base)
	if err != nil {
		return nil, err
	}
	if ok {
		return l, nil
	}

	path := filepath.Join(base, lockFileName)
	logger.Info("another run holds the data directory, waiting", "lock", path)
	l = &DirLock{lock: flock.New(path), path: path}
	if err := l.lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire lock %s after waiting: %w", path, err)
	}
	return l, nil
}

// tryLock acquires the lock for base without waiting. ok is false when
// another holder has it.
func tryLock(base string) (l *DirLock, ok bool, err error) {
	path := filepath.Join(base, lockFileName)
	l = &DirLock{lock: flock.New(path), path: path}
	ok, err = l.lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
