//go:build !windows

package filelock

import (
	"os"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/unix"
)

// Acquire opens the file at path and obtains an exclusive advisory lock
// using flock(2). The call is non-blocking: if another process already
// holds the lock, Acquire returns an error wrapping ErrLocked immediately.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.Errorf("acquire lock %s: %w", path, ErrLocked)
		}
		return nil, errors.Errorf("acquire lock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Close releases the advisory lock, closes the file, and removes it.
// It is safe to call Close on a nil Lock (no-op).
func (l *Lock) Close() error {
	return release(l, func(f *os.File) error {
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	})
}
