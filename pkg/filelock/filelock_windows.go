//go:build windows

package filelock

import (
	"os"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sys/windows"
)

// Acquire opens the file at path and obtains an exclusive advisory lock
// using LockFileEx. The call is non-blocking: if another process already
// holds the lock, Acquire returns an error wrapping ErrLocked immediately.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Errorf("open lock file: %w", err)
	}

	var ol windows.Overlapped
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, &ol); err != nil {
		f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
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
		var ol windows.Overlapped
		return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &ol)
	})
}
