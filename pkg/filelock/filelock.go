// Package filelock provides advisory file locking so that only one fsledger
// process runs a job against a given ledger at a time.
package filelock

import (
	"os"

	"gitlab.com/tozd/go/errors"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.Base("lock is held by another process")

// Lock represents an acquired advisory file lock.
type Lock struct {
	file *os.File
}

// Path returns the lock file path, or "" for a nil lock.
func (l *Lock) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

func release(l *Lock, unlock func(*os.File) error) error {
	if l == nil || l.file == nil {
		return nil
	}

	path := l.file.Name()

	unlockErr := unlock(l.file)
	closeErr := l.file.Close()
	removeErr := os.Remove(path)
	l.file = nil

	if unlockErr != nil {
		return errors.Errorf("unlock: %w", unlockErr)
	}
	if closeErr != nil {
		return errors.Errorf("close lock file: %w", closeErr)
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return errors.Errorf("remove lock file: %w", removeErr)
	}

	return nil
}
