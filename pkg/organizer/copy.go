package organizer

import (
	"io"
	"os"
	"path/filepath"

	"gitlab.com/tozd/go/errors"
)

var errDestinationExists = errors.Base("destination exists")

// copyNew copies src to dst without ever replacing an existing dst. The
// content is written to a temporary file next to dst, synced, given the
// source mode and modification time, then linked into place. When dst
// appears concurrently errDestinationExists is returned.
func copyNew(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errors.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("source %s is not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fsledger-*.tmp")
	if err != nil {
		return errors.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
			err = errors.Errorf("remove temp file: %w", removeErr)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return errors.Errorf("copy content: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return errors.Errorf("set mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("close temp file: %w", err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return errors.Errorf("set times: %w", err)
	}

	return placeNew(tmpPath, dst)
}

// placeNew moves tmp to dst unless dst exists. A hard link is atomic and
// fails on an existing dst; filesystems without hard links fall back to an
// existence check followed by a rename.
func placeNew(tmp, dst string) error {
	err := os.Link(tmp, dst)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		return errDestinationExists
	}

	if _, statErr := os.Lstat(dst); statErr == nil {
		return errDestinationExists
	} else if !os.IsNotExist(statErr) {
		return errors.Errorf("stat destination: %w", statErr)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return errors.Errorf("place %s: %w", dst, err)
	}
	return nil
}
