// Package safepath provides path containment checks so that destructive
// file operations never escape a designated root directory.
package safepath

import (
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/tozd/go/errors"
)

var errCannotRemoveRoot = errors.Base("cannot remove root directory")

var (
	// ErrPathEscape indicates an attempt to access a path outside the root.
	ErrPathEscape = errors.Base("path escapes root directory")
	// ErrSymlinkEscape indicates a path resolving through a symlink outside the root.
	ErrSymlinkEscape = errors.Base("symlink target escapes root directory")
	// ErrInvalidRoot indicates the root path is missing or not a directory.
	ErrInvalidRoot = errors.Base("invalid root directory")
	// ErrDestinationNested indicates a destination equal to or inside its origin.
	ErrDestinationNested = errors.Base("destination is inside origin")
	// ErrIsDir is returned when a file removal targets a directory.
	ErrIsDir = errors.Base("path is a directory")
)

// Validator ensures paths are contained within a root directory.
type Validator struct {
	root string // absolute, clean, symlinks resolved
}

// New creates a Validator for root, which must be an existing directory.
func New(root string) (*Validator, error) {
	resolved, err := Resolve(root)
	if err != nil {
		return nil, errors.Errorf("%w: %s", ErrInvalidRoot, err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, errors.Errorf("%w: %s", ErrInvalidRoot, err.Error())
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}

	return &Validator{root: resolved}, nil
}

// Root returns the absolute path of the root directory.
func (v *Validator) Root() string {
	return v.root
}

// Contains reports whether path lies within the root. Symlinks are not
// followed.
func (v *Validator) Contains(path string) bool {
	return v.ValidatePath(path) == nil
}

// ValidatePath returns ErrPathEscape when path lies outside the root.
func (v *Validator) ValidatePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Errorf("%w: cannot resolve %s", ErrPathEscape, path)
	}
	if !IsWithin(v.root, filepath.Clean(abs)) {
		return errors.WithDetails(ErrPathEscape, "path", path, "root", v.root)
	}
	return nil
}

// ValidatePathForWrite also rejects paths whose existing components resolve
// through a symlink pointing outside the root.
func (v *Validator) ValidatePathForWrite(path string) error {
	if err := v.ValidatePath(path); err != nil {
		return err
	}

	resolved, err := Resolve(path)
	if err != nil {
		return err
	}
	if !IsWithin(v.root, resolved) {
		return errors.Errorf("%w: %s -> %s", ErrSymlinkEscape, path, resolved)
	}
	return nil
}

// SafeRemove removes a file within the root. Directories are refused.
func (v *Validator) SafeRemove(path string) error {
	if err := v.ValidatePathForWrite(path); err != nil {
		return errors.Errorf("remove %s: %w", path, err)
	}
	return RemoveFile(path)
}

// SafeRemoveDir removes an empty directory within the root. The root itself
// is never removed.
func (v *Validator) SafeRemoveDir(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Errorf("%w: cannot resolve %s", ErrPathEscape, path)
	}
	if filepath.Clean(abs) == v.root {
		return errCannotRemoveRoot
	}
	if err := v.ValidatePathForWrite(path); err != nil {
		return errors.Errorf("remove dir %s: %w", path, err)
	}
	return os.Remove(path)
}

// RemoveFile removes path unless it is a directory. A symlink is removed
// itself, never its target.
func RemoveFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Errorf("remove %s: %w", path, ErrIsDir)
	}
	return os.Remove(path)
}

// CheckNotNested returns ErrDestinationNested when dest is origin or lies
// inside it. Both paths are compared after resolving symlinks on their
// existing prefixes, so a destination that does not exist yet is accepted.
func CheckNotNested(origin, dest string) error {
	o, err := Resolve(origin)
	if err != nil {
		return errors.Errorf("resolve origin: %w", err)
	}
	d, err := Resolve(dest)
	if err != nil {
		return errors.Errorf("resolve destination: %w", err)
	}

	if IsWithin(o, d) {
		return errors.WithDetails(ErrDestinationNested, "origin", o, "destination", d)
	}
	return nil
}

// IsWithin reports whether child equals parent or lies below it. Both paths
// must be absolute and clean.
func IsWithin(parent, child string) bool {
	if parent == child {
		return true
	}

	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}

// Resolve returns the absolute, clean form of path with symlinks resolved on
// its longest existing prefix. Missing trailing components are kept as given.
func Resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Errorf("cannot resolve path %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", errors.Errorf("cannot resolve symlinks of %s: %w", path, err)
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return "", errors.Errorf("cannot resolve symlinks of %s: %w", path, err)
	}

	resolvedParent, err := Resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}
