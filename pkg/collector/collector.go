// Package collector walks directory trees in a deterministic order.
package collector

import (
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// vcsDirs are directory names (compared case-insensitively) that are never
// entered when SkipVCS is set.
var vcsDirs = map[string]bool{
	".git": true,
	"git":  true,
}

// Options configures the collector behavior.
type Options struct {
	// SkipVCS prunes version-control directories from the traversal.
	SkipVCS bool
	// SkipFiles is a list of filenames to skip.
	SkipFiles []string
	// SkipDirs is a list of directory names to skip.
	SkipDirs []string
	// SkipGlobs are doublestar patterns matched against the slash-separated
	// path relative to the walk root. A matching directory is not entered.
	SkipGlobs []string
	// OnError receives unreadable subdirectories. The walk continues.
	OnError func(dir string, err error)
}

// Collector produces ordered file lists from a directory tree.
type Collector struct {
	skipVCS   bool
	skipFiles map[string]bool
	skipDirs  map[string]bool
	skipGlobs []string
	onError   func(dir string, err error)
}

// New creates a new Collector with the given options.
func New(opts Options) *Collector {
	c := &Collector{
		skipVCS:   opts.SkipVCS,
		skipFiles: make(map[string]bool),
		skipDirs:  make(map[string]bool),
		skipGlobs: append([]string(nil), opts.SkipGlobs...),
		onError:   opts.OnError,
	}

	for _, f := range opts.SkipFiles {
		c.skipFiles[f] = true
	}
	for _, d := range opts.SkipDirs {
		c.skipDirs[d] = true
	}

	return c
}

// ValidatePatterns reports the first malformed skip glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return errors.Errorf("invalid skip pattern %q", p)
		}
	}
	return nil
}

// Walk lazily yields absolute file paths under root. Within each directory
// files come first in lexicographic order, then subdirectories in
// lexicographic order, each visited recursively. An unreadable directory
// yields an error value; an unreadable subdirectory does not stop the walk.
// Symlinks are never followed or yielded.
func (c *Collector) Walk(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			yield("", errors.Errorf("resolve %s: %w", root, err))
			return
		}
		c.walkDir(absRoot, absRoot, yield)
	}
}

func (c *Collector) walkDir(root, dir string, yield func(string, error) bool) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return yield("", &DirError{Dir: dir, Err: err})
	}

	var subdirs []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if !c.skipDir(root, path, entry.Name()) {
				subdirs = append(subdirs, path)
			}
			continue
		}

		if !isFileEntry(entry) || c.skipFile(root, path, entry.Name()) {
			continue
		}

		if !yield(path, nil) {
			return false
		}
	}

	for _, sub := range subdirs {
		if !c.walkDir(root, sub, yield) {
			return false
		}
	}

	return true
}

// Collect walks root and returns every file path in walk order. Only a
// failure to read root itself is returned; unreadable subdirectories are
// reported to Options.OnError and skipped.
func (c *Collector) Collect(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Errorf("resolve %s: %w", root, err)
	}

	var files []string
	for path, err := range c.Walk(absRoot) {
		if err != nil {
			var dirErr *DirError
			if errors.As(err, &dirErr) && dirErr.Dir != absRoot {
				if c.onError != nil {
					c.onError(dirErr.Dir, dirErr.Err)
				}
				continue
			}
			return nil, err
		}
		files = append(files, path)
	}

	return files, nil
}

// DirError reports a directory that could not be read.
type DirError struct {
	Dir string
	Err error
}

func (e *DirError) Error() string {
	return "read directory " + e.Dir + ": " + e.Err.Error()
}

func (e *DirError) Unwrap() error {
	return e.Err
}

// IsVCSDir reports whether name is a reserved version-control directory name.
func IsVCSDir(name string) bool {
	return vcsDirs[strings.ToLower(name)]
}

// IsExcludedPath reports whether any directory component of path below root
// is a version-control directory. Components above root never count, so a
// tree indexed from inside a directory named "git" stays visible.
func IsExcludedPath(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if IsVCSDir(part) {
			return true
		}
	}
	return false
}

func (c *Collector) skipDir(root, path, name string) bool {
	if c.skipVCS && IsVCSDir(name) {
		return true
	}
	if c.skipDirs[name] {
		return true
	}
	return c.matchesGlob(root, path)
}

func (c *Collector) skipFile(root, path, name string) bool {
	if c.skipFiles[name] {
		return true
	}
	return c.matchesGlob(root, path)
}

func (c *Collector) matchesGlob(root, path string) bool {
	if len(c.skipGlobs) == 0 {
		return false
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range c.skipGlobs {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// isFileEntry accepts regular files only. Symlinks are skipped: a link
// recorded with its target's content could outrank the target and get the
// real file deleted as its duplicate. Devices, sockets and pipes are skipped.
func isFileEntry(entry os.DirEntry) bool {
	return entry.Type().IsRegular()
}
