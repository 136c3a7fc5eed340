// Package testutil builds file trees and ledgers for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CreateFile writes content to path, creating parent directories.
func CreateFile(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content, 0o644)
}

// CreateFileWithModTime writes content to path and sets both its access and
// modification time, so copies can be checked for preserved metadata.
func CreateFileWithModTime(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()

	writeFile(t, path, content, 0o600)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

// CreateTree creates every file of files under root. Keys are slash-separated
// paths relative to root, values are file contents.
func CreateTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		CreateFile(t, filepath.Join(root, filepath.FromSlash(rel)), content)
	}
}

// CreateSymlink makes link point at target, skipping the test where the
// platform refuses symlinks.
func CreateSymlink(t *testing.T, target, link string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o755))
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}
