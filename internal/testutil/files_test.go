package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/pkg/job"
)

func TestCreateTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	CreateTree(t, root, map[string]string{
		"a.txt":         "one",
		"sub/deeper/b":  "two",
		"sub/.git/HEAD": "ref",
	})

	for rel, want := range map[string]string{"a.txt": "one", "sub/deeper/b": "two", "sub/.git/HEAD": "ref"} {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestCreateFileWithModTime(t *testing.T) {
	t.Parallel()

	modTime := time.Date(2024, 2, 1, 10, 30, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "nested", "photo.jpg")
	CreateFileWithModTime(t, path, "content", modTime)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime))
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCreateSymlink(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	CreateFile(t, filepath.Join(dir, "z.txt"), "precious")
	CreateSymlink(t, filepath.Join(dir, "z.txt"), filepath.Join(dir, "links", "a.txt"))

	info, err := os.Lstat(filepath.Join(dir, "links", "a.txt"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	s := OpenStore(t)
	rec, err := s.UpsertIdentity(context.Background(), "/a", "h", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Sequence)
}

func TestCancelAfter(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &job.Recorder{}
	sink := CancelAfter(rec, cancel, job.EventItem, 2)

	sink.Emit(job.Item("/a"))
	sink.Emit(job.Status("working"))
	require.NoError(t, ctx.Err())

	sink.Emit(job.Item("/b"))
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, []string{"/a", "/b"}, rec.Paths(job.EventItem))
	assert.Len(t, rec.Events(), 3)
}
