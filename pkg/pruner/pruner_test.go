package pruner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/internal/testutil"
	"fsledger/pkg/job"
	"fsledger/pkg/pruner"
	"fsledger/pkg/safepath"
)

func newRoot(t *testing.T, dirs ...string) string {
	t.Helper()

	root, err := safepath.Resolve(t.TempDir())
	require.NoError(t, err)
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755))
	}
	return root
}

func TestRun_RemovesNestedEmptyDirs(t *testing.T) {
	t.Parallel()

	root := newRoot(t, "a/b/c")

	res, err := pruner.New().Run(context.Background(), &job.Recorder{}, pruner.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, pruner.Result{Dirs: 3, Removed: 3}, res)
	assert.NoDirExists(t, filepath.Join(root, "a"))
	assert.DirExists(t, root)
}

func TestRun_KeepsDirsWithFiles(t *testing.T) {
	t.Parallel()

	root := newRoot(t, "a/b/c", "x/y")
	testutil.CreateFile(t, filepath.Join(root, "a", "keep.txt"), "keep")

	res, err := pruner.New().Run(context.Background(), &job.Recorder{}, pruner.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Removed)
	assert.DirExists(t, filepath.Join(root, "a"))
	assert.FileExists(t, filepath.Join(root, "a", "keep.txt"))
	assert.NoDirExists(t, filepath.Join(root, "a", "b"))
	assert.NoDirExists(t, filepath.Join(root, "x"))
}

func TestRun_NoSubdirectories(t *testing.T) {
	t.Parallel()

	root := newRoot(t)
	testutil.CreateFile(t, filepath.Join(root, "file"), "x")

	rec := &job.Recorder{}
	res, err := pruner.New().Run(context.Background(), rec, pruner.Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, pruner.Result{}, res)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, job.Status("No subdirectories found."), last)
	assert.DirExists(t, root)
}

func TestRun_DryRunSimulatesCascade(t *testing.T) {
	t.Parallel()

	root := newRoot(t, "a/b/c")

	rec := &job.Recorder{}
	res, err := pruner.New().Run(context.Background(), rec, pruner.Options{Root: root, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Removed)
	assert.DirExists(t, filepath.Join(root, "a", "b", "c"))
	assert.Equal(t, 3, rec.Count(job.EventItem))
}

func TestRun_Cancel(t *testing.T) {
	t.Parallel()

	root := newRoot(t, "a/b/c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &job.Recorder{}
	res, err := pruner.New().Run(ctx, testutil.CancelAfter(rec, cancel, job.EventItem, 1), pruner.Options{Root: root})
	require.ErrorIs(t, err, job.ErrCancelled)

	assert.Equal(t, 1, res.Removed)
	assert.NoDirExists(t, filepath.Join(root, "a", "b", "c"))
	assert.DirExists(t, filepath.Join(root, "a", "b"))
}

func TestRun_MissingRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(newRoot(t), "missing")

	rec := &job.Recorder{}
	err := job.Execute(context.Background(), rec, pruner.New().Func(pruner.Options{Root: root}))
	require.Error(t, err)
	assert.True(t, job.IsConfigError(err))
	assert.ErrorIs(t, err, safepath.ErrInvalidRoot)
	assert.Equal(t, 1, rec.Count(job.EventError))
}
