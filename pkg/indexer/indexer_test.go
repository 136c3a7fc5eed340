package indexer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/internal/testutil"
	"fsledger/pkg/collector"
	"fsledger/pkg/hasher"
	"fsledger/pkg/indexer"
	"fsledger/pkg/job"
	"fsledger/pkg/safepath"
	"fsledger/pkg/store"
)

var fixture = map[string]string{
	"a.txt":            "alpha",
	"b.txt":            "beta",
	"docs/c.md":        "gamma",
	"docs/d.md":        "alpha",
	"docs/deep/e.bin":  "epsilon",
	"photos/f.jpg":     "phi",
	".git/HEAD":        "ref: refs/heads/main",
	"photos/Git/g.txt": "ignored",
}

func newIndexer(s *store.Store) *indexer.Indexer {
	return indexer.New(s, collector.New(collector.Options{SkipVCS: true}), hasher.New())
}

type record struct {
	Path string
	Hash string
}

func snapshot(t *testing.T, s *store.Store) []record {
	t.Helper()

	recs, err := s.Identities(context.Background())
	require.NoError(t, err)

	out := make([]record, 0, len(recs))
	for _, r := range recs {
		out = append(out, record{Path: r.Path, Hash: r.Hash})
	}
	return out
}

func TestRun_IndexesWalkOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)
	s := testutil.OpenStore(t)

	rec := &job.Recorder{}
	res, err := newIndexer(s).Run(context.Background(), rec, indexer.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, indexer.Result{Total: 6, Hashed: 6}, res)

	want := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "docs", "c.md"),
		filepath.Join(root, "docs", "d.md"),
		filepath.Join(root, "docs", "deep", "e.bin"),
		filepath.Join(root, "photos", "f.jpg"),
	}
	assert.Equal(t, want, rec.Paths(job.EventItem))

	got := snapshot(t, s)
	require.Len(t, got, len(want))
	for i, r := range got {
		assert.Equal(t, want[i], r.Path)
	}
	assert.Equal(t, got[0].Hash, got[3].Hash, "identical content, identical identity")
	assert.NotEqual(t, got[0].Hash, got[1].Hash)

	cp, err := s.LoadCheckpoint(context.Background(), string(job.KindIndex))
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, cp.State)
	assert.Equal(t, 6, cp.Processed)
	assert.Equal(t, 6, cp.Total)
	assert.Equal(t, root, cp.Params["root"])
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)
	s := testutil.OpenStore(t)

	rec := &job.Recorder{}
	_, err := newIndexer(s).Run(context.Background(), rec, indexer.Options{Root: root})
	require.NoError(t, err)

	last := -1.0
	for _, e := range rec.Events() {
		if e.Type != job.EventProgress {
			continue
		}
		assert.GreaterOrEqual(t, e.Percent, last)
		assert.LessOrEqual(t, e.Percent, 100.0)
		last = e.Percent
	}
	assert.InDelta(t, 100.0, last, 0.001)
}

func TestRun_FullRebuildIsIdempotent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)
	s := testutil.OpenStore(t)
	ix := newIndexer(s)

	_, err := ix.Run(context.Background(), &job.Recorder{}, indexer.Options{Root: root})
	require.NoError(t, err)
	first := snapshot(t, s)

	res, err := ix.Run(context.Background(), &job.Recorder{}, indexer.Options{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Hashed)
	assert.Equal(t, 6, res.Known)

	assert.Equal(t, first, snapshot(t, s))
}

func TestRun_ResumeAfterCancelMatchesUninterrupted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)

	reference := testutil.OpenStore(t)
	_, err := newIndexer(reference).Run(context.Background(), &job.Recorder{}, indexer.Options{Root: root})
	require.NoError(t, err)

	s := testutil.OpenStore(t)
	ix := newIndexer(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &job.Recorder{}
	_, err = ix.Run(ctx, testutil.CancelAfter(rec, cancel, job.EventItem, 3), indexer.Options{Root: root})
	require.ErrorIs(t, err, job.ErrCancelled)
	assert.Len(t, rec.Paths(job.EventItem), 3)

	cp, err := s.LoadCheckpoint(context.Background(), string(job.KindIndex))
	require.NoError(t, err)
	assert.Equal(t, store.StateCancelled, cp.State)
	assert.Equal(t, 3, cp.Processed)
	assert.Equal(t, filepath.Join(root, "docs", "c.md"), cp.Cursor)
	assert.Len(t, snapshot(t, s), 3, "no partial work beyond the checkpoint")

	res, err := ix.Run(context.Background(), &job.Recorder{}, indexer.Options{Root: root, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Hashed)
	assert.Equal(t, 3, res.Known)

	assert.Equal(t, snapshot(t, reference), snapshot(t, s))
}

func TestRun_ResumePicksUpNewFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)
	s := testutil.OpenStore(t)
	ix := newIndexer(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := ix.Run(ctx, testutil.CancelAfter(&job.Recorder{}, cancel, job.EventItem, 2), indexer.Options{Root: root})
	require.ErrorIs(t, err, job.ErrCancelled)

	testutil.CreateFile(t, filepath.Join(root, "0-first.txt"), "new")

	_, err = ix.Run(context.Background(), &job.Recorder{}, indexer.Options{Root: root, Resume: true})
	require.NoError(t, err)

	_, ok, err := s.IdentityByPath(context.Background(), filepath.Join(root, "0-first.txt"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, snapshot(t, s), 7)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	testutil.CreateTree(t, root, fixture)
	s := testutil.OpenStore(t)

	rec := &job.Recorder{}
	res, err := newIndexer(s).Run(context.Background(), rec, indexer.Options{Root: root, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Hashed)

	assert.Empty(t, snapshot(t, s))
	cps, err := s.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	file := filepath.Join(base, "file.txt")
	testutil.CreateFile(t, file, "x")
	empty := filepath.Join(base, "empty")
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "sub"), 0o755))

	tests := []struct {
		name string
		root string
		want error
	}{
		{"missing", filepath.Join(base, "missing"), safepath.ErrInvalidRoot},
		{"not a directory", file, safepath.ErrInvalidRoot},
		{"no files", empty, indexer.ErrEmptyRoot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := testutil.OpenStore(t)
			rec := &job.Recorder{}
			err := job.Execute(context.Background(), rec, newIndexer(s).Func(indexer.Options{Root: tt.root}))

			require.ErrorIs(t, err, tt.want)
			assert.True(t, job.IsConfigError(err))
			assert.Equal(t, 1, rec.Count(job.EventError))
			assert.Equal(t, 0, rec.Count(job.EventDone))

			cps, err := s.Checkpoints(context.Background())
			require.NoError(t, err)
			assert.Empty(t, cps, "no checkpoint on configuration errors")
		})
	}
}

func TestRun_UnreadableFileIsSkipped(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{"a.txt": "a", "b.txt": "b"})
	locked := filepath.Join(root, "b.txt")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

	s := testutil.OpenStore(t)
	rec := &job.Recorder{}
	res, err := newIndexer(s).Run(context.Background(), rec, indexer.Options{Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Hashed)
	assert.Equal(t, 1, res.Failed)

	cp, err := s.LoadCheckpoint(context.Background(), string(job.KindIndex))
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Processed, "a failed hash still advances the checkpoint")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	file := filepath.Join(base, "file.txt")
	testutil.CreateFile(t, file, "x")
	onlyVCS := filepath.Join(base, "repo")
	testutil.CreateFile(t, filepath.Join(onlyVCS, ".git", "HEAD"), "ref")

	c := collector.New(collector.Options{SkipVCS: true})

	require.NoError(t, indexer.Validate(c, base))

	for name, tc := range map[string]struct {
		root string
		want error
	}{
		"missing":         {filepath.Join(base, "missing"), safepath.ErrInvalidRoot},
		"not a directory": {file, safepath.ErrInvalidRoot},
		"only skipped":    {onlyVCS, indexer.ErrEmptyRoot},
	} {
		err := indexer.Validate(c, tc.root)
		require.ErrorIs(t, err, tc.want, name)
		assert.True(t, job.IsConfigError(err), name)
	}
}
