package deduplicator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/internal/testutil"
	"fsledger/pkg/collector"
	"fsledger/pkg/deduplicator"
	"fsledger/pkg/job"
	"fsledger/pkg/store"
)

type fixture struct {
	root  string
	store *store.Store
}

// newFixture creates one file per entry, records it with the given hash in
// entry order and flags every entry after the first of each hash duplicate.
func newFixture(t *testing.T, entries ...[2]string) fixture {
	t.Helper()

	ctx := context.Background()
	f := fixture{root: t.TempDir(), store: testutil.OpenStore(t)}

	seen := make(map[string]bool)
	var dups []int64
	for _, e := range entries {
		path := f.path(e[0])
		testutil.CreateFile(t, path, "content of "+e[1])
		rec, err := f.store.UpsertIdentity(ctx, path, e[1], collector.IsExcludedPath(f.root, path))
		require.NoError(t, err)
		if seen[e[1]] {
			dups = append(dups, rec.Sequence)
		}
		seen[e[1]] = true
	}
	_, err := f.store.MarkDuplicates(ctx, dups)
	require.NoError(t, err)
	return f
}

func (f fixture) path(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f fixture) deleted(t *testing.T, rel string) bool {
	t.Helper()

	rec, ok, err := f.store.IdentityByPath(context.Background(), f.path(rel))
	require.NoError(t, err)
	require.True(t, ok)
	return rec.Deleted
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun_DeletesDuplicatesKeepsCanonical(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[2]string{"keep.txt", "h1"},
		[2]string{"copy1.txt", "h1"},
		[2]string{"sub/copy2.txt", "h1"},
		[2]string{"other.txt", "h2"},
	)

	rec := &job.Recorder{}
	res, err := deduplicator.New(f.store).Run(context.Background(), rec, deduplicator.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, int64(2*len("content of h1")), res.BytesRecovered)
	assert.Equal(t, []string{f.path("copy1.txt"), f.path("sub/copy2.txt")}, rec.Paths(job.EventDeleted))

	assert.FileExists(t, f.path("keep.txt"))
	assert.FileExists(t, f.path("other.txt"))
	assert.NoFileExists(t, f.path("copy1.txt"))
	assert.NoFileExists(t, f.path("sub/copy2.txt"))

	assert.False(t, f.deleted(t, "keep.txt"))
	assert.True(t, f.deleted(t, "copy1.txt"))
	assert.True(t, f.deleted(t, "sub/copy2.txt"))
}

func TestRun_SecondRunDeletesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})
	d := deduplicator.New(f.store)

	_, err := d.Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)

	rec := &job.Recorder{}
	res, err := d.Run(context.Background(), rec, deduplicator.Options{})
	require.NoError(t, err)
	assert.Equal(t, deduplicator.Result{}, res)
	assert.Empty(t, rec.Paths(job.EventDeleted))
}

func TestRun_NeverDeletesLowestSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"first", "h1"}, [2]string{"second", "h1"})

	first, _, err := f.store.IdentityByPath(context.Background(), f.path("first"))
	require.NoError(t, err)
	_, err = f.store.MarkDuplicates(context.Background(), []int64{first.Sequence})
	require.NoError(t, err)

	_, err = deduplicator.New(f.store).Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)

	assert.FileExists(t, f.path("first"))
	assert.False(t, f.deleted(t, "first"))
	assert.True(t, f.deleted(t, "second"))
}

func TestRun_MissingFileIsFlagged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})
	require.NoError(t, os.Remove(f.path("b")))

	rec := &job.Recorder{}
	res, err := deduplicator.New(f.store).Run(context.Background(), rec, deduplicator.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Missing)
	assert.Equal(t, 0, res.Deleted)
	assert.Empty(t, rec.Paths(job.EventDeleted))
	assert.True(t, f.deleted(t, "b"))
}

func TestRun_FailedRemovalIsRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})

	// Replace the duplicate with a directory so removal is refused.
	require.NoError(t, os.Remove(f.path("b")))
	require.NoError(t, os.MkdirAll(f.path("b"), 0o755))

	d := deduplicator.New(f.store)
	res, err := d.Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, f.deleted(t, "b"))
	assert.DirExists(t, f.path("b"))

	require.NoError(t, os.Remove(f.path("b")))
	testutil.CreateFile(t, f.path("b"), "content of h1")

	res, err = d.Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.True(t, f.deleted(t, "b"))
}

func TestRun_MissingKeptFileLeavesGroup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})
	require.NoError(t, os.Remove(f.path("a")))

	res, err := deduplicator.New(f.store).Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.FileExists(t, f.path("b"))
	assert.False(t, f.deleted(t, "b"))
}

func TestRun_SymlinkedKeptFileLeavesGroup(t *testing.T) {
	t.Parallel()

	// A ledger written before links were skipped can hold a link that sorts
	// before its own target.
	f := newFixture(t, [2]string{"a_link.txt", "h1"}, [2]string{"z.txt", "h1"})
	require.NoError(t, os.Remove(f.path("a_link.txt")))
	testutil.CreateSymlink(t, f.path("z.txt"), f.path("a_link.txt"))

	rec := &job.Recorder{}
	res, err := deduplicator.New(f.store).Run(context.Background(), rec, deduplicator.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, rec.Paths(job.EventDeleted))
	assert.Equal(t, "content of h1", readFile(t, f.path("z.txt")))
	assert.False(t, f.deleted(t, "z.txt"))
}

func TestRun_HardLinkToKeptFileIsNotDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})
	require.NoError(t, os.Remove(f.path("b")))
	require.NoError(t, os.Link(f.path("a"), f.path("b")))

	res, err := deduplicator.New(f.store).Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Deleted)
	assert.FileExists(t, f.path("b"))
	assert.False(t, f.deleted(t, "b"))
}

func TestRun_ExcludedPathsAreNeverDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{".git/objects/b", "h1"})

	_, err := deduplicator.New(f.store).Run(context.Background(), &job.Recorder{}, deduplicator.Options{})
	require.NoError(t, err)

	assert.FileExists(t, f.path(".git/objects/b"))
	assert.False(t, f.deleted(t, ".git/objects/b"))
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, [2]string{"a", "h1"}, [2]string{"b", "h1"})

	rec := &job.Recorder{}
	res, err := deduplicator.New(f.store).Run(context.Background(), rec, deduplicator.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Deleted)
	assert.Empty(t, rec.Paths(job.EventDeleted))
	assert.FileExists(t, f.path("b"))
	assert.False(t, f.deleted(t, "b"))

	cps, err := f.store.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_ResumeAfterCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		[2]string{"a1", "h1"}, [2]string{"a2", "h1"},
		[2]string{"b1", "h2"}, [2]string{"b2", "h2"},
		[2]string{"c1", "h3"}, [2]string{"c2", "h3"},
	)
	d := deduplicator.New(f.store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &job.Recorder{}
	_, err := d.Run(ctx, testutil.CancelAfter(first, cancel, job.EventItem, 1), deduplicator.Options{})
	require.ErrorIs(t, err, job.ErrCancelled)
	assert.Equal(t, []string{f.path("a2")}, first.Paths(job.EventDeleted))

	cp, err := f.store.LoadCheckpoint(context.Background(), string(job.KindDelete))
	require.NoError(t, err)
	assert.Equal(t, "h1", cp.Cursor)
	assert.Equal(t, store.StateCancelled, cp.State)

	resumed := &job.Recorder{}
	res, err := d.Run(context.Background(), resumed, deduplicator.Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []string{f.path("b2"), f.path("c2")}, resumed.Paths(job.EventDeleted))

	for _, rel := range []string{"a1", "b1", "c1"} {
		assert.FileExists(t, f.path(rel))
	}
}
