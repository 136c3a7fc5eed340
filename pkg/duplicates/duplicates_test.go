package duplicates_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsledger/internal/testutil"
	"fsledger/pkg/collector"
	"fsledger/pkg/duplicates"
	"fsledger/pkg/job"
	"fsledger/pkg/store"
)

func seed(t *testing.T, s *store.Store, records ...[2]string) {
	t.Helper()

	for _, r := range records {
		_, err := s.UpsertIdentity(context.Background(), r[0], r[1], collector.IsExcludedPath("/", r[0]))
		require.NoError(t, err)
	}
}

func states(t *testing.T, s *store.Store) map[string]store.DuplicateState {
	t.Helper()

	recs, err := s.Identities(context.Background())
	require.NoError(t, err)

	out := make(map[string]store.DuplicateState, len(recs))
	for _, r := range recs {
		out[r.Path] = r.Duplicate
	}
	return out
}

// assertResolved checks that every hash shared by two or more active records
// has exactly one non-duplicate member, the one with the lowest sequence.
func assertResolved(t *testing.T, s *store.Store) {
	t.Helper()

	recs, err := s.Identities(context.Background())
	require.NoError(t, err)

	byHash := make(map[string][]store.IdentityRecord)
	for _, r := range recs {
		if r.Active() && !r.Hidden && r.Hash != "" {
			byHash[r.Hash] = append(byHash[r.Hash], r)
		}
	}

	for hash, group := range byHash {
		if len(group) < 2 {
			continue
		}
		assert.NotEqual(t, store.Duplicate, group[0].Duplicate, "canonical of %s must not be duplicate", hash)
		for _, r := range group[1:] {
			assert.Equal(t, store.Duplicate, r.Duplicate, "%s of %s", r.Path, hash)
		}
	}
}

func TestRun_CanonicalIsLowestSequence(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStore(t)
	seed(t, s,
		[2]string{"/r/z-first.txt", "h1"},
		[2]string{"/r/a-second.txt", "h1"},
		[2]string{"/r/m-third.txt", "h1"},
		[2]string{"/r/unique.txt", "h2"},
	)

	rec := &job.Recorder{}
	res, err := duplicates.New(s).Run(context.Background(), rec, duplicates.Options{})
	require.NoError(t, err)

	assert.Equal(t, duplicates.Result{Groups: 1, Marked: 2}, res)
	assert.Equal(t, []string{"/r/z-first.txt"}, rec.Paths(job.EventGroupStart))
	assert.Equal(t, []string{"/r/a-second.txt", "/r/m-third.txt"}, rec.Paths(job.EventGroupDuplicate))

	assert.Equal(t, map[string]store.DuplicateState{
		"/r/z-first.txt":  store.NotDuplicate,
		"/r/a-second.txt": store.Duplicate,
		"/r/m-third.txt":  store.Duplicate,
		"/r/unique.txt":   store.Unmarked,
	}, states(t, s))
	assertResolved(t, s)
}

func TestRun_GroupLargerThanStatementLimit(t *testing.T) {
	t.Parallel()

	// Empty files all share one hash; a group can exceed SQLite's
	// per-statement variable limit.
	const members = 40000

	s := testutil.OpenStore(t)
	ctx := context.Background()
	b := s.Begin(0)
	for i := range members {
		_, err := b.UpsertIdentity(ctx, fmt.Sprintf("/r/empty-%05d", i), "h-empty", false)
		require.NoError(t, err)
	}
	require.NoError(t, b.Flush(ctx))

	res, err := duplicates.New(s).Run(ctx, &job.Recorder{}, duplicates.Options{})
	require.NoError(t, err)
	assert.Equal(t, duplicates.Result{Groups: 1, Marked: members - 1}, res)

	n, err := s.CountDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, members-1, n)

	pending, err := s.PendingDuplicateHashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_Incremental(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStore(t)
	seed(t, s, [2]string{"/r/a", "h1"}, [2]string{"/r/b", "h1"}, [2]string{"/r/c", "h2"}, [2]string{"/r/d", "h2"})
	m := duplicates.New(s)

	_, err := m.Run(context.Background(), &job.Recorder{}, duplicates.Options{})
	require.NoError(t, err)

	rec := &job.Recorder{}
	res, err := m.Run(context.Background(), rec, duplicates.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Groups, "resolved groups are not revisited")
	assert.Empty(t, rec.Paths(job.EventGroupStart))

	seed(t, s, [2]string{"/r/e", "h2"})
	rec = &job.Recorder{}
	res, err = m.Run(context.Background(), rec, duplicates.Options{})
	require.NoError(t, err)
	assert.Equal(t, duplicates.Result{Groups: 1, Marked: 1}, res)
	assert.Equal(t, []string{"/r/e"}, rec.Paths(job.EventGroupDuplicate))

	last := 0
	for _, e := range rec.Events() {
		if e.Type == job.EventDuplicateCount {
			last = e.Count
		}
	}
	assert.Equal(t, 3, last, "running count includes earlier runs")
	assertResolved(t, s)
}

func TestRun_ExcludedPathsAreHidden(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStore(t)
	seed(t, s,
		[2]string{"/r/.git/objects/x", "h1"},
		[2]string{"/r/a.txt", "h1"},
		[2]string{"/r/b.txt", "h1"},
		[2]string{"/r/GIT/y", "h2"},
		[2]string{"/r/c.txt", "h2"},
	)

	rec := &job.Recorder{}
	res, err := duplicates.New(s).Run(context.Background(), rec, duplicates.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Groups)
	assert.Equal(t, 1, res.Hidden)
	assert.Equal(t, []string{"/r/a.txt"}, rec.Paths(job.EventGroupStart))

	got := states(t, s)
	assert.Equal(t, store.Unmarked, got["/r/.git/objects/x"])
	assert.Equal(t, store.NotDuplicate, got["/r/a.txt"])
	assert.Equal(t, store.Duplicate, got["/r/b.txt"])
	assert.Equal(t, store.Unmarked, got["/r/c.txt"])
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStore(t)
	seed(t, s, [2]string{"/r/a", "h1"}, [2]string{"/r/b", "h1"})

	rec := &job.Recorder{}
	res, err := duplicates.New(s).Run(context.Background(), rec, duplicates.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, []string{"/r/b"}, rec.Paths(job.EventGroupDuplicate))

	assert.Equal(t, store.Unmarked, states(t, s)["/r/b"])
	cps, err := s.Checkpoints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestRun_ResumeWithChangedCandidates(t *testing.T) {
	t.Parallel()

	s := testutil.OpenStore(t)
	for i := 1; i <= 5; i++ {
		h := fmt.Sprintf("h%d", i)
		seed(t, s, [2]string{"/r/" + h + "-a", h}, [2]string{"/r/" + h + "-b", h})
	}
	m := duplicates.New(s)
	ctx := context.Background()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	first := &job.Recorder{}
	_, err := m.Run(cctx, testutil.CancelAfter(first, cancel, job.EventGroupStart, 2), duplicates.Options{})
	require.ErrorIs(t, err, job.ErrCancelled)
	assert.Equal(t, []string{"/r/h1-a", "/r/h2-a"}, first.Paths(job.EventGroupStart))

	cp, err := s.LoadCheckpoint(ctx, string(job.KindMark))
	require.NoError(t, err)
	assert.Equal(t, store.StateCancelled, cp.State)
	assert.Equal(t, "h2", cp.Cursor)

	// New group sorting before the cursor, a resolved group reopened, and a
	// pending group resolved elsewhere.
	seed(t, s, [2]string{"/r/h0-a", "h0"}, [2]string{"/r/h0-b", "h0"}, [2]string{"/r/h1-c", "h1"})
	h4, err := s.IdentitiesByHash(ctx, "h4")
	require.NoError(t, err)
	require.NoError(t, s.MarkCanonical(ctx, h4[0].Sequence))
	_, err = s.MarkDuplicates(ctx, []int64{h4[1].Sequence})
	require.NoError(t, err)

	resumed := &job.Recorder{}
	_, err = m.Run(ctx, resumed, duplicates.Options{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"/r/h3-a", "/r/h5-a", "/r/h0-a", "/r/h1-a"}, resumed.Paths(job.EventGroupStart))
	assert.Equal(t, []string{"/r/h3-b", "/r/h5-b", "/r/h0-b", "/r/h1-c"}, resumed.Paths(job.EventGroupDuplicate))
	assertResolved(t, s)

	cp, err = s.LoadCheckpoint(ctx, string(job.KindMark))
	require.NoError(t, err)
	assert.Equal(t, store.StateIdle, cp.State)
}
