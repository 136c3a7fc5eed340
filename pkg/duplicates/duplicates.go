// Package duplicates marks ledger records that share content with an
// earlier record.
//
// Within a group of active records carrying the same hash, the record with
// the lowest sequence is canonical and is never marked; every other record
// is flagged duplicate. Only groups with unmarked members are visited, so a
// run after new files were indexed touches only the groups that changed.
package duplicates

import (
	"context"

	"github.com/rs/zerolog"

	"fsledger/pkg/job"
	"fsledger/pkg/store"
)

// Options configures one mark run.
type Options struct {
	Resume bool
	DryRun bool
}

// Result summarizes a mark run.
type Result struct {
	Groups int // groups visited
	Marked int // records newly flagged duplicate
	Hidden int // groups with at most one visible record
}

// Marker flags duplicate records.
type Marker struct {
	store *store.Store
}

// New creates a Marker.
func New(s *store.Store) *Marker {
	return &Marker{store: s}
}

// Func adapts Run to a job function.
func (m *Marker) Func(opts Options) job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := m.Run(ctx, sink, opts)
		return err
	}
}

// Run marks duplicates group by group, in hash order. A resumed run starts
// after the checkpointed hash and wraps around to the groups sorting before
// it, which are new or were left unresolved.
func (m *Marker) Run(ctx context.Context, sink job.Sink, opts Options) (Result, error) {
	log := zerolog.Ctx(ctx)

	b := m.store.Begin(0)
	defer func() { _ = b.Rollback() }()

	tr, err := job.Begin(ctx, sink, job.BeginOptions{
		Store:  b,
		Kind:   job.KindMark,
		Resume: opts.Resume,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return Result{}, err
	}

	fail := func(err error) error {
		_ = b.Rollback()
		return tr.Fail(ctx, err)
	}

	sink.Emit(job.Status("Selecting duplicate groups..."))
	hashes, err := b.PendingDuplicateHashes(ctx)
	if err != nil {
		return Result{}, fail(err)
	}
	if opts.Resume {
		hashes = job.ResumeOrder(hashes, tr.Previous().Cursor)
	}

	marked, err := b.CountDuplicates(ctx)
	if err != nil {
		return Result{}, fail(err)
	}

	var res Result
	tr.SetTotal(len(hashes))
	sink.Emit(job.Statusf("Marking %d groups", len(hashes)))
	if err := tr.Start(ctx); err != nil {
		return res, fail(err)
	}

	for _, hash := range hashes {
		if job.Cancelled(ctx) != nil {
			return res, tr.Cancel(ctx)
		}
		res.Groups++

		n, err := m.markGroup(ctx, b, sink, hash, opts.DryRun)
		if err != nil {
			return res, fail(err)
		}
		switch {
		case n < 0:
			res.Hidden++
		case n > 0:
			res.Marked += n
			marked += n
			sink.Emit(job.DuplicateCount(marked))
		}

		if err := tr.Advance(ctx, hash); err != nil {
			return res, fail(err)
		}
	}

	if err := tr.Finish(ctx); err != nil {
		return res, fail(err)
	}

	log.Info().Int("groups", res.Groups).Int("marked", res.Marked).Msg("mark finished")
	sink.Emit(job.Logf("Marked %d duplicates in %d groups", res.Marked, res.Groups))
	return res, nil
}

// markGroup resolves one hash group and returns how many records it flagged,
// or -1 when the group has at most one record that is not hidden.
func (m *Marker) markGroup(ctx context.Context, b *store.Batch, sink job.Sink, hash string, dryRun bool) (int, error) {
	records, err := b.IdentitiesByHash(ctx, hash)
	if err != nil {
		return 0, err
	}

	visible := records[:0]
	for _, r := range records {
		if !r.Hidden {
			visible = append(visible, r)
		}
	}
	if len(visible) <= 1 {
		return -1, nil
	}

	canonical := visible[0]
	sink.Emit(job.GroupStart(canonical.Path))

	var seqs []int64
	for _, r := range visible[1:] {
		if r.Duplicate == store.Duplicate {
			continue
		}
		seqs = append(seqs, r.Sequence)
		sink.Emit(job.GroupDuplicate(r.Path))
	}

	if dryRun {
		return len(seqs), nil
	}

	if canonical.Duplicate == store.Unmarked {
		if err := b.MarkCanonical(ctx, canonical.Sequence); err != nil {
			return 0, err
		}
	}
	n, err := b.MarkDuplicates(ctx, seqs)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
