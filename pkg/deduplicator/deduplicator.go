// Package deduplicator removes files that the ledger flags as duplicates.
//
// For every hash with flagged records, the lowest-sequence active record is
// kept unconditionally. Every other flagged record has its file removed and
// is marked deleted only once the removal succeeded, so a failed removal is
// retried by the next run and a second run with no changes removes nothing.
package deduplicator

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/job"
	"fsledger/pkg/safepath"
	"fsledger/pkg/store"
)

// Options configures one delete run.
type Options struct {
	Resume bool
	DryRun bool
}

// Result summarizes a delete run.
type Result struct {
	Groups         int
	Deleted        int
	Missing        int // already gone, flagged deleted
	Failed         int
	Skipped        int // groups whose kept file is unusable, duplicates that are the kept file
	BytesRecovered int64
}

// Deleter removes duplicate files.
type Deleter struct {
	store *store.Store
}

// New creates a Deleter.
func New(s *store.Store) *Deleter {
	return &Deleter{store: s}
}

// Func adapts Run to a job function.
func (d *Deleter) Func(opts Options) job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := d.Run(ctx, sink, opts)
		return err
	}
}

// Run deletes duplicates hash by hash. Resumption follows the same
// by-value contract as the grouper.
func (d *Deleter) Run(ctx context.Context, sink job.Sink, opts Options) (Result, error) {
	log := zerolog.Ctx(ctx)

	b := d.store.Begin(0)
	defer func() { _ = b.Rollback() }()

	tr, err := job.Begin(ctx, sink, job.BeginOptions{
		Store:  b,
		Kind:   job.KindDelete,
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

	hashes, err := b.DeletionCandidateHashes(ctx)
	if err != nil {
		return Result{}, fail(err)
	}
	if opts.Resume {
		hashes = job.ResumeOrder(hashes, tr.Previous().Cursor)
	}

	var res Result
	tr.SetTotal(len(hashes))
	if opts.DryRun {
		sink.Emit(job.Statusf("Dry run: checking %d groups", len(hashes)))
	} else {
		sink.Emit(job.Statusf("Deleting duplicates in %d groups", len(hashes)))
	}
	if err := tr.Start(ctx); err != nil {
		return res, fail(err)
	}

	for _, hash := range hashes {
		if job.Cancelled(ctx) != nil {
			return res, tr.Cancel(ctx)
		}
		res.Groups++

		if err := d.deleteGroup(ctx, b, sink, hash, opts.DryRun, &res); err != nil {
			return res, fail(err)
		}
		if err := tr.Advance(ctx, hash); err != nil {
			return res, fail(err)
		}
	}

	if err := tr.Finish(ctx); err != nil {
		return res, fail(err)
	}

	log.Info().Int("deleted", res.Deleted).Int("failed", res.Failed).
		Int64("bytes", res.BytesRecovered).Msg("delete finished")
	if opts.DryRun {
		sink.Emit(job.Logf("Would delete %d files", res.Deleted))
	} else {
		sink.Emit(job.Logf("Deleted %d files, recovered %s", res.Deleted, humanize.Bytes(uint64(res.BytesRecovered))))
	}
	return res, nil
}

var errNotRegular = errors.Base("not a regular file")

// deleteGroup returns an error only for ledger failures. File removal
// failures are recorded in res and leave the record for a later retry.
func (d *Deleter) deleteGroup(ctx context.Context, b *store.Batch, sink job.Sink, hash string, dryRun bool, res *Result) error {
	log := zerolog.Ctx(ctx)

	records, err := b.IdentitiesByHash(ctx, hash)
	if err != nil {
		return err
	}

	visible := records[:0]
	for _, r := range records {
		if !r.Hidden {
			visible = append(visible, r)
		}
	}
	if len(visible) < 2 {
		return nil
	}

	keep := visible[0]
	keepInfo, err := os.Lstat(keep.Path)
	if err == nil && !keepInfo.Mode().IsRegular() {
		err = errors.Errorf("%w: %s", errNotRegular, keepInfo.Mode().Type())
	}
	if err != nil {
		res.Skipped++
		log.Warn().Err(err).Str("path", keep.Path).Msg("kept file is not accessible, group left untouched")
		sink.Emit(job.Logf("Kept file %s is not accessible, skipping its duplicates", keep.Path))
		return nil
	}

	for _, r := range visible[1:] {
		if r.Duplicate != store.Duplicate {
			continue
		}
		sink.Emit(job.Item(r.Path))

		if info, err := os.Stat(r.Path); err == nil && os.SameFile(keepInfo, info) {
			res.Skipped++
			log.Warn().Str("path", r.Path).Str("kept", keep.Path).Msg("duplicate is the kept file itself, left untouched")
			sink.Emit(job.Logf("%s is the same file as %s, not deleting", r.Path, keep.Path))
			continue
		}

		if dryRun {
			res.Deleted++
			sink.Emit(job.Logf("Would delete %s (duplicate of %s)", r.Path, keep.Path))
			continue
		}

		var size int64
		if info, err := os.Lstat(r.Path); err == nil {
			size = info.Size()
		}

		removeErr := safepath.RemoveFile(r.Path)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			res.Failed++
			log.Warn().Err(removeErr).Str("path", r.Path).Msg("failed to delete duplicate")
			sink.Emit(job.Logf("Failed to delete %s: %v", r.Path, removeErr))
			continue
		}

		if err := b.MarkDeleted(ctx, r.Sequence); err != nil {
			return err
		}

		if removeErr != nil {
			res.Missing++
			sink.Emit(job.Logf("%s is already gone", r.Path))
			continue
		}
		res.Deleted++
		res.BytesRecovered += size
		sink.Emit(job.Deleted(r.Path))
	}

	return nil
}
