// Package verifier re-hashes the destination of every copied grouping entry
// and reports copies that went missing or no longer match their origin's
// recorded content. It never writes to the ledger or the filesystem.
package verifier

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/hasher"
	"fsledger/pkg/job"
	"fsledger/pkg/store"
)

// ErrMismatch is returned when at least one copy failed verification.
var ErrMismatch = errors.Base("copies failed verification")

// Result summarizes a verify run.
type Result struct {
	Checked    int
	OK         int
	Missing    []string
	Mismatched []string
}

// Verifier checks copied files.
type Verifier struct {
	store  *store.Store
	hasher *hasher.Hasher
}

// New creates a Verifier. Hashing runs on h's workers.
func New(s *store.Store, h *hasher.Hasher) *Verifier {
	return &Verifier{store: s, hasher: h}
}

// Func adapts Run to a job function.
func (v *Verifier) Func() job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := v.Run(ctx, sink)
		return err
	}
}

// Run verifies every copied entry. Results arrive in completion order.
func (v *Verifier) Run(ctx context.Context, sink job.Sink) (Result, error) {
	log := zerolog.Ctx(ctx)

	entries, err := v.store.CopiedGroupingEntries(ctx)
	if err != nil {
		return Result{}, err
	}

	expected := make(map[string]string, len(entries))
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		expected[e.DestinationPath] = e.Hash
		paths = append(paths, e.DestinationPath)
	}

	// Read-only: the tracker keeps no checkpoint and only drives progress.
	tr, err := job.Begin(ctx, sink, job.BeginOptions{Kind: job.KindVerify, DryRun: true})
	if err != nil {
		return Result{}, err
	}
	tr.SetTotal(len(paths))

	sink.Emit(job.Statusf("Verifying %d copies with %d workers", len(paths), v.hasher.Workers()))
	if err := tr.Start(ctx); err != nil {
		return Result{}, err
	}

	var res Result
	for r := range v.hasher.HashFiles(ctx, paths) {
		sink.Emit(job.Item(r.Path))
		res.Checked++

		switch {
		case r.Error != nil && errors.Is(r.Error, os.ErrNotExist):
			res.Missing = append(res.Missing, r.Path)
			log.Warn().Str("path", r.Path).Msg("copy missing")
			sink.Emit(job.Logf("Missing %s", r.Path))
		case r.Error != nil:
			res.Mismatched = append(res.Mismatched, r.Path)
			log.Warn().Err(r.Error).Str("path", r.Path).Msg("cannot verify copy")
			sink.Emit(job.Logf("Cannot read %s: %v", r.Path, r.Error))
		case r.Hash != expected[r.Path]:
			res.Mismatched = append(res.Mismatched, r.Path)
			log.Warn().Str("path", r.Path).Str("want", expected[r.Path]).Str("got", r.Hash).Msg("copy differs")
			sink.Emit(job.Logf("Mismatch %s", r.Path))
		default:
			res.OK++
		}

		if err := tr.Advance(ctx, r.Path); err != nil {
			return res, err
		}
	}

	if job.Cancelled(ctx) != nil && res.Checked < len(paths) {
		return res, tr.Cancel(ctx)
	}
	if err := tr.Finish(ctx); err != nil {
		return res, err
	}

	sink.Emit(job.Logf("Verified %d copies: %d ok, %d missing, %d mismatched",
		res.Checked, res.OK, len(res.Missing), len(res.Mismatched)))
	if bad := len(res.Missing) + len(res.Mismatched); bad > 0 {
		return res, errors.Errorf("%w: %d of %d", ErrMismatch, bad, res.Checked)
	}
	return res, nil
}
