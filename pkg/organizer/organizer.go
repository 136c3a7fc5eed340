// Package organizer copies files into classification folders under a
// destination root, skipping content that the ledger has already seen.
//
// A run has two phases. The scan phase (fresh runs only) records a grouping
// entry for every origin file not yet known. The processing phase walks the
// entries still waiting to be copied, in insertion order, and either copies
// each one to <destination>/<key>/<filename> or records it as a duplicate.
package organizer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/collector"
	"fsledger/pkg/hasher"
	"fsledger/pkg/job"
	"fsledger/pkg/safepath"
	"fsledger/pkg/store"
)

// scanBatchSize is how many new grouping entries the scan phase commits at once.
const scanBatchSize = 100

// maxConflicts bounds the name_N search in one destination folder.
const maxConflicts = 10000

// Options configures one group run.
type Options struct {
	Origin      string
	Destination string
	Scheme      Scheme
	// CopyDuplicates copies files whose content was seen before instead of
	// skipping them.
	CopyDuplicates bool
	Resume         bool
	DryRun         bool
}

// Params returns the checkpoint parameters that let a later run resume opts.
func (o Options) Params() map[string]string {
	return map[string]string{
		"origin":          o.Origin,
		"destination":     o.Destination,
		"scheme":          string(o.Scheme),
		"copy_duplicates": strconv.FormatBool(o.CopyDuplicates),
	}
}

// OptionsFromParams rebuilds the options saved by Params.
func OptionsFromParams(params map[string]string) (Options, error) {
	scheme, err := ParseScheme(params["scheme"])
	if err != nil {
		return Options{}, err
	}
	copyDup := false
	if v := params["copy_duplicates"]; v != "" {
		copyDup, err = strconv.ParseBool(v)
		if err != nil {
			return Options{}, errors.Errorf("parse copy_duplicates %q: %w", v, err)
		}
	}
	return Options{
		Origin:         params["origin"],
		Destination:    params["destination"],
		Scheme:         scheme,
		CopyDuplicates: copyDup,
	}, nil
}

// Result summarizes a group run.
type Result struct {
	Scanned        int // new entries recorded by the scan phase
	Total          int // entries in the processing workset
	Copied         int
	AlreadyPresent int // destination already held identical content
	Duplicates     int
	Failed         int
}

// Copier runs the classification copy.
type Copier struct {
	store     *store.Store
	collector *collector.Collector
	hasher    *hasher.Hasher
}

// New creates a Copier. The collector should not skip version-control
// directories: the copier takes every origin file.
func New(s *store.Store, c *collector.Collector, h *hasher.Hasher) *Copier {
	return &Copier{store: s, collector: c, hasher: h}
}

// Validate checks the run preconditions: origin is an existing directory,
// the scheme is known, and destination is neither origin nor inside it.
// Failures are configuration errors.
func Validate(opts Options) error {
	if _, err := safepath.New(opts.Origin); err != nil {
		return job.Configf(err, "group %s", opts.Origin)
	}
	if opts.Destination == "" {
		return job.Configf(safepath.ErrInvalidRoot, "group: empty destination")
	}
	if _, err := ParseScheme(string(opts.Scheme)); err != nil {
		return job.Configf(err, "group")
	}
	if err := safepath.CheckNotNested(opts.Origin, opts.Destination); err != nil {
		return job.Configf(err, "group %s -> %s", opts.Origin, opts.Destination)
	}
	if info, err := os.Stat(opts.Destination); err == nil && !info.IsDir() {
		return job.Configf(safepath.ErrInvalidRoot, "group: destination %s is not a directory", opts.Destination)
	}
	return nil
}

// Func adapts Run to a job function.
func (c *Copier) Func(opts Options) job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := c.Run(ctx, sink, opts)
		return err
	}
}

type run struct {
	*Copier

	opts  Options
	b     *store.Batch
	sink  job.Sink
	dest  *safepath.Validator
	res   Result
	seen  map[string]bool // dry run: hashes that would have been recorded
	log   *zerolog.Logger
	fresh []store.GroupingEntry
}

// Run executes the copy.
func (c *Copier) Run(ctx context.Context, sink job.Sink, opts Options) (Result, error) {
	if err := Validate(opts); err != nil {
		return Result{}, err
	}
	opts.Scheme, _ = ParseScheme(string(opts.Scheme))

	origin, err := safepath.Resolve(opts.Origin)
	if err != nil {
		return Result{}, job.Configf(err, "group %s", opts.Origin)
	}
	destination, err := safepath.Resolve(opts.Destination)
	if err != nil {
		return Result{}, job.Configf(err, "group %s", opts.Destination)
	}
	opts.Origin, opts.Destination = origin, destination

	r := &run{
		Copier: c,
		opts:   opts,
		sink:   sink,
		seen:   make(map[string]bool),
		log:    zerolog.Ctx(ctx),
	}

	if !opts.DryRun {
		if err := os.MkdirAll(destination, 0o755); err != nil {
			return Result{}, job.Configf(err, "group: create destination %s", destination)
		}
		r.dest, err = safepath.New(destination)
		if err != nil {
			return Result{}, job.Configf(err, "group %s", destination)
		}
	}

	r.b = c.store.Begin(0)
	defer func() { _ = r.b.Rollback() }()

	tr, err := job.Begin(ctx, sink, job.BeginOptions{
		Store:  r.b,
		Kind:   job.KindGroup,
		Resume: opts.Resume,
		DryRun: opts.DryRun,
	})
	if err != nil {
		return Result{}, err
	}
	tr.SetParams(opts.Params())

	fail := func(err error) error {
		_ = r.b.Rollback()
		return tr.Fail(ctx, err)
	}

	if !opts.Resume {
		if err := r.scan(ctx); err != nil {
			return r.res, fail(err)
		}
	}

	workset, err := r.workset(ctx, tr.Previous().Cursor)
	if err != nil {
		return r.res, fail(err)
	}
	r.res.Total = len(workset)
	tr.SetTotal(len(workset))

	sink.Emit(job.Statusf("Copying %d files into %s", len(workset), destination))
	if err := tr.Start(ctx); err != nil {
		return r.res, fail(err)
	}

	for _, e := range workset {
		if job.Cancelled(ctx) != nil {
			return r.res, tr.Cancel(ctx)
		}
		sink.Emit(job.Item(e.OriginPath))

		if err := r.process(ctx, e); err != nil {
			return r.res, fail(err)
		}
		if err := tr.Advance(ctx, e.OriginPath); err != nil {
			return r.res, fail(err)
		}
	}

	if err := tr.Finish(ctx); err != nil {
		return r.res, fail(err)
	}

	r.log.Info().Int("copied", r.res.Copied).Int("duplicates", r.res.Duplicates).
		Int("failed", r.res.Failed).Msg("group finished")
	sink.Emit(job.Logf("Copied %d files, skipped %d duplicates, %d failed",
		r.res.Copied+r.res.AlreadyPresent, r.res.Duplicates, r.res.Failed))
	return r.res, nil
}

// scan records a grouping entry for every origin file not yet present.
func (r *run) scan(ctx context.Context) error {
	r.sink.Emit(job.Status("Scanning origin..."))

	paths, err := r.collector.Collect(r.opts.Origin)
	if err != nil {
		return errors.Errorf("scan %s: %w", r.opts.Origin, err)
	}

	batch := r.store.Begin(scanBatchSize)
	defer func() { _ = batch.Rollback() }()

	for _, path := range paths {
		e := store.GroupingEntry{
			OriginPath:        path,
			Filename:          filepath.Base(path),
			ClassificationKey: Classify(filepath.Base(path), r.opts.Scheme),
		}

		if r.opts.DryRun {
			_, ok, err := r.b.GroupingEntryByOrigin(ctx, path)
			if err != nil {
				return err
			}
			if !ok {
				r.fresh = append(r.fresh, e)
				r.res.Scanned++
			}
			continue
		}

		inserted, err := batch.InsertGroupingEntry(ctx, e)
		if err != nil {
			return err
		}
		if inserted {
			r.res.Scanned++
		}
	}

	if err := batch.Flush(ctx); err != nil {
		return err
	}
	r.sink.Emit(job.Logf("Recorded %d new files", r.res.Scanned))
	return nil
}

// workset returns the pending entries. On resume the entries after the
// checkpointed origin come first, then the ones before it, which were left
// pending by failures or skipped as duplicates.
func (r *run) workset(ctx context.Context, cursor string) ([]store.GroupingEntry, error) {
	pending, err := r.b.PendingGroupingEntries(ctx)
	if err != nil {
		return nil, err
	}
	pending = append(pending, r.fresh...)

	if !r.opts.Resume || cursor == "" {
		return pending, nil
	}

	last, ok, err := r.b.GroupingEntryByOrigin(ctx, cursor)
	if err != nil || !ok {
		return pending, err
	}

	out := make([]store.GroupingEntry, 0, len(pending))
	for _, e := range pending {
		if e.ID > last.ID {
			out = append(out, e)
		}
	}
	for _, e := range pending {
		if e.ID <= last.ID {
			out = append(out, e)
		}
	}
	return out, nil
}

// process handles one entry. It returns an error only for ledger failures.
func (r *run) process(ctx context.Context, e store.GroupingEntry) error {
	hash, seq, err := r.identity(ctx, e)
	if err != nil {
		if errors.Is(err, errHash) {
			return r.failed(ctx, e, err)
		}
		return err
	}

	dup, err := r.b.HasPriorIdentity(ctx, hash, seq)
	if err != nil {
		return err
	}
	if r.opts.DryRun {
		dup = dup || r.seen[hash]
		r.seen[hash] = true
	}

	if dup && !r.opts.CopyDuplicates {
		r.res.Duplicates++
		if r.opts.DryRun {
			r.sink.Emit(job.Logf("Would skip duplicate %s", e.OriginPath))
			return nil
		}
		if err := r.b.MarkGroupingDuplicate(ctx, e.OriginPath, hash); err != nil {
			return err
		}
		if _, err := r.b.MarkDuplicateByHash(ctx, hash); err != nil {
			return err
		}
		r.sink.Emit(job.SkippedDuplicate(e.OriginPath))
		return nil
	}

	dir := filepath.Join(r.opts.Destination, e.ClassificationKey)
	if r.opts.DryRun {
		r.res.Copied++
		r.sink.Emit(job.Logf("Would copy %s to %s", e.OriginPath, filepath.Join(dir, e.Filename)))
		return nil
	}

	target, present, err := r.place(e.OriginPath, dir, e.Filename, hash)
	if err != nil {
		return r.failed(ctx, e, err)
	}

	if err := r.b.MarkGroupingCopied(ctx, e.OriginPath, target, hash); err != nil {
		return err
	}
	if present {
		r.res.AlreadyPresent++
	} else {
		r.res.Copied++
	}
	r.log.Debug().Str("origin", e.OriginPath).Str("destination", target).Bool("present", present).Msg("copied")
	r.sink.Emit(job.Copied(e.OriginPath))
	return nil
}

var errHash = errors.Base("cannot hash file")

// identity returns the content hash of the entry and the sequence of its
// identity record, creating the record when missing. In a dry run a file
// without a record gets the highest possible sequence, so every recorded
// file with the same hash counts as prior.
func (r *run) identity(ctx context.Context, e store.GroupingEntry) (string, int64, error) {
	rec, ok, err := r.b.IdentityByPath(ctx, e.OriginPath)
	if err != nil {
		return "", 0, err
	}
	if ok && rec.Hash != "" {
		if !r.opts.DryRun && e.Hash == "" {
			if err := r.b.SetGroupingHash(ctx, e.OriginPath, rec.Hash); err != nil {
				return "", 0, err
			}
		}
		return rec.Hash, rec.Sequence, nil
	}

	hash := e.Hash
	if hash == "" {
		hash, err = r.hasher.ComputeHash(e.OriginPath)
		if err != nil {
			return "", 0, errors.Errorf("%w: %s", errHash, err.Error())
		}
	}

	if r.opts.DryRun {
		seq := int64(math.MaxInt64)
		if ok {
			seq = rec.Sequence
		}
		return hash, seq, nil
	}

	rec, err = r.b.UpsertIdentity(ctx, e.OriginPath, hash, collector.IsExcludedPath(r.opts.Origin, e.OriginPath))
	if err != nil {
		return "", 0, err
	}
	if err := r.b.SetGroupingHash(ctx, e.OriginPath, hash); err != nil {
		return "", 0, err
	}
	return hash, rec.Sequence, nil
}

// failed records a per-entry failure. The entry stays pending.
func (r *run) failed(ctx context.Context, e store.GroupingEntry, cause error) error {
	r.res.Failed++
	r.log.Warn().Err(cause).Str("path", e.OriginPath).Msg("failed to copy file")
	r.sink.Emit(job.Logf("Failed to copy %s: %v", e.OriginPath, cause))

	if r.opts.DryRun {
		return nil
	}
	return r.b.SetGroupingNote(ctx, e.OriginPath, cause.Error())
}

// place copies origin into dir under filename, or under the first free
// name_N variant when the name holds different content. It reports whether
// identical content was already in place.
func (r *run) place(origin, dir, filename, hash string) (string, bool, error) {
	if err := r.dest.ValidatePathForWrite(dir); err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, errors.Errorf("create %s: %w", dir, err)
	}

	for n := 0; n < maxConflicts; {
		target := filepath.Join(dir, conflictName(filename, n))

		info, err := os.Lstat(target)
		switch {
		case os.IsNotExist(err):
			err := copyNew(origin, target)
			if errors.Is(err, errDestinationExists) {
				continue
			}
			if err != nil {
				return "", false, errors.Errorf("copy to %s: %w", target, err)
			}
			return target, false, nil
		case err != nil:
			return "", false, errors.Errorf("stat %s: %w", target, err)
		case info.Mode().IsRegular():
			existing, err := r.hasher.ComputeHash(target)
			if err == nil && existing == hash {
				return target, true, nil
			}
		}
		n++
	}

	return "", false, errors.Errorf("no free name for %s in %s", filename, dir)
}
