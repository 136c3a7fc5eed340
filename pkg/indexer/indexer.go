// Package indexer records the content identity of every file under a root
// directory in the ledger.
package indexer

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/collector"
	"fsledger/pkg/hasher"
	"fsledger/pkg/job"
	"fsledger/pkg/safepath"
	"fsledger/pkg/store"
)

// ErrEmptyRoot is returned when the root directory holds no files.
var ErrEmptyRoot = errors.Base("root directory contains no files")

// Options configures one index run.
type Options struct {
	Root   string
	Resume bool
	DryRun bool
}

// Result summarizes an index run.
type Result struct {
	Total  int
	Hashed int
	Known  int
	Failed int
}

// Indexer walks a tree and hashes files the ledger does not know yet.
type Indexer struct {
	store     *store.Store
	collector *collector.Collector
	hasher    *hasher.Hasher
}

// New creates an Indexer.
func New(s *store.Store, c *collector.Collector, h *hasher.Hasher) *Indexer {
	return &Indexer{store: s, collector: c, hasher: h}
}

// Func adapts Run to a job function.
func (ix *Indexer) Func(opts Options) job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := ix.Run(ctx, sink, opts)
		return err
	}
}

// Validate checks that root is an existing directory holding at least one
// file the collector would yield. It stops at the first file found.
func Validate(c *collector.Collector, root string) error {
	v, err := safepath.New(root)
	if err != nil {
		return job.Configf(err, "index %s", root)
	}

	for _, err := range c.Walk(v.Root()) {
		if err == nil {
			return nil
		}
		var dirErr *collector.DirError
		if !errors.As(err, &dirErr) || dirErr.Dir == v.Root() {
			return job.Configf(err, "index %s", v.Root())
		}
	}
	return job.Configf(ErrEmptyRoot, "index %s", v.Root())
}

// Run indexes opts.Root. A path already present in the ledger is never
// hashed again, even when its content changed since it was recorded.
func (ix *Indexer) Run(ctx context.Context, sink job.Sink, opts Options) (Result, error) {
	log := zerolog.Ctx(ctx)

	v, err := safepath.New(opts.Root)
	if err != nil {
		return Result{}, job.Configf(err, "index %s", opts.Root)
	}
	root := v.Root()

	sink.Emit(job.Status("Collecting files..."))
	paths, err := ix.collector.Collect(root)
	if err != nil {
		return Result{}, job.Configf(err, "index %s", root)
	}
	if len(paths) == 0 {
		return Result{}, job.Configf(ErrEmptyRoot, "index %s", root)
	}

	b := ix.store.Begin(0)
	defer func() { _ = b.Rollback() }()

	tr, err := job.Begin(ctx, sink, job.BeginOptions{
		Store:  b,
		Kind:   job.KindIndex,
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

	tr.SetTotal(len(paths))
	if opts.Resume {
		prev := tr.Previous()
		if prevRoot := prev.Params["root"]; prevRoot != "" && prevRoot != root {
			log.Warn().Str("previous", prevRoot).Str("root", root).Msg("resuming with a different root, progress restarts")
		} else {
			tr.SetProcessed(prev.Processed)
		}
	}
	tr.SetParams(map[string]string{"root": root})

	known, err := b.IdentityPaths(ctx)
	if err != nil {
		return Result{}, fail(err)
	}

	res := Result{Total: len(paths)}
	sink.Emit(job.Statusf("Indexing %s files", humanize.Comma(int64(len(paths)))))
	if err := tr.Start(ctx); err != nil {
		return res, fail(err)
	}

	for i, path := range paths {
		if job.Cancelled(ctx) != nil {
			return res, tr.Cancel(ctx)
		}
		sink.Emit(job.Item(path))

		if _, ok := known[path]; ok {
			res.Known++
		} else {
			hash, err := ix.hasher.ComputeHash(path)
			switch {
			case err != nil:
				res.Failed++
				log.Warn().Err(err).Str("path", path).Msg("failed to hash file")
				sink.Emit(job.Logf("Skipped %s: %v", path, err))
			case opts.DryRun:
				res.Hashed++
				sink.Emit(job.Logf("Would index %s", path))
			default:
				if _, err := b.UpsertIdentity(ctx, path, hash, collector.IsExcludedPath(root, path)); err != nil {
					return res, fail(err)
				}
				known[path] = struct{}{}
				res.Hashed++
			}
		}

		if err := tr.AdvanceTo(ctx, path, i+1); err != nil {
			return res, fail(err)
		}
	}

	if err := tr.Finish(ctx); err != nil {
		return res, fail(err)
	}

	log.Info().Int("total", res.Total).Int("hashed", res.Hashed).Int("known", res.Known).
		Int("failed", res.Failed).Msg("index finished")
	sink.Emit(job.Logf("Indexed %d new files, %d already known, %d failed", res.Hashed, res.Known, res.Failed))
	return res, nil
}
