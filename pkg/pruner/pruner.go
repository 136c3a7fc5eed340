// Package pruner removes empty directories below a root. It keeps no
// ledger state: an interrupted prune is simply run again.
package pruner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"fsledger/pkg/job"
	"fsledger/pkg/safepath"
)

// Options configures one prune run.
type Options struct {
	Root   string
	DryRun bool
}

// Result summarizes a prune run.
type Result struct {
	Dirs    int // subdirectories found by the first pass
	Removed int
	Failed  int
}

// Pruner removes empty directories.
type Pruner struct{}

// New creates a Pruner.
func New() *Pruner {
	return &Pruner{}
}

// Func adapts Run to a job function.
func (p *Pruner) Func(opts Options) job.Func {
	return func(ctx context.Context, sink job.Sink) error {
		_, err := p.Run(ctx, sink, opts)
		return err
	}
}

// Run removes every directory below opts.Root that is empty once its own
// empty subdirectories are gone. The root itself is never removed.
func (p *Pruner) Run(ctx context.Context, sink job.Sink, opts Options) (Result, error) {
	log := zerolog.Ctx(ctx)

	v, err := safepath.New(opts.Root)
	if err != nil {
		return Result{}, job.Configf(err, "prune %s", opts.Root)
	}
	root := v.Root()

	sink.Emit(job.Status("Scanning directories..."))
	dirs := subdirs(root, func(path string, err error) {
		log.Warn().Err(err).Str("path", path).Msg("cannot read directory")
		sink.Emit(job.Logf("Cannot read %s: %v", path, err))
	})

	res := Result{Dirs: len(dirs)}
	if len(dirs) == 0 {
		sink.Emit(job.Status("No subdirectories found."))
		return res, nil
	}

	// No checkpoint is kept; the tracker only drives progress.
	tr, err := job.Begin(ctx, sink, job.BeginOptions{Kind: job.KindPrune, DryRun: true})
	if err != nil {
		return res, err
	}
	tr.SetTotal(len(dirs))
	if err := tr.Start(ctx); err != nil {
		return res, err
	}

	removed := make(map[string]bool)

	// Pre-order reversed: children always come before their parent.
	for i := len(dirs) - 1; i >= 0; i-- {
		if job.Cancelled(ctx) != nil {
			return res, tr.Cancel(ctx)
		}

		dir := dirs[i]
		sink.Emit(job.Item(dir))

		n, err := remaining(dir, removed)
		switch {
		case err != nil:
			res.Failed++
			log.Warn().Err(err).Str("path", dir).Msg("cannot read directory")
			sink.Emit(job.Logf("Cannot read %s: %v", dir, err))
		case n > 0:
		case opts.DryRun:
			removed[dir] = true
			res.Removed++
			sink.Emit(job.Logf("Would remove %s", dir))
		default:
			if err := v.SafeRemoveDir(dir); err != nil {
				res.Failed++
				log.Warn().Err(err).Str("path", dir).Msg("failed to remove directory")
				sink.Emit(job.Logf("Failed to remove %s: %v", dir, err))
				break
			}
			removed[dir] = true
			res.Removed++
			sink.Emit(job.Logf("Removed %s", dir))
		}

		if err := tr.Advance(ctx, dir); err != nil {
			return res, err
		}
	}

	if err := tr.Finish(ctx); err != nil {
		return res, err
	}

	log.Info().Int("removed", res.Removed).Int("failed", res.Failed).Msg("prune finished")
	sink.Emit(job.Logf("Removed %d of %d directories", res.Removed, res.Dirs))
	return res, nil
}

// subdirs lists every directory below root in pre-order. Symlinks to
// directories are not followed. Unreadable directories are reported to
// onError and their contents skipped.
func subdirs(root string, onError func(path string, err error)) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != root {
				onError(path, err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

// remaining counts the entries of dir that have not been removed. In a dry
// run removed holds the directories that would already be gone.
func remaining(dir string, removed map[string]bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, e := range entries {
		if !removed[filepath.Join(dir, e.Name())] {
			n++
		}
	}
	return n, nil
}
