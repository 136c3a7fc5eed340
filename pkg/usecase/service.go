// Package usecase is the invocation surface of fsledger: it turns requests
// into job runs on a single controller, wiring the ledger, the audit journal
// and metrics around each job. It has no Cobra dependencies.
package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/collector"
	"fsledger/pkg/deduplicator"
	"fsledger/pkg/duplicates"
	"fsledger/pkg/hasher"
	"fsledger/pkg/indexer"
	"fsledger/pkg/job"
	"fsledger/pkg/journal"
	"fsledger/pkg/metrics"
	"fsledger/pkg/organizer"
	"fsledger/pkg/pruner"
	"fsledger/pkg/store"
	"fsledger/pkg/verifier"
)

// ErrNothingToResume is returned by Resume when the last operation finished
// or no job ever ran.
var ErrNothingToResume = errors.Base("nothing to resume")

// Options configures a Service.
type Options struct {
	// DBPath is the ledger database file.
	DBPath string
	// Lock holds an advisory lock next to the ledger while a job runs.
	Lock bool

	SkipFiles []string
	SkipDirs  []string
	SkipGlobs []string

	// Journal is the audit journal file; empty disables it.
	Journal string
	// MetricsFile receives Prometheus text metrics after every run; empty
	// disables it.
	MetricsFile string
	// VerifyWorkers bounds parallel hashing of the verify job.
	VerifyWorkers int
}

// Service starts jobs. At most one job runs at a time.
type Service struct {
	opts       Options
	controller *job.Controller
	metrics    *metrics.Recorder
}

// New creates a use-case service.
func New(opts Options) *Service {
	var ctrlOpts []job.Option
	if opts.Lock {
		ctrlOpts = append(ctrlOpts, job.WithLockFile(opts.DBPath+".lock"))
	}
	opts.SkipFiles = append([]string(nil), opts.SkipFiles...)
	opts.SkipDirs = append([]string(nil), opts.SkipDirs...)
	opts.SkipGlobs = append([]string(nil), opts.SkipGlobs...)

	return &Service{
		opts:       opts,
		controller: job.NewController(ctrlOpts...),
		metrics:    metrics.New(),
	}
}

// Metrics exposes the service's metric recorder.
func (s *Service) Metrics() *metrics.Recorder {
	return s.metrics
}

// Active returns the running job, or nil.
func (s *Service) Active() *job.Run {
	return s.controller.Active()
}

// IndexRequest contains inputs for the index job.
type IndexRequest struct {
	Root   string
	Resume bool
	DryRun bool
}

// MarkRequest contains inputs for the mark job.
type MarkRequest struct {
	Resume bool
	DryRun bool
}

// DeleteRequest contains inputs for the delete job.
type DeleteRequest struct {
	Resume bool
	DryRun bool
}

// GroupRequest contains inputs for the group job.
type GroupRequest struct {
	Origin         string
	Destination    string
	Scheme         organizer.Scheme
	CopyDuplicates bool
	Resume         bool
	DryRun         bool
}

// PruneRequest contains inputs for the prune job.
type PruneRequest struct {
	Root   string
	DryRun bool
}

// Index starts the index job. A missing or empty root fails here, before
// the ledger is created.
func (s *Service) Index(ctx context.Context, req IndexRequest) (*job.Run, error) {
	if err := indexer.Validate(s.collector(ctx, true), req.Root); err != nil {
		return nil, err
	}

	return s.start(ctx, job.KindIndex, store.Open, func(ctx context.Context, st *store.Store, sink job.Sink) error {
		ix := indexer.New(st, s.collector(ctx, true), hasher.New())
		_, err := ix.Run(ctx, sink, indexer.Options{Root: req.Root, Resume: req.Resume, DryRun: req.DryRun})
		return err
	})
}

// Mark starts the mark job. The ledger must exist.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (*job.Run, error) {
	return s.start(ctx, job.KindMark, store.OpenExisting, func(ctx context.Context, st *store.Store, sink job.Sink) error {
		_, err := duplicates.New(st).Run(ctx, sink, duplicates.Options{Resume: req.Resume, DryRun: req.DryRun})
		return err
	})
}

// Delete starts the delete job. The ledger must exist.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (*job.Run, error) {
	return s.start(ctx, job.KindDelete, store.OpenExisting, func(ctx context.Context, st *store.Store, sink job.Sink) error {
		_, err := deduplicator.New(st).Run(ctx, sink, deduplicator.Options{Resume: req.Resume, DryRun: req.DryRun})
		return err
	})
}

// Group starts the group job. The preconditions are checked up front, so a
// bad request fails here without starting a run.
func (s *Service) Group(ctx context.Context, req GroupRequest) (*job.Run, error) {
	opts := organizer.Options{
		Origin:         req.Origin,
		Destination:    req.Destination,
		Scheme:         req.Scheme,
		CopyDuplicates: req.CopyDuplicates,
		Resume:         req.Resume,
		DryRun:         req.DryRun,
	}
	if err := organizer.Validate(opts); err != nil {
		return nil, err
	}

	return s.start(ctx, job.KindGroup, store.Open, func(ctx context.Context, st *store.Store, sink job.Sink) error {
		cp := organizer.New(st, s.collector(ctx, false), hasher.New())
		_, err := cp.Run(ctx, sink, opts)
		return err
	})
}

// Prune starts the prune job. It does not touch the ledger.
func (s *Service) Prune(ctx context.Context, req PruneRequest) (*job.Run, error) {
	return s.start(ctx, job.KindPrune, nil, func(ctx context.Context, _ *store.Store, sink job.Sink) error {
		_, err := pruner.New().Run(ctx, sink, pruner.Options{Root: req.Root, DryRun: req.DryRun})
		return err
	})
}

// Verify starts the verify job.
func (s *Service) Verify(ctx context.Context) (*job.Run, error) {
	return s.start(ctx, job.KindVerify, store.OpenExisting, func(ctx context.Context, st *store.Store, sink job.Sink) error {
		h := hasher.New(hasher.WithWorkers(s.opts.VerifyWorkers))
		_, err := verifier.New(st, h).Run(ctx, sink)
		return err
	})
}

// Resume restarts the most recently checkpointed job from its checkpoint,
// with the inputs it was started with.
func (s *Service) Resume(ctx context.Context) (*job.Run, error) {
	cp, err := s.lastCheckpoint(ctx)
	if err != nil {
		return nil, err
	}

	kind := job.Kind(cp.Kind)
	if !kind.Resumable() || !cp.State.Resumable() {
		return nil, job.Configf(ErrNothingToResume, "last operation %s is %s", cp.Kind, cp.State)
	}

	switch kind {
	case job.KindIndex:
		return s.Index(ctx, IndexRequest{Root: cp.Params["root"], Resume: true})
	case job.KindMark:
		return s.Mark(ctx, MarkRequest{Resume: true})
	case job.KindDelete:
		return s.Delete(ctx, DeleteRequest{Resume: true})
	case job.KindGroup:
		opts, err := organizer.OptionsFromParams(cp.Params)
		if err != nil {
			return nil, job.Configf(err, "resume group")
		}
		return s.Group(ctx, GroupRequest{
			Origin:         opts.Origin,
			Destination:    opts.Destination,
			Scheme:         opts.Scheme,
			CopyDuplicates: opts.CopyDuplicates,
			Resume:         true,
		})
	default:
		return nil, job.Configf(ErrNothingToResume, "unknown operation %q", cp.Kind)
	}
}

func (s *Service) lastCheckpoint(ctx context.Context) (store.Checkpoint, error) {
	st, err := s.open(store.OpenExisting)
	if err != nil {
		return store.Checkpoint{}, err
	}
	defer st.Close()

	kind, err := st.LastOperation(ctx)
	if err != nil {
		return store.Checkpoint{}, err
	}
	if kind == "" {
		return store.Checkpoint{}, job.Configf(ErrNothingToResume, "no job has run on %s", s.opts.DBPath)
	}
	return st.LoadCheckpoint(ctx, kind)
}

type openFunc func(path string) (*store.Store, error)

type body func(ctx context.Context, st *store.Store, sink job.Sink) error

// start runs b on the controller. The ledger is opened inside the job and
// closed when it ends; the journal and metrics observe the job's events.
func (s *Service) start(ctx context.Context, kind job.Kind, open openFunc, b body) (*job.Run, error) {
	return s.controller.Start(ctx, kind, func(ctx context.Context, sink job.Sink) error {
		started := time.Now()
		err := s.run(ctx, kind, open, b, sink)
		s.observe(ctx, kind, started, err)
		return err
	})
}

func (s *Service) run(ctx context.Context, kind job.Kind, open openFunc, b body, sink job.Sink) error {
	log := zerolog.Ctx(ctx)

	sinks := []job.Sink{sink, s.metrics.Sink(kind)}
	if s.opts.Journal != "" {
		w, err := journal.NewWriter(s.opts.Journal)
		if err != nil {
			return job.Configf(err, "journal")
		}
		defer func() {
			if err := w.Err(); err != nil {
				log.Warn().Err(err).Str("path", s.opts.Journal).Msg("journal write failed")
			}
			if err := w.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close journal")
			}
		}()
		sinks = append(sinks, w.Sink(kind, job.RunID(ctx)))
	}
	sink = job.Tee(sinks...)

	var st *store.Store
	if open != nil {
		var err error
		st, err = s.open(open)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close ledger")
			}
		}()
	}

	return b(ctx, st, sink)
}

func (s *Service) open(open openFunc) (*store.Store, error) {
	st, err := open(s.opts.DBPath)
	if errors.Is(err, store.ErrNotFound) {
		return nil, job.Configf(err, "open ledger (run index first)")
	}
	if err != nil {
		return nil, errors.Errorf("open ledger %s: %w", s.opts.DBPath, err)
	}
	return st, nil
}

func (s *Service) observe(ctx context.Context, kind job.Kind, started time.Time, err error) {
	s.metrics.ObserveRun(kind, started, err)
	if s.opts.MetricsFile == "" {
		return
	}
	if werr := s.metrics.WriteTextfile(s.opts.MetricsFile); werr != nil {
		zerolog.Ctx(ctx).Warn().Err(werr).Msg("failed to write metrics")
	}
}

// collector builds the walker of a job. Unreadable subdirectories are logged.
func (s *Service) collector(ctx context.Context, skipVCS bool) *collector.Collector {
	log := zerolog.Ctx(ctx)
	return collector.New(collector.Options{
		SkipVCS:   skipVCS,
		SkipFiles: s.opts.SkipFiles,
		SkipDirs:  s.opts.SkipDirs,
		SkipGlobs: s.opts.SkipGlobs,
		OnError: func(dir string, err error) {
			log.Warn().Err(err).Str("path", dir).Msg("cannot read directory")
		},
	})
}
