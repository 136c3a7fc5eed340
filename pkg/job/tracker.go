package job

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/progress"
	"fsledger/pkg/store"
)

// CheckpointStore persists checkpoints. *store.Store and *store.Batch
// implement it; jobs pass their Batch so a checkpoint commits together with
// the record writes it describes.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, kind string) (store.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error
}

// BeginOptions configures a Tracker.
type BeginOptions struct {
	Store  CheckpointStore
	Kind   Kind
	Resume bool
	// DryRun keeps the tracker in memory: nothing is persisted.
	DryRun bool
}

// Tracker is the checkpoint state of one job run. It is owned by the job
// goroutine and is not safe for concurrent use.
type Tracker struct {
	store  CheckpointStore
	sink   Sink
	dryRun bool

	prev store.Checkpoint
	cp   store.Checkpoint
	pct  progress.Monotonic
}

// Begin creates the tracker of a run. With Resume set, the previous
// checkpoint of the kind is loaded and available through Previous; without
// it the run starts from an empty checkpoint and the stale one is replaced on
// Start.
func Begin(ctx context.Context, sink Sink, opts BeginOptions) (*Tracker, error) {
	if opts.Store == nil && !opts.DryRun {
		return nil, errors.New("begin tracker: nil store")
	}

	t := &Tracker{
		store:  opts.Store,
		sink:   sink,
		dryRun: opts.DryRun,
		prev:   store.Checkpoint{Kind: string(opts.Kind), State: store.StateIdle},
	}

	if opts.Resume && opts.Store != nil {
		prev, err := opts.Store.LoadCheckpoint(ctx, string(opts.Kind))
		if err != nil {
			return nil, err
		}
		t.prev = prev
	}

	t.cp = store.Checkpoint{
		Kind:  string(opts.Kind),
		State: store.StateIdle,
		RunID: RunID(ctx),
	}
	if opts.Resume {
		t.cp.Params = t.prev.Params
	}
	return t, nil
}

// Previous returns the checkpoint loaded on resume, or an idle zero one.
func (t *Tracker) Previous() store.Checkpoint {
	return t.prev
}

// SetTotal sets the size of the workset.
func (t *Tracker) SetTotal(n int) {
	t.cp.Total = max(0, n)
}

// SetProcessed sets the starting processed count, clamped to the total.
func (t *Tracker) SetProcessed(n int) {
	t.cp.Processed = max(0, min(n, t.cp.Total))
}

// SetCursor sets the starting cursor.
func (t *Tracker) SetCursor(cursor string) {
	t.cp.Cursor = cursor
}

// SetParams records the inputs needed to resume the job later.
func (t *Tracker) SetParams(params map[string]string) {
	t.cp.Params = params
}

func (t *Tracker) Processed() int { return t.cp.Processed }

func (t *Tracker) Total() int { return t.cp.Total }

func (t *Tracker) Cursor() string { return t.cp.Cursor }

// Checkpoint returns the current state.
func (t *Tracker) Checkpoint() store.Checkpoint {
	return t.cp
}

// Start persists the running state and reports the starting progress.
func (t *Tracker) Start(ctx context.Context) error {
	t.cp.State = store.StateRunning
	if err := t.save(ctx); err != nil {
		return err
	}
	t.emitProgress()
	return nil
}

// Advance marks one more unit done at cursor.
func (t *Tracker) Advance(ctx context.Context, cursor string) error {
	return t.AdvanceTo(ctx, cursor, t.cp.Processed+1)
}

// AdvanceTo moves the cursor and raises the processed count to processed.
// The count never decreases.
func (t *Tracker) AdvanceTo(ctx context.Context, cursor string, processed int) error {
	t.cp.Cursor = cursor
	t.cp.Processed = max(t.cp.Processed, processed)
	if err := t.save(ctx); err != nil {
		return err
	}
	t.emitProgress()
	return nil
}

// Cancel persists the cancelled state and returns ErrCancelled, or the
// storage error that prevented saving it.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.cp.State = store.StateCancelled
	if err := t.save(context.WithoutCancel(ctx)); err != nil {
		return errors.Errorf("save cancelled checkpoint: %w", err)
	}
	return ErrCancelled
}

// Finish persists the idle state of a completed run.
func (t *Tracker) Finish(ctx context.Context) error {
	t.cp.State = store.StateIdle
	t.cp.Cursor = ""
	t.cp.Processed = max(t.cp.Processed, t.cp.Total)
	if err := t.save(ctx); err != nil {
		return err
	}
	t.emitProgress()
	return nil
}

// Fail records the error state when possible and returns err unchanged.
func (t *Tracker) Fail(ctx context.Context, err error) error {
	t.cp.State = store.StateError
	if saveErr := t.save(context.WithoutCancel(ctx)); saveErr != nil {
		zerolog.Ctx(ctx).Warn().Err(saveErr).Str("kind", t.cp.Kind).Msg("failed to record error state")
	}
	return err
}

func (t *Tracker) save(ctx context.Context) error {
	if t.dryRun || t.store == nil {
		return nil
	}
	return t.store.SaveCheckpoint(ctx, t.cp)
}

func (t *Tracker) emitProgress() {
	if t.sink == nil {
		return
	}
	pct, ok := t.pct.Next(progress.Percent(t.cp.Processed, t.cp.Total))
	if ok {
		t.sink.Emit(Progress(pct))
	}
}
