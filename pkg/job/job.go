// Package job drives long-running ledger jobs: it owns cancellation, the
// single-active-job lock, checkpoints, progress and the event stream.
//
// A job is a synchronous Func that writes events to a Sink. Execute runs
// one inline and terminates its stream; Controller runs one on its own
// goroutine and hands the stream to the caller as a channel.
package job

import (
	"context"
	"sync"

	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/progress"
)

// Kind names a job and its checkpoint namespace.
type Kind string

const (
	KindIndex  Kind = "index"
	KindMark   Kind = "mark"
	KindDelete Kind = "delete"
	KindGroup  Kind = "group"
	KindPrune  Kind = "prune"
	KindVerify Kind = "verify"
)

// Resumable reports whether the kind keeps a checkpoint.
func (k Kind) Resumable() bool {
	switch k {
	case KindIndex, KindMark, KindDelete, KindGroup:
		return true
	default:
		return false
	}
}

var (
	// ErrCancelled ends a run that observed cancellation. It is not a failure.
	ErrCancelled = errors.Base("job cancelled")
	// ErrBusy is returned when a job is requested while another one runs.
	ErrBusy = errors.Base("another job is running")
)

// ConfigError marks a failure detected before a job mutated anything.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Configf builds a ConfigError wrapping err with a formatted context.
func Configf(err error, format string, args ...any) error {
	return &ConfigError{Err: errors.Errorf(format+": %w", append(args, err)...)}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var cfg *ConfigError
	return errors.As(err, &cfg)
}

// Func is a job body. It returns nil on success, an error wrapping
// ErrCancelled when it stopped at a cancellation point, or any other error
// on failure. It must not emit done or error events itself.
type Func func(ctx context.Context, sink Sink) error

// Execute runs fn synchronously and terminates its stream with exactly one
// of done, status("cancelled") or error. Progress events are clamped to
// [0, 100] and dropped when they would go backwards; events emitted after
// fn returns are discarded.
func Execute(ctx context.Context, sink Sink, fn Func) (err error) {
	g := &guard{next: sink}

	err = runSafely(ctx, g, fn)

	g.finish()
	switch {
	case err == nil:
		sink.Emit(Done())
	case errors.Is(err, ErrCancelled):
		sink.Emit(Status("cancelled"))
	default:
		sink.Emit(Error(err.Error()))
	}
	return err
}

func runSafely(ctx context.Context, sink Sink, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, sink)
}

type runIDKey struct{}

// WithRunID attaches a run identifier to ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run identifier attached to ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Cancelled returns ErrCancelled if ctx is done. Jobs call it once per
// unit of work.
func Cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// guard sits between a running Func and the caller's sink.
type guard struct {
	mu       sync.Mutex
	next     Sink
	pct      progress.Monotonic
	finished bool
}

func (g *guard) Emit(e Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finished {
		return
	}

	switch e.Type {
	case EventDone, EventError:
		// Terminal events belong to Execute.
		return
	case EventProgress:
		pct, ok := g.pct.Next(e.Percent)
		if !ok {
			return
		}
		e.Percent = pct
	}

	g.next.Emit(e)
}

func (g *guard) finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finished = true
}
