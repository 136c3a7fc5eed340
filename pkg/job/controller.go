package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"fsledger/pkg/filelock"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLockFile makes the controller also hold an advisory lock on path for
// the duration of every run, so that two processes sharing a ledger never
// run jobs at the same time.
func WithLockFile(path string) Option {
	return func(c *Controller) {
		c.lockPath = path
	}
}

// Controller runs at most one job at a time. A request made while a job is
// active is rejected with ErrBusy, never queued.
type Controller struct {
	mu       sync.Mutex
	lockPath string

	activeMu sync.Mutex
	active   *Run
}

// NewController creates a Controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is one execution of a job.
type Run struct {
	Kind      Kind
	ID        string
	StartedAt time.Time

	events <-chan Event
	queue  *queue
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Events returns the run's event stream. It is closed after the terminal
// event has been delivered. Consumers may read at their own pace: the job
// never blocks on them. A consumer that stops reading before the stream is
// closed must call Discard.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Discard drops every undelivered event and closes the stream. The job
// keeps running; its later events are dropped too.
func (r *Run) Discard() {
	r.queue.discard()
}

// Cancel requests cooperative cancellation. The job stops at its next
// cancellation point.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the job function has returned and the lock is free.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Start runs fn on its own goroutine under kind. The run's context derives
// from ctx, carries the run id and a logger tagged with kind and run id.
func (c *Controller) Start(ctx context.Context, kind Kind, fn Func) (*Run, error) {
	if !c.mu.TryLock() {
		return nil, errors.Errorf("start %s: %w", kind, ErrBusy)
	}

	var lock *filelock.Lock
	if c.lockPath != "" {
		var err error
		lock, err = filelock.Acquire(c.lockPath)
		if err != nil {
			c.mu.Unlock()
			if errors.Is(err, filelock.ErrLocked) {
				return nil, errors.Errorf("start %s: %w: %s", kind, ErrBusy, err.Error())
			}
			return nil, errors.Errorf("start %s: %w", kind, err)
		}
	}

	id := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("kind", string(kind)).Str("run_id", id).Logger()
	runCtx, cancel := context.WithCancel(WithRunID(logger.WithContext(ctx), id))

	q := newQueue()
	run := &Run{
		Kind:      kind,
		ID:        id,
		StartedAt: time.Now(),
		events:    q.out,
		queue:     q,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.setActive(run)

	go func() {
		defer cancel()

		logger.Info().Msg("job started")
		run.err = Execute(runCtx, q, fn)
		logEnd(logger, run)

		if err := lock.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release lock")
		}
		c.setActive(nil)
		c.mu.Unlock()
		close(run.done)
		q.close()
	}()

	return run, nil
}

func logEnd(logger zerolog.Logger, run *Run) {
	elapsed := time.Since(run.StartedAt)
	switch {
	case run.err == nil:
		logger.Info().Dur("elapsed", elapsed).Msg("job finished")
	case errors.Is(run.err, ErrCancelled):
		logger.Info().Dur("elapsed", elapsed).Msg("job cancelled")
	default:
		logger.Error().Err(run.err).Dur("elapsed", elapsed).Msg("job failed")
	}
}

// Active returns the running job, or nil.
func (c *Controller) Active() *Run {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	return c.active
}

// Cancel cancels the running job. It reports whether one was running.
func (c *Controller) Cancel() bool {
	run := c.Active()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

func (c *Controller) setActive(run *Run) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	c.active = run
}

// queue is an unbounded event buffer between a job and its consumer.
type queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     []Event
	closed    bool
	discarded bool
	out       chan Event

	stop     chan struct{}
	stopOnce sync.Once
}

func newQueue() *queue {
	q := &queue{out: make(chan Event), stop: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.pump()
	return q
}

func (q *queue) Emit(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.discarded {
		return
	}
	q.items = append(q.items, e)
	q.cond.Signal()
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Signal()
}

func (q *queue) discard() {
	q.mu.Lock()
	q.discarded = true
	q.items = nil
	q.cond.Signal()
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed && !q.discarded {
			q.cond.Wait()
		}
		if q.discarded || len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.stop:
			return
		}
	}
}
