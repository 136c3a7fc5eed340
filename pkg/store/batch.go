package store

import (
	"context"
	"database/sql"

	"gitlab.com/tozd/go/errors"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every ledger operation. Store runs them directly on the
// database; Batch runs them inside its pending transaction.
//
// Statements run detached from ctx cancellation: a job observes
// cancellation between units of work, never inside one.
type queries struct {
	conn  func(ctx context.Context) (dbtx, error)
	wrote func(ctx context.Context) error
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.execRaw(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if q.wrote != nil {
		if err := q.wrote(ctx); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (q queries) execRaw(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = context.WithoutCancel(ctx)
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	return c.ExecContext(ctx, query, args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx = context.WithoutCancel(ctx)
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	return c.QueryContext(ctx, query, args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	ctx = context.WithoutCancel(ctx)
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	return c.QueryRowContext(ctx, query, args...), nil
}

// Batch buffers writes in one transaction. Record writes commit every
// `every` writes (never automatically when every is 0); SaveCheckpoint and
// Flush commit everything pending, so a checkpoint is never durable before
// the writes it describes.
//
// While a Batch has a pending transaction it owns the only database
// connection: all access must go through the Batch until it is flushed.
type Batch struct {
	queries

	db      *sql.DB
	tx      *sql.Tx
	every   int
	pending int
}

// Begin starts a write batch. The transaction opens lazily on first use.
func (s *Store) Begin(every int) *Batch {
	b := &Batch{db: s.db, every: every}
	b.queries = queries{conn: b.conn, wrote: b.wrote}
	return b
}

func (b *Batch) conn(ctx context.Context) (dbtx, error) {
	if b.tx != nil {
		return b.tx, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Errorf("begin transaction: %w", err)
	}
	b.tx = tx
	return tx, nil
}

func (b *Batch) wrote(ctx context.Context) error {
	b.pending++
	if b.every > 0 && b.pending >= b.every {
		return b.Flush(ctx)
	}
	return nil
}

// Pending returns the number of uncommitted record writes.
func (b *Batch) Pending() int {
	return b.pending
}

// Flush commits every pending write.
func (b *Batch) Flush(_ context.Context) error {
	if b.tx == nil {
		return nil
	}

	tx := b.tx
	b.tx = nil
	b.pending = 0

	if err := tx.Commit(); err != nil {
		return errors.Errorf("commit batch: %w", err)
	}
	return nil
}

// Rollback discards every pending write. It is a no-op without one.
func (b *Batch) Rollback() error {
	if b.tx == nil {
		return nil
	}

	tx := b.tx
	b.tx = nil
	b.pending = 0

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Errorf("rollback batch: %w", err)
	}
	return nil
}

// SaveCheckpoint writes cp and commits it together with all pending writes.
func (b *Batch) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := b.queries.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	return b.Flush(ctx)
}
