package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/errs"
)

type contextKey string

const txKey contextKey = "db_tx"

// TxFromContext returns the transaction carried by ctx, or nil when the
// caller is not inside a Runner.Write block.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Runner executes storage work inside a single transaction bounded by a
// deadline. Either every statement issued through the transaction commits, or
// none is visible.
type Runner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRunner(pool *pgxpool.Pool, timeout time.Duration) *Runner {
	return &Runner{pool: pool, timeout: timeout}
}

// Write runs fn inside a transaction carried on the context. Repositories
// pick the transaction up via TxFromContext. A deadline hit anywhere inside
// fn surfaces as a timeout error after the rollback.
func (r *Runner) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return wrapDeadline(ctx, err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return wrapDeadline(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapDeadline(ctx, err)
	}
	return nil
}

func wrapDeadline(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Timeout(err)
	}
	return err
}
