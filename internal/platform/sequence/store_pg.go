package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgStore struct{ pool *pgxpool.Pool }

// NewPGStore returns a Store backed by the id_sequence table. The upsert is
// a single atomic statement, so two concurrent calls for the same key get
// distinct values without any in-process locking.
func NewPGStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

func (s *pgStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *pgStore) Next(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO id_sequence (key, value) VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET value = id_sequence.value + 1
		RETURNING value`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next sequence value for %s: %w", key, err)
	}
	return value, nil
}

// IsRetryable reports whether err is a transient storage race worth another
// attempt: serialization failures, deadlocks, and unique violations from
// competing counter inserts.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}
