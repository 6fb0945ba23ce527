// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgSerializationFailed = "40001"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is the PostgreSQL backed store.
type Store struct {
	*queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: &queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a RepeatableRead transaction. Transactions that lose
// a serialization race are rerun by db.WithTx before any error is reported.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Queries) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx, inTx: true})
	})
	if err == nil {
		return nil
	}
	var classified *shared.Error
	if errors.As(err, &classified) {
		return err
	}
	return mapError("transaction", err)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return shared.Persistence("store/postgres: ping", err)
	}
	return nil
}

type queries struct {
	db   dbtx
	inTx bool
}

// LockEmail takes a transaction scoped advisory lock keyed by the
// normalised email.
func (q *queries) LockEmail(ctx context.Context, email string) error {
	if !q.inTx {
		return shared.Errorf(shared.ErrPersistence, "store/postgres: email lock requires a transaction")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(email))
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64())); err != nil {
		return mapError("lock email", err)
	}
	return nil
}

func notFound(entity string) error {
	return shared.Errorf(shared.ErrNotFound, "%s not found", entity)
}

// mapError classifies a driver error. Serialization failures keep their
// cause so db.WithTx can rerun the transaction; one that survives every
// attempt is reported as an invalid state.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return shared.Wrap(shared.ErrConflict, op+": already exists", err)
		case pgForeignKeyViolation:
			return shared.Wrap(shared.ErrNotFound, op+": referenced record not found", err)
		case pgCheckViolation:
			return shared.Wrap(shared.ErrValidation, op+": constraint violated", err)
		case pgSerializationFailed:
			return shared.Wrap(shared.ErrInvalidState, op+": record changed concurrently", err)
		}
	}
	return shared.Persistence("store/postgres: "+op, err)
}
