package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxTxAttempts bounds how often WithTx reruns a transaction that lost a
// serialization race.
const MaxTxAttempts = 5

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// WithTx executes fn within a RepeatableRead transaction. When Postgres
// aborts the transaction with a serialization failure or a deadlock, fn is
// run again on a fresh snapshot, up to MaxTxAttempts times. fn must not keep
// state across attempts other than through its return value.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return retryConflicts(ctx, MaxTxAttempts, func() error {
		return runTx(ctx, pool, fn)
	})
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}

func retryConflicts(ctx context.Context, attempts int, run func() error) error {
	var err error
	for range max(attempts, 1) {
		err = run()
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// IsRetryable reports whether err aborted a transaction that may succeed
// when rerun: a serialization failure or a detected deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
