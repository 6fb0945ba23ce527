package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryConflictsRerunsSerializationFailures(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), MaxTxAttempts, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("claim bootstrap: %w", &pgconn.PgError{Code: pgSerializationFailure})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConflictsGivesUp(t *testing.T) {
	calls := 0
	err := retryConflicts(context.Background(), MaxTxAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: pgDeadlockDetected}
	})
	assert.True(t, IsRetryable(err))
	assert.Equal(t, MaxTxAttempts, calls)
}

func TestRetryConflictsStopsOnOtherErrors(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	plain := errors.New("boom")
	for _, want := range []error{unique, plain} {
		calls := 0
		err := retryConflicts(context.Background(), MaxTxAttempts, func() error {
			calls++
			return want
		})
		assert.ErrorIs(t, err, want)
		assert.Equal(t, 1, calls)
	}
}

func TestRetryConflictsHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryConflicts(ctx, MaxTxAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: pgSerializationFailure}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
