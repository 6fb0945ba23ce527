package audit_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
	"github.com/odyssey-erp/odyssey-iam/internal/store/memstore"
)

type countingStore struct {
	store.Queries
	calls int
	fail  error
}

func (c *countingStore) ListAudit(ctx context.Context, filter store.AuditFilter) ([]identity.AuditRecord, error) {
	c.calls++
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Queries.ListAudit(ctx, filter)
}

func (c *countingStore) AppendAudit(ctx context.Context, rec identity.AuditRecord) error {
	if c.fail != nil {
		return c.fail
	}
	return c.Queries.AppendAudit(ctx, rec)
}

func seed(t *testing.T, n int) (*memstore.Store, time.Time) {
	t.Helper()
	st := memstore.New()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		clock := base.Add(time.Duration(i) * time.Second)
		svc := audit.NewService(st, nil).WithClock(func() time.Time { return clock })
		require.NoError(t, svc.Append(context.Background(), nil, audit.Entry{Action: audit.ActionLogin, ResourceType: "user"}))
	}
	return st, base
}

func TestAppendCapturesOrigin(t *testing.T) {
	st := memstore.New()
	svc := audit.NewService(st, nil)
	actor := uuid.New()
	ctx := shared.ContextWithOrigin(context.Background(), shared.Origin{IPAddress: "10.0.0.1", UserAgent: "curl/8"})

	require.NoError(t, svc.Append(ctx, nil, audit.Entry{ActorID: &actor, Action: audit.ActionLogin, Detail: "ok"}))

	var got []identity.AuditRecord
	for rec, err := range svc.List(context.Background(), audit.Filter{}) {
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1", got[0].IPAddress)
	assert.Equal(t, "curl/8", got[0].UserAgent)
	assert.Equal(t, actor, *got[0].ActorID)

	assert.ErrorIs(t, svc.Append(ctx, nil, audit.Entry{}), shared.ErrValidation)
}

func TestAppendFailureIsPersistenceError(t *testing.T) {
	st := &countingStore{Queries: memstore.New(), fail: errors.New("disk full")}
	err := audit.NewService(st, nil).Append(context.Background(), nil, audit.Entry{Action: audit.ActionLogin})
	assert.ErrorIs(t, err, shared.ErrPersistence)
}

func TestListIsLazyFiniteAndRestartable(t *testing.T) {
	mem, base := seed(t, 7)
	st := &countingStore{Queries: mem}
	svc := audit.NewService(st, nil)
	seq := svc.List(context.Background(), audit.Filter{PageSize: 3})
	assert.Zero(t, st.calls, "nothing fetched before ranging")

	var first []time.Time
	for rec, err := range seq {
		require.NoError(t, err)
		first = append(first, rec.OccurredAt)
	}
	require.Len(t, first, 7)
	assert.Equal(t, base.Add(6*time.Second), first[0])
	assert.Equal(t, base, first[6])
	assert.Equal(t, 3, st.calls)

	var second []time.Time
	for rec, err := range seq {
		require.NoError(t, err)
		second = append(second, rec.OccurredAt)
	}
	assert.Equal(t, first, second)

	st.calls = 0
	for range seq {
		break
	}
	assert.Equal(t, 1, st.calls, "early stop fetches no further pages")
}

func TestListYieldsPersistenceError(t *testing.T) {
	st := &countingStore{Queries: memstore.New(), fail: errors.New("timeout")}
	var errs []error
	for _, err := range audit.NewService(st, nil).List(context.Background(), audit.Filter{}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], shared.ErrPersistence)
}

func TestPageReturnsCursor(t *testing.T) {
	st, _ := seed(t, 5)
	svc := audit.NewService(st, nil)
	ctx := context.Background()

	rows, next, err := svc.Page(ctx, audit.Filter{PageSize: 2}, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NotNil(t, next)

	rows, next, err = svc.Page(ctx, audit.Filter{PageSize: 2}, next)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NotNil(t, next)

	rows, next, err = svc.Page(ctx, audit.Filter{PageSize: 2}, next)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Nil(t, next)
}

func TestWriteCSV(t *testing.T) {
	st, _ := seed(t, 3)
	var buf bytes.Buffer
	n, err := audit.WriteCSV(&buf, audit.NewService(st, nil).List(context.Background(), audit.Filter{}))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "occurred_at", rows[0][0])
	assert.Equal(t, audit.ActionLogin, rows[1][2])
}
