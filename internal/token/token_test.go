package token_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T, c *clock) *token.Service {
	t.Helper()
	svc, err := token.NewService(testKey, time.Hour, token.WithClock(c.now), token.WithIssuer("odyssey-iam"))
	require.NoError(t, err)
	return svc
}

func TestIssueValidateRoundTrip(t *testing.T) {
	c := &clock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newService(t, c)
	subject := token.Subject{
		UserID:      uuid.New(),
		Email:       "ada@example.com",
		Roles:       []string{"user", "auditor"},
		Permissions: []string{"audit:read", "user:list", "audit:read"},
	}

	raw, issued, err := svc.Issue(subject, 0)
	require.NoError(t, err)
	assert.Equal(t, c.t.Add(time.Hour), issued.ExpiresAt.Time)

	claims, err := svc.Validate(raw)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, subject.UserID, id)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, []string{"auditor", "user"}, claims.Roles)
	assert.Equal(t, []string{"audit:read", "user:list"}, claims.Permissions)
	assert.False(t, claims.IsAdmin)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateExpiry(t *testing.T) {
	c := &clock{t: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newService(t, c)
	raw, claims, err := svc.Issue(token.Subject{UserID: uuid.New()}, 10*time.Minute)
	require.NoError(t, err)
	exp := claims.ExpiresAt.Time
	assert.Equal(t, time.Date(2025, 5, 1, 10, 10, 0, 0, time.UTC), exp)

	for _, at := range []time.Time{exp.Add(-time.Second), exp} {
		c.t = at
		_, err = svc.Validate(raw)
		require.NoError(t, err, at)
	}

	for _, later := range []time.Duration{time.Nanosecond, 500 * time.Millisecond, time.Second, time.Hour, 48 * time.Hour} {
		c.t = exp.Add(later)
		_, err = svc.Validate(raw)
		assert.ErrorIs(t, err, token.ErrTokenExpired, later)
		assert.ErrorIs(t, err, shared.ErrAuthentication)
	}
}

func TestIssueAlignsExpiryToWholeSeconds(t *testing.T) {
	c := &clock{t: time.Date(2025, 5, 1, 10, 0, 0, 700_000_000, time.UTC)}
	svc := newService(t, c)
	raw, claims, err := svc.Issue(token.Subject{UserID: uuid.New()}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, claims.IssuedAt.Time.Add(time.Minute), claims.ExpiresAt.Time)

	c.t = claims.ExpiresAt.Time
	_, err = svc.Validate(raw)
	require.NoError(t, err)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	c := &clock{t: time.Now()}
	svc := newService(t, c)
	other, err := token.NewService([]byte("ffffffffffffffffffffffffffffffff"), time.Hour, token.WithClock(c.now), token.WithIssuer("odyssey-iam"))
	require.NoError(t, err)

	raw, _, err := other.Issue(token.Subject{UserID: uuid.New()}, 0)
	require.NoError(t, err)
	_, err = svc.Validate(raw)
	assert.ErrorIs(t, err, token.ErrTokenSignatureInvalid)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = svc.Validate(tampered)
	assert.ErrorIs(t, err, shared.ErrAuthentication)
}

func TestValidateMalformed(t *testing.T) {
	svc := newService(t, &clock{t: time.Now()})
	for _, raw := range []string{"", "abc", "a.b.c"} {
		_, err := svc.Validate(raw)
		assert.ErrorIs(t, err, token.ErrTokenMalformed, raw)
	}
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	_, err := token.NewService([]byte("short"), time.Hour)
	assert.Error(t, err)
}
