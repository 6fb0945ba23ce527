package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  Ada@Example.COM "))
	assert.Equal(t, NormalizeEmail("STRASSE@example.com"), NormalizeEmail("strasse@example.com"))
}

func TestSplitPermissionName(t *testing.T) {
	resource, action, ok := SplitPermissionName("User:List")
	assert.True(t, ok)
	assert.Equal(t, "user", resource)
	assert.Equal(t, "list", action)

	for _, bad := range []string{"", "user", ":list", "user:", "a:b:c"} {
		_, _, ok := SplitPermissionName(bad)
		assert.False(t, ok, bad)
	}
	assert.Equal(t, "invitation:create", PermissionName(" Invitation ", "CREATE"))
}

func TestInvitationState(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := Invitation{ExpiresAt: now}

	assert.Equal(t, InvitationPending, inv.State(now))
	assert.Equal(t, InvitationExpired, inv.State(now.Add(time.Nanosecond)))

	revoked := inv
	revoked.RevokedAt = &now
	assert.Equal(t, InvitationRevoked, revoked.State(now.Add(-time.Hour)))

	used := revoked
	used.Used = true
	assert.Equal(t, InvitationAccepted, used.State(now.Add(time.Hour)))
}
