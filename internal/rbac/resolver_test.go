package rbac

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

func perm(name string) identity.Permission {
	return identity.Permission{ID: uuid.New(), Name: name}
}

func grant(name string, perms ...string) Grant {
	g := Grant{Role: identity.Role{ID: uuid.New(), Name: name}}
	for _, p := range perms {
		g.Permissions = append(g.Permissions, perm(p))
	}
	return g
}

func TestEffectivePermissionsIsDeduplicatedUnion(t *testing.T) {
	actor := &Actor{
		User: identity.User{ID: uuid.New(), IsActive: true},
		Grants: []Grant{
			grant("auditor", "audit:read", "user:list"),
			grant("support", "user:list", "user:read"),
			grant("empty"),
		},
	}
	assert.Equal(t, []string{"audit:read", "user:list", "user:read"}, EffectivePermissions(actor))
	assert.Empty(t, EffectivePermissions(nil))
	assert.Empty(t, EffectivePermissions(&Actor{}))
}

func TestAuthorize(t *testing.T) {
	user := &Actor{User: identity.User{ID: uuid.New(), IsActive: true}, Grants: []Grant{grant("auditor", "audit:read")}}
	admin := &Actor{User: identity.User{ID: uuid.New(), IsActive: true, IsAdmin: true}}
	inactiveAdmin := &Actor{User: identity.User{ID: uuid.New(), IsAdmin: true}}
	var nilActor *Actor

	assert.True(t, Authorize(user, "audit:read"))
	assert.True(t, Authorize(user, " AUDIT:READ "))
	assert.False(t, Authorize(user, "user:delete"))
	assert.False(t, Authorize(user, ""))

	assert.True(t, Authorize(admin, "anything:at-all"))
	assert.False(t, Authorize(admin, ""))
	assert.False(t, Authorize(inactiveAdmin, "user:list"))

	assert.False(t, Authorize(nil, "audit:read"))
	assert.False(t, Authorize(nilActor, "audit:read"))
}

func TestAuthorizeSelfOrPermission(t *testing.T) {
	self := &Actor{User: identity.User{ID: uuid.New(), IsActive: true}}
	other := uuid.New()

	assert.True(t, AuthorizeSelfOrPermission(self, self.User.ID, "user:read"))
	assert.False(t, AuthorizeSelfOrPermission(self, other, "user:read"))

	self.Grants = []Grant{grant("support", "user:read")}
	assert.True(t, AuthorizeSelfOrPermission(self, other, "user:read"))
	assert.False(t, AuthorizeSelfOrPermission(nil, other, "user:read"))
}
