package rbac

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

// Grant is a role together with the permissions it confers.
type Grant struct {
	Role        identity.Role
	Permissions []identity.Permission
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() uuid.UUID
	IsSuperUser() bool
	GrantedRoles() []Grant
}

// Actor is the principal resolved for a request.
type Actor struct {
	User   identity.User
	Grants []Grant
}

// GetID returns the principal id.
func (a *Actor) GetID() uuid.UUID {
	if a == nil {
		return uuid.Nil
	}
	return a.User.ID
}

// IsSuperUser reports whether the actor bypasses permission checks.
func (a *Actor) IsSuperUser() bool {
	return a != nil && a.User.IsActive && a.User.IsAdmin
}

// GrantedRoles returns the actor's role grants.
func (a *Actor) GrantedRoles() []Grant {
	if a == nil {
		return nil
	}
	return a.Grants
}

// RoleNames lists the names of the actor's roles.
func (a *Actor) RoleNames() []string {
	names := make([]string, 0, len(a.GrantedRoles()))
	for _, g := range a.GrantedRoles() {
		names = append(names, g.Role.Name)
	}
	return names
}

// Permissions returns the actor's effective permissions.
func (a *Actor) Permissions() []string {
	return EffectivePermissions(a)
}
