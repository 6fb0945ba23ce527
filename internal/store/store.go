// Package store defines the persistence port consumed by the IAM services.
//
// Implementations return errors classified with the shared taxonomy:
// shared.ErrNotFound for missing rows, shared.ErrConflict for uniqueness
// violations and shared.ErrPersistence for everything else.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

// UserFilter narrows ListUsers.
type UserFilter struct {
	Search string
	Limit  int
	Offset int
}

// AuditCursor marks the last record of a page for keyset pagination.
type AuditCursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// AuditFilter narrows ListAudit. Results are ordered newest first.
type AuditFilter struct {
	ActorID      *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	After        *AuditCursor
	Limit        int
}

// AccessRequestFilter narrows ListAccessRequests.
type AccessRequestFilter struct {
	RequesterID *uuid.UUID
	Status      identity.AccessRequestStatus
}

// Queries is the set of operations available both inside and outside a
// transaction.
type Queries interface {
	CreateUser(ctx context.Context, user identity.User) error
	GetUser(ctx context.Context, id uuid.UUID) (identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]identity.User, int, error)
	UpdateUser(ctx context.Context, user identity.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateRole(ctx context.Context, role identity.Role) error
	GetRole(ctx context.Context, id uuid.UUID) (identity.Role, error)
	GetRoleByName(ctx context.Context, name string) (identity.Role, error)
	ListRoles(ctx context.Context) ([]identity.Role, error)
	UpdateRole(ctx context.Context, role identity.Role) error
	DeleteRole(ctx context.Context, id uuid.UUID) error

	CreatePermission(ctx context.Context, perm identity.Permission) error
	GetPermissionByName(ctx context.Context, name string) (identity.Permission, error)
	ListPermissions(ctx context.Context) ([]identity.Permission, error)
	// PermissionsByID resolves ids, failing with NotFound when any is unknown.
	PermissionsByID(ctx context.Context, ids []uuid.UUID) ([]identity.Permission, error)

	// SetRolePermissions replaces the permission set of a role.
	SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	// PermissionsOf lists the permissions granted by a role.
	PermissionsOf(ctx context.Context, roleID uuid.UUID) ([]identity.Permission, error)
	// SetUserRoles replaces the role set of a user.
	SetUserRoles(ctx context.Context, userID uuid.UUID, roleIDs []uuid.UUID) error
	// AddUserRole grants a role; granting a held role is a no-op.
	AddUserRole(ctx context.Context, userID, roleID uuid.UUID) error
	// RolesOf lists the roles assigned to a user.
	RolesOf(ctx context.Context, userID uuid.UUID) ([]identity.Role, error)

	CreateInvitation(ctx context.Context, inv identity.Invitation) error
	GetInvitation(ctx context.Context, id uuid.UUID) (identity.Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (identity.Invitation, error)
	ListActiveInvitations(ctx context.Context, now time.Time) ([]identity.Invitation, error)
	HasActiveInvitation(ctx context.Context, email string, now time.Time) (bool, error)
	// MarkInvitationUsed flips used from false to true. It reports false when
	// the invitation was already used.
	MarkInvitationUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// RevokeInvitation back-dates expiry to at and stamps revoked_at on an
	// unused, unrevoked invitation. It reports whether a row changed.
	RevokeInvitation(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	AppendAudit(ctx context.Context, rec identity.AuditRecord) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]identity.AuditRecord, error)

	CreateAccessRequest(ctx context.Context, req identity.AccessRequest) error
	GetAccessRequest(ctx context.Context, id uuid.UUID) (identity.AccessRequest, error)
	ListAccessRequests(ctx context.Context, filter AccessRequestFilter) ([]identity.AccessRequest, error)
	HasPendingAccessRequest(ctx context.Context, userID, roleID uuid.UUID) (bool, error)
	// DecideAccessRequest moves a pending request to status. It reports false
	// when the request was no longer pending.
	DecideAccessRequest(ctx context.Context, req identity.AccessRequest) (bool, error)

	// ClaimBootstrap records the first administrator. Only one claim ever
	// succeeds.
	ClaimBootstrap(ctx context.Context, userID uuid.UUID, at time.Time) (bool, error)
	// LockEmail serialises transactions that create identities for email.
	// It is only meaningful inside WithTx.
	LockEmail(ctx context.Context, email string) error
}

// Store is the persistence port.
type Store interface {
	Queries
	// WithTx runs fn atomically. Any error returned by fn rolls back every
	// write performed through the supplied Queries.
	WithTx(ctx context.Context, fn func(context.Context, Queries) error) error
	Ping(ctx context.Context) error
}
