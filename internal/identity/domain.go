// Package identity holds the plain records shared by every IAM component.
package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var emailFolder = cases.Fold()

// NormalizeEmail returns the canonical, case-folded form used for uniqueness.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// User is an authenticatable principal.
type User struct {
	ID           uuid.UUID
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Role groups permissions. System roles cannot be deleted.
type Role struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability named resource:action.
type Permission struct {
	ID          uuid.UUID
	Name        string
	Description string
	Resource    string
	Action      string
	CreatedAt   time.Time
}

// PermissionName composes the canonical resource:action name.
func PermissionName(resource, action string) string {
	return strings.ToLower(strings.TrimSpace(resource)) + ":" + strings.ToLower(strings.TrimSpace(action))
}

// SplitPermissionName splits a resource:action name. ok is false when the
// name is not in that form.
func SplitPermissionName(name string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(strings.ToLower(strings.TrimSpace(name)), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", false
	}
	return resource, action, true
}

// InvitationState is derived from an invitation's flags and the clock.
type InvitationState string

const (
	InvitationPending  InvitationState = "pending"
	InvitationAccepted InvitationState = "accepted"
	InvitationRevoked  InvitationState = "revoked"
	InvitationExpired  InvitationState = "expired"
)

// Invitation is a time-boxed, single-use onboarding grant. Only the digest of
// the redemption token is stored.
type Invitation struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string
	TokenHash string
	RoleID    *uuid.UUID
	InvitedBy uuid.UUID
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// State resolves the lifecycle state at now. Expiry is inclusive of the
// boundary: an invitation is still pending at exactly ExpiresAt.
func (i Invitation) State(now time.Time) InvitationState {
	switch {
	case i.Used:
		return InvitationAccepted
	case i.RevokedAt != nil:
		return InvitationRevoked
	case now.After(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}

// AuditRecord is an append-only entry describing a security relevant action.
// ActorID is a plain reference so records outlive deleted principals.
type AuditRecord struct {
	ID           uuid.UUID
	ActorID      *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
	IPAddress    string
	UserAgent    string
	OccurredAt   time.Time
}

// AccessRequestStatus tracks an access request decision.
type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "pending"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestRejected AccessRequestStatus = "rejected"
)

// AccessRequest is a principal's request to be granted a role.
type AccessRequest struct {
	ID            uuid.UUID
	RequesterID   uuid.UUID
	RoleID        uuid.UUID
	Status        AccessRequestStatus
	Reason        string
	ApproverID    *uuid.UUID
	ApprovalNotes string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DecidedAt     *time.Time
}
