package invitations

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

type createRequest struct {
	Email     string     `json:"email" validate:"required,email"`
	FirstName string     `json:"first_name" validate:"max=100"`
	LastName  string     `json:"last_name" validate:"max=100"`
	RoleID    *uuid.UUID `json:"role_id"`
	TTLHours  int        `json:"ttl_hours" validate:"gte=0,lte=720"`
}

type acceptRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,max=72"`
}

type invitationResponse struct {
	ID        uuid.UUID                `json:"id"`
	Email     string                   `json:"email"`
	FirstName string                   `json:"first_name"`
	LastName  string                   `json:"last_name"`
	RoleID    *uuid.UUID               `json:"role_id"`
	InvitedBy uuid.UUID                `json:"invited_by"`
	State     identity.InvitationState `json:"state"`
	ExpiresAt time.Time                `json:"expires_at"`
	CreatedAt time.Time                `json:"created_at"`
}

type createdResponse struct {
	Invitation invitationResponse `json:"invitation"`
	Token      string             `json:"token"`
	Link       string             `json:"link"`
}

func newInvitationResponse(inv identity.Invitation, now time.Time) invitationResponse {
	return invitationResponse{
		ID:        inv.ID,
		Email:     inv.Email,
		FirstName: inv.FirstName,
		LastName:  inv.LastName,
		RoleID:    inv.RoleID,
		InvitedBy: inv.InvitedBy,
		State:     inv.State(now),
		ExpiresAt: inv.ExpiresAt,
		CreatedAt: inv.CreatedAt,
	}
}
