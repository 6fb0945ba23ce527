package accessrequests

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

type createRequest struct {
	RoleID uuid.UUID `json:"role_id" validate:"required"`
	Reason string    `json:"reason" validate:"max=1000"`
}

type decideRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Notes  string `json:"approval_notes" validate:"max=1000"`
}

type accessRequestResponse struct {
	ID            uuid.UUID                    `json:"id"`
	RequesterID   uuid.UUID                    `json:"user_id"`
	RoleID        uuid.UUID                    `json:"role_id"`
	Status        identity.AccessRequestStatus `json:"status"`
	Reason        string                       `json:"reason"`
	ApproverID    *uuid.UUID                   `json:"approver_id,omitempty"`
	ApprovalNotes string                       `json:"approval_notes,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
	DecidedAt     *time.Time                   `json:"decided_at,omitempty"`
}

func newResponse(req identity.AccessRequest) accessRequestResponse {
	return accessRequestResponse{
		ID:            req.ID,
		RequesterID:   req.RequesterID,
		RoleID:        req.RoleID,
		Status:        req.Status,
		Reason:        req.Reason,
		ApproverID:    req.ApproverID,
		ApprovalNotes: req.ApprovalNotes,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		DecidedAt:     req.DecidedAt,
	}
}
