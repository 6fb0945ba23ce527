// Package accessrequests lets principals ask for a role and administrators
// approve or reject the request.
package accessrequests

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const maxReasonLength = 1000

// Service handles access request business logic.
type Service struct {
	store  store.Store
	rbac   *rbac.Service
	audit  *audit.Service
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(st store.Store, rbacSvc *rbac.Service, auditSvc *audit.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, rbac: rbacSvc, audit: auditSvc, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create files a request by actor for roleID.
func (s *Service) Create(ctx context.Context, actor *rbac.Actor, roleID uuid.UUID, reason string) (identity.AccessRequest, error) {
	if actor == nil {
		return identity.AccessRequest{}, shared.Errorf(shared.ErrAuthentication, "authentication required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return identity.AccessRequest{}, shared.Errorf(shared.ErrValidation, "reason must be at most %d characters", maxReasonLength)
	}
	now := s.now().UTC()
	req := identity.AccessRequest{
		ID:          uuid.New(),
		RequesterID: actor.GetID(),
		RoleID:      roleID,
		Status:      identity.AccessRequestPending,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		role, err := q.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		held, err := q.RolesOf(ctx, req.RequesterID)
		if err != nil {
			return err
		}
		for _, r := range held {
			if r.ID == roleID {
				return shared.Errorf(shared.ErrConflict, "role %q already assigned", role.Name)
			}
		}
		pending, err := q.HasPendingAccessRequest(ctx, req.RequesterID, roleID)
		if err != nil {
			return err
		}
		if pending {
			return shared.Errorf(shared.ErrConflict, "a pending request for role %q already exists", role.Name)
		}
		if err := q.CreateAccessRequest(ctx, req); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &req.RequesterID,
			Action:       audit.ActionAccessRequestCreate,
			ResourceType: "access_request",
			ResourceID:   req.ID.String(),
			Detail:       role.Name,
		})
	})
	if err != nil {
		return identity.AccessRequest{}, err
	}
	return req, nil
}

// List returns requests newest first. Administrators see every request;
// everyone else sees their own.
func (s *Service) List(ctx context.Context, actor *rbac.Actor, status identity.AccessRequestStatus) ([]identity.AccessRequest, error) {
	if actor == nil {
		return nil, shared.Errorf(shared.ErrAuthentication, "authentication required")
	}
	switch status {
	case "", identity.AccessRequestPending, identity.AccessRequestApproved, identity.AccessRequestRejected:
	default:
		return nil, shared.Errorf(shared.ErrValidation, "unknown status %q", status)
	}
	filter := store.AccessRequestFilter{Status: status}
	if !rbac.AuthorizeAdmin(actor) {
		id := actor.GetID()
		filter.RequesterID = &id
	}
	out, err := s.store.ListAccessRequests(ctx, filter)
	if err != nil {
		return nil, shared.Persistence("access requests: list", err)
	}
	return out, nil
}

// Decide approves or rejects a pending request. Only administrators decide,
// and approval grants the role in the same transaction.
func (s *Service) Decide(ctx context.Context, actor *rbac.Actor, id uuid.UUID, approve bool, notes string) (identity.AccessRequest, error) {
	if !rbac.AuthorizeAdmin(actor) {
		return identity.AccessRequest{}, shared.Errorf(shared.ErrAuthorization, "administrator required")
	}
	status := identity.AccessRequestRejected
	action := "rejected"
	if approve {
		status = identity.AccessRequestApproved
		action = "approved"
	}
	now := s.now().UTC()
	approver := actor.GetID()

	var out identity.AccessRequest
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		req, err := q.GetAccessRequest(ctx, id)
		if err != nil {
			return err
		}
		req.Status = status
		req.ApproverID = &approver
		req.ApprovalNotes = strings.TrimSpace(notes)
		req.DecidedAt = &now
		req.UpdatedAt = now
		changed, err := q.DecideAccessRequest(ctx, req)
		if err != nil {
			return err
		}
		if !changed {
			return shared.Errorf(shared.ErrInvalidState, "access request already decided")
		}
		if approve {
			if err := q.AddUserRole(ctx, req.RequesterID, req.RoleID); err != nil {
				return err
			}
		}
		out = req
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &approver,
			Action:       audit.ActionAccessRequestDecide,
			ResourceType: "access_request",
			ResourceID:   id.String(),
			Detail:       action,
		})
	})
	if err != nil {
		return identity.AccessRequest{}, err
	}
	if approve {
		s.rbac.Invalidate(ctx)
	}
	return out, nil
}
