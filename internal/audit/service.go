// Package audit records and reads the append-only security audit trail.
package audit

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

// Actions recorded by the IAM services.
const (
	ActionLogin               = "login"
	ActionLoginFailed         = "login_failed"
	ActionRegister            = "register"
	ActionUserCreate          = "user_create"
	ActionUserUpdate          = "user_update"
	ActionUserDelete          = "user_delete"
	ActionRoleCreate          = "role_create"
	ActionRoleUpdate          = "role_update"
	ActionRoleDelete          = "role_delete"
	ActionPermissionCreate    = "permission_create"
	ActionInvitationCreate    = "invitation_create"
	ActionInvitationAccept    = "invitation_accept"
	ActionInvitationRevoke    = "invitation_revoke"
	ActionAccessRequestCreate = "access_request_create"
	ActionAccessRequestDecide = "access_request_decide"
	ActionBootstrapAdmin      = "bootstrap_admin"
)

const defaultPageSize = 100

// Entry is the caller supplied part of an audit record.
type Entry struct {
	ActorID      *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Detail       string
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	ActorID      *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	PageSize     int
}

// Service appends and lists audit records.
type Service struct {
	store  store.Queries
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the audit service.
func NewService(q store.Queries, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: q, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Append writes entry through q, joining the caller's transaction when q is
// transactional. A nil q writes outside any transaction. The request origin
// is read from ctx.
func (s *Service) Append(ctx context.Context, q store.Queries, entry Entry) error {
	if entry.Action == "" {
		return shared.Errorf(shared.ErrValidation, "audit action required")
	}
	if q == nil {
		q = s.store
	}
	origin := shared.OriginFromContext(ctx)
	rec := identity.AuditRecord{
		ID:           uuid.New(),
		ActorID:      entry.ActorID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Detail:       entry.Detail,
		IPAddress:    origin.IPAddress,
		UserAgent:    origin.UserAgent,
		OccurredAt:   s.now().UTC(),
	}
	if err := q.AppendAudit(ctx, rec); err != nil {
		s.logger.Error("audit append", slog.String("action", entry.Action), slog.Any("error", err))
		return shared.Persistence("audit: append", err)
	}
	return nil
}

// List yields matching records newest first. The sequence fetches pages
// lazily, is finite, and restarts from the newest record on every range.
// Iteration stops after the first error.
func (s *Service) List(ctx context.Context, filter Filter) iter.Seq2[identity.AuditRecord, error] {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return func(yield func(identity.AuditRecord, error) bool) {
		var cursor *store.AuditCursor
		for {
			page, err := s.store.ListAudit(ctx, s.storeFilter(filter, cursor, pageSize))
			if err != nil {
				yield(identity.AuditRecord{}, shared.Persistence("audit: list", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			last := page[len(page)-1]
			cursor = &store.AuditCursor{OccurredAt: last.OccurredAt, ID: last.ID}
		}
	}
}

// Page returns one page of records after cursor plus the cursor of the next
// page, nil when exhausted.
func (s *Service) Page(ctx context.Context, filter Filter, cursor *store.AuditCursor) ([]identity.AuditRecord, *store.AuditCursor, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	rows, err := s.store.ListAudit(ctx, s.storeFilter(filter, cursor, pageSize+1))
	if err != nil {
		return nil, nil, shared.Persistence("audit: page", err)
	}
	if len(rows) <= pageSize {
		return rows, nil, nil
	}
	rows = rows[:pageSize]
	last := rows[len(rows)-1]
	return rows, &store.AuditCursor{OccurredAt: last.OccurredAt, ID: last.ID}, nil
}

func (s *Service) storeFilter(filter Filter, cursor *store.AuditCursor, limit int) store.AuditFilter {
	return store.AuditFilter{
		ActorID:      filter.ActorID,
		Action:       filter.Action,
		ResourceType: filter.ResourceType,
		ResourceID:   filter.ResourceID,
		Since:        filter.Since,
		Until:        filter.Until,
		After:        cursor,
		Limit:        limit,
	}
}
