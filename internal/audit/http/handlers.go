package audithttp

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	defaultDateRange = 30 * 24 * time.Hour
	maxDateRange     = 366 * 24 * time.Hour
)

// Service defines the business contract for audit listings.
type Service interface {
	Page(ctx context.Context, filter audit.Filter, cursor *store.AuditCursor) ([]identity.AuditRecord, *store.AuditCursor, error)
	List(ctx context.Context, filter audit.Filter) iter.Seq2[identity.AuditRecord, error]
}

// Handler serves the audit log.
type Handler struct {
	logger  *slog.Logger
	service Service
	guard   rbac.Guard
	now     func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service Service, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, now: time.Now}
}

type recordResponse struct {
	ID           uuid.UUID  `json:"id"`
	ActorID      *uuid.UUID `json:"actor_id"`
	Action       string     `json:"action"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	Detail       string     `json:"detail"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

type pageResponse struct {
	Records    []recordResponse `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	cursor, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, next, err := h.service.Page(r.Context(), filter, cursor)
	if err != nil {
		h.logger.Error("list audit logs", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := pageResponse{Records: make([]recordResponse, 0, len(rows))}
	for _, rec := range rows {
		resp.Records = append(resp.Records, toResponse(rec))
	}
	if next != nil {
		resp.NextCursor = encodeCursor(*next)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.PageSize = maxPageSize
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-logs.csv\"")
	count, err := audit.WriteCSV(w, h.service.List(r.Context(), filter))
	if err != nil {
		// Headers are already sent; the truncated body is all we can do.
		h.logger.Error("export audit logs", slog.Int("rows", count), slog.Any("error", err))
	}
}

func (h *Handler) parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	until := now
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return audit.Filter{}, validationError{field: "to"}
		}
		until = t
	}
	since := until.Add(-defaultDateRange)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return audit.Filter{}, validationError{field: "from"}
		}
		since = t
	}
	if since.After(until) || until.Sub(since) > maxDateRange {
		return audit.Filter{}, validationError{field: "range"}
	}
	filter := audit.Filter{
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
		Since:        &since,
		Until:        &until,
		PageSize:     defaultPageSize,
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return audit.Filter{}, validationError{field: "actor_id"}
		}
		filter.ActorID = &id
	}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return audit.Filter{}, validationError{field: "page_size"}
		}
		filter.PageSize = min(size, maxPageSize)
	}
	return filter, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}

func toResponse(rec identity.AuditRecord) recordResponse {
	return recordResponse{
		ID:           rec.ID,
		ActorID:      rec.ActorID,
		Action:       rec.Action,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Detail:       rec.Detail,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		OccurredAt:   rec.OccurredAt,
	}
}

func encodeCursor(c store.AuditCursor) string {
	raw := strconv.FormatInt(c.OccurredAt.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(raw string) (*store.AuditCursor, error) {
	if raw == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, validationError{field: "cursor"}
	}
	nanos, id, ok := strings.Cut(string(decoded), ".")
	if !ok {
		return nil, validationError{field: "cursor"}
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, validationError{field: "cursor"}
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, validationError{field: "cursor"}
	}
	return &store.AuditCursor{OccurredAt: time.Unix(0, n).UTC(), ID: parsed}, nil
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	return fmt.Sprintf("invalid %s", v.field)
}

func (v validationError) Unwrap() error {
	return shared.ErrValidation
}
