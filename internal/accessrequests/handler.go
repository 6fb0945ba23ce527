package accessrequests

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes access request endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, validator: httpx.NewValidator()}
}

// MountRoutes registers access request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Pipeline(h.guard.Authenticate()))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.With(h.guard.Pipeline(rbac.RequireAdmin())).Put("/{id}", h.decide)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := identity.AccessRequestStatus(r.URL.Query().Get("status"))
	reqs, err := h.service.List(r.Context(), rbac.ActorFromContext(r.Context()), status)
	if err != nil {
		h.fail(w, "list access requests", err)
		return
	}
	out := make([]accessRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, newResponse(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"access_requests": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	req, err := h.service.Create(r.Context(), rbac.ActorFromContext(r.Context()), form.RoleID, form.Reason)
	if err != nil {
		h.fail(w, "create access request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newResponse(req))
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Errorf(shared.ErrValidation, "invalid access request id"))
		return
	}
	var form decideRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	approve := identity.AccessRequestStatus(form.Status) == identity.AccessRequestApproved
	req, err := h.service.Decide(r.Context(), rbac.ActorFromContext(r.Context()), id, approve, form.Notes)
	if err != nil {
		h.fail(w, "decide access request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newResponse(req))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == nil || errors.Is(err, shared.ErrPersistence) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
