package invitations

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler exposes invitation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     rbac.Guard
	validator *validator.Validate
	rateLimit int
}

// NewHandler builds Handler instance. rateLimit caps redemption attempts per
// client IP per minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Guard, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, validator: httpx.NewValidator(), rateLimit: rateLimit}
}

// MountRoutes registers invitation routes. Accept is public: the token is
// the credential.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post("/accept", h.accept)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Pipeline(h.guard.Authenticate(), rbac.RequireAdmin()))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Delete("/{id}", h.revoke)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	invs, err := h.service.ListActive(r.Context(), rbac.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list invitations", err)
		return
	}
	now := h.service.now()
	out := make([]invitationResponse, 0, len(invs))
	for _, inv := range invs {
		out = append(out, newInvitationResponse(inv, now))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invitations": out})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	created, err := h.service.Create(r.Context(), rbac.ActorFromContext(r.Context()), CreateInput{
		Email:     form.Email,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		RoleID:    form.RoleID,
		TTL:       time.Duration(form.TTLHours) * time.Hour,
	})
	if err != nil {
		h.fail(w, "create invitation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, createdResponse{
		Invitation: newInvitationResponse(created.Invitation, h.service.now()),
		Token:      created.Token,
		Link:       created.Link,
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Errorf(shared.ErrValidation, "invalid invitation id"))
		return
	}
	if err := h.service.Revoke(r.Context(), rbac.ActorFromContext(r.Context()), id); err != nil {
		h.fail(w, "revoke invitation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	var form acceptRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	session, err := h.service.Accept(r.Context(), form.Token, form.Password)
	if err != nil {
		h.fail(w, "accept invitation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, auth.NewSessionResponse(session))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == nil || errors.Is(err, shared.ErrPersistence) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
