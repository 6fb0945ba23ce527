package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     rbac.Guard
	metrics   *observability.Metrics
	validator *validator.Validate
	rateLimit int
}

// NewHandler constructs a Handler instance. rateLimit caps credential
// attempts per client IP per minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, guard rbac.Guard, metrics *observability.Metrics, rateLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		metrics:   metrics,
		validator: httpx.NewValidator(),
		rateLimit: rateLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post("/login", h.handleLogin)
		r.Post("/signup", h.handleSignup)
	})
	r.Post("/validate", h.handleValidate)
	r.With(h.guard.Pipeline(h.guard.Authenticate())).Get("/me", h.handleMe)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	session, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		h.metrics.ObserveAuth("login", outcome(err))
		if !errors.Is(err, shared.ErrAuthentication) {
			h.logger.Error("login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveAuth("login", "success")
	httpx.JSON(w, http.StatusOK, NewSessionResponse(session))
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var form signupRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	session, err := h.service.Register(r.Context(), RegisterInput{
		Email:     form.Email,
		Password:  form.Password,
		FirstName: form.FirstName,
		LastName:  form.LastName,
	})
	if err != nil {
		h.metrics.ObserveAuth("signup", outcome(err))
		if shared.KindOf(err) == nil || errors.Is(err, shared.ErrPersistence) {
			h.logger.Error("signup", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveAuth("signup", "success")
	httpx.JSON(w, http.StatusCreated, NewSessionResponse(session))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var form validateRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	claims, err := h.service.ValidateToken(form.Token)
	if err != nil {
		h.metrics.ObserveAuth("validate", outcome(err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveAuth("validate", "success")
	httpx.JSON(w, http.StatusOK, newValidateResponse(claims))
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := rbac.ActorFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, ActorResponse(actor))
}

func outcome(err error) string {
	switch shared.KindOf(err) {
	case shared.ErrValidation:
		return "invalid"
	case shared.ErrAuthentication:
		return "rejected"
	case shared.ErrConflict:
		return "conflict"
	default:
		return "error"
	}
}
