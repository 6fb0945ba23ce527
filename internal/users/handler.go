package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const maxPerPage = 100

// Handler manages user management endpoints.
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

// MountRoutes registers user routes. Fine-grained checks live in the service.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Pipeline(h.guard.Authenticate()))
		r.With(h.guard.Pipeline(rbac.Require(shared.PermUserList))).Get("/", h.listUsers)
		r.With(h.guard.Pipeline(rbac.Require(shared.PermUserCreate))).Post("/", h.createUser)
		r.With(h.guard.Pipeline(rbac.RequireSelfOr("id", shared.PermUserRead))).Get("/{id}", h.getUser)
		r.Put("/{id}", h.updateUser)
		r.With(h.guard.Pipeline(rbac.RequireAdmin())).Delete("/{id}", h.deleteUser)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageParams(r, maxPerPage)
	profiles, pagination, err := h.service.List(r.Context(), rbac.ActorFromContext(r.Context()), ListQuery{
		Search:  r.URL.Query().Get("q"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newListResponse(profiles, pagination))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	profile, err := h.service.Get(r.Context(), rbac.ActorFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profileResponse(profile))
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var form createRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	profile, err := h.service.Create(r.Context(), rbac.ActorFromContext(r.Context()), CreateInput{
		Email:     form.Email,
		Password:  form.Password,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		IsAdmin:   form.IsAdmin,
		RoleIDs:   form.RoleIDs,
	})
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profileResponse(profile))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form updateRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	profile, err := h.service.Update(r.Context(), rbac.ActorFromContext(r.Context()), id, form.input())
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profileResponse(profile))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), rbac.ActorFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == nil || errors.Is(err, shared.ErrPersistence) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func userID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Errorf(shared.ErrValidation, "invalid user id")
	}
	return id, nil
}
