package roles

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

// Handler manages role and permission endpoints.
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Pipeline(h.guard.Authenticate(), rbac.RequireAdmin()))
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{id}", h.getRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
	})
}

// MountPermissionRoutes registers the permission catalogue routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Pipeline(h.guard.Authenticate(), rbac.RequireAdmin()))
		r.Get("/", h.listPermissions)
		r.Post("/", h.createPermission)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.List(r.Context(), rbac.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(details))
	for _, d := range details {
		out = append(out, newRoleResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Get(r.Context(), rbac.ActorFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRoleResponse(d))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var form roleRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	d, err := h.service.Create(r.Context(), rbac.ActorFromContext(r.Context()), CreateInput{
		Name:          form.Name,
		Description:   form.Description,
		PermissionIDs: form.PermissionIDs,
	})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newRoleResponse(d))
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var form roleUpdateRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	d, err := h.service.Update(r.Context(), rbac.ActorFromContext(r.Context()), id, UpdateInput{
		Name:          form.Name,
		Description:   form.Description,
		PermissionIDs: form.PermissionIDs,
	})
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newRoleResponse(d))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := roleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), rbac.ActorFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), rbac.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": newPermissionResponses(perms)})
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var form permissionRequest
	if !httpx.Bind(w, r, h.validator, &form) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), rbac.ActorFromContext(r.Context()), PermissionInput{
		Name:        form.Name,
		Resource:    form.Resource,
		Action:      form.Action,
		Description: form.Description,
	})
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewPermissionResponse(perm))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if shared.KindOf(err) == nil || errors.Is(err, shared.ErrPersistence) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func roleID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Errorf(shared.ErrValidation, "invalid role id")
	}
	return id, nil
}
