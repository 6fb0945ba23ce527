package roles

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
)

type roleRequest struct {
	Name          string      `json:"name" validate:"required,max=64"`
	Description   string      `json:"description" validate:"max=255"`
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

type roleUpdateRequest struct {
	Name          *string      `json:"name" validate:"omitempty,max=64"`
	Description   *string      `json:"description" validate:"omitempty,max=255"`
	PermissionIDs *[]uuid.UUID `json:"permission_ids"`
}

type permissionRequest struct {
	Name        string `json:"name" validate:"omitempty,max=128"`
	Resource    string `json:"resource" validate:"omitempty,max=64"`
	Action      string `json:"action" validate:"omitempty,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// PermissionResponse is the public representation of a permission.
type PermissionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	CreatedAt   time.Time `json:"created_at"`
}

type roleResponse struct {
	ID          uuid.UUID            `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system_role"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewPermissionResponse renders a permission.
func NewPermissionResponse(p identity.Permission) PermissionResponse {
	return PermissionResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      p.Action,
		CreatedAt:   p.CreatedAt,
	}
}

func newPermissionResponses(perms []identity.Permission) []PermissionResponse {
	out := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, NewPermissionResponse(p))
	}
	return out
}

func newRoleResponse(d Detail) roleResponse {
	return roleResponse{
		ID:          d.Role.ID,
		Name:        d.Role.Name,
		Description: d.Role.Description,
		IsSystem:    d.Role.IsSystem,
		Permissions: newPermissionResponses(d.Permissions),
		CreatedAt:   d.Role.CreatedAt,
		UpdatedAt:   d.Role.UpdatedAt,
	}
}
