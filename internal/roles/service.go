// Package roles manages roles, the permission catalogue and the edges
// between them.
package roles

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

const maxNameLength = 64

// Detail is a role with the permissions it grants.
type Detail struct {
	Role        identity.Role
	Permissions []identity.Permission
}

// CreateInput carries a new role.
type CreateInput struct {
	Name          string
	Description   string
	PermissionIDs []uuid.UUID
}

// UpdateInput carries a partial role update. PermissionIDs, when set,
// replaces the whole permission set.
type UpdateInput struct {
	Name          *string
	Description   *string
	PermissionIDs *[]uuid.UUID
}

// PermissionInput carries a new permission. Name may be omitted when
// Resource and Action are given, and vice versa.
type PermissionInput struct {
	Name        string
	Resource    string
	Action      string
	Description string
}

// Service handles role business logic.
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

func requireAdmin(actor *rbac.Actor) error {
	if !rbac.AuthorizeAdmin(actor) {
		return shared.Errorf(shared.ErrAuthorization, "administrator required")
	}
	return nil
}

func roleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", shared.Errorf(shared.ErrValidation, "role name required")
	}
	if len(name) > maxNameLength {
		return "", shared.Errorf(shared.ErrValidation, "role name must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// List returns every role with its permissions, ordered by name.
func (s *Service) List(ctx context.Context, actor *rbac.Actor) ([]Detail, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, shared.Persistence("roles: list", err)
	}
	out := make([]Detail, 0, len(roles))
	for _, role := range roles {
		perms, err := s.store.PermissionsOf(ctx, role.ID)
		if err != nil {
			return nil, shared.Persistence("roles: permissions", err)
		}
		out = append(out, Detail{Role: role, Permissions: perms})
	}
	return out, nil
}

// Get returns a single role.
func (s *Service) Get(ctx context.Context, actor *rbac.Actor, id uuid.UUID) (Detail, error) {
	if err := requireAdmin(actor); err != nil {
		return Detail{}, err
	}
	return detail(ctx, s.store, id)
}

func detail(ctx context.Context, q store.Queries, id uuid.UUID) (Detail, error) {
	role, err := q.GetRole(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	perms, err := q.PermissionsOf(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Role: role, Permissions: perms}, nil
}

// Create inserts a non-system role.
func (s *Service) Create(ctx context.Context, actor *rbac.Actor, in CreateInput) (Detail, error) {
	if err := requireAdmin(actor); err != nil {
		return Detail{}, err
	}
	name, err := roleName(in.Name)
	if err != nil {
		return Detail{}, err
	}
	now := s.now().UTC()
	role := identity.Role{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var out Detail
	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.CreateRole(ctx, role); err != nil {
			return err
		}
		if err := setPermissions(ctx, q, role.ID, in.PermissionIDs); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionRoleCreate,
			ResourceType: "role",
			ResourceID:   role.ID.String(),
			Detail:       role.Name,
		}); err != nil {
			return err
		}
		out, err = detail(ctx, q, role.ID)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	return out, nil
}

// Update changes a role. System roles keep their name.
func (s *Service) Update(ctx context.Context, actor *rbac.Actor, id uuid.UUID, in UpdateInput) (Detail, error) {
	if err := requireAdmin(actor); err != nil {
		return Detail{}, err
	}
	var name string
	if in.Name != nil {
		var err error
		if name, err = roleName(*in.Name); err != nil {
			return Detail{}, err
		}
	}
	var out Detail
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		role, err := q.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil && name != role.Name {
			if role.IsSystem {
				return shared.Errorf(shared.ErrAuthorization, "system role %q cannot be renamed", role.Name)
			}
			role.Name = name
		}
		if in.Description != nil {
			role.Description = strings.TrimSpace(*in.Description)
		}
		role.UpdatedAt = s.now().UTC()
		if err := q.UpdateRole(ctx, role); err != nil {
			return err
		}
		if in.PermissionIDs != nil {
			if err := setPermissions(ctx, q, id, *in.PermissionIDs); err != nil {
				return err
			}
		}
		if err := s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionRoleUpdate,
			ResourceType: "role",
			ResourceID:   id.String(),
			Detail:       role.Name,
		}); err != nil {
			return err
		}
		out, err = detail(ctx, q, id)
		return err
	})
	if err != nil {
		return Detail{}, err
	}
	s.rbac.Invalidate(ctx)
	return out, nil
}

// Delete removes a role and its edges. System roles cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor *rbac.Actor, id uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		role, err := q.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return shared.Errorf(shared.ErrAuthorization, "system role %q cannot be deleted", role.Name)
		}
		if err := q.DeleteRole(ctx, id); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionRoleDelete,
			ResourceType: "role",
			ResourceID:   id.String(),
			Detail:       role.Name,
		})
	})
	if err != nil {
		return err
	}
	s.rbac.Invalidate(ctx)
	return nil
}

// ListPermissions returns the permission catalogue.
func (s *Service) ListPermissions(ctx context.Context, actor *rbac.Actor) ([]identity.Permission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, shared.Persistence("permissions: list", err)
	}
	return perms, nil
}

// CreatePermission adds a resource:action permission to the catalogue.
func (s *Service) CreatePermission(ctx context.Context, actor *rbac.Actor, in PermissionInput) (identity.Permission, error) {
	if err := requireAdmin(actor); err != nil {
		return identity.Permission{}, err
	}
	perm, err := newPermission(in)
	if err != nil {
		return identity.Permission{}, err
	}
	perm.CreatedAt = s.now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.CreatePermission(ctx, perm); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionPermissionCreate,
			ResourceType: "permission",
			ResourceID:   perm.ID.String(),
			Detail:       perm.Name,
		})
	})
	if err != nil {
		return identity.Permission{}, err
	}
	return perm, nil
}

func newPermission(in PermissionInput) (identity.Permission, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		if strings.TrimSpace(in.Resource) == "" || strings.TrimSpace(in.Action) == "" {
			return identity.Permission{}, shared.Errorf(shared.ErrValidation, "permission name or resource and action required")
		}
		name = identity.PermissionName(in.Resource, in.Action)
	}
	resource, action, ok := identity.SplitPermissionName(name)
	if !ok || len(name) > maxNameLength*2 {
		return identity.Permission{}, shared.Errorf(shared.ErrValidation, "permission name must look like resource:action")
	}
	if in.Resource != "" && !strings.EqualFold(strings.TrimSpace(in.Resource), resource) {
		return identity.Permission{}, shared.Errorf(shared.ErrValidation, "resource does not match permission name")
	}
	if in.Action != "" && !strings.EqualFold(strings.TrimSpace(in.Action), action) {
		return identity.Permission{}, shared.Errorf(shared.ErrValidation, "action does not match permission name")
	}
	return identity.Permission{
		ID:          uuid.New(),
		Name:        identity.PermissionName(resource, action),
		Resource:    resource,
		Action:      action,
		Description: strings.TrimSpace(in.Description),
	}, nil
}

// setPermissions replaces the permission edges of roleID. Unknown ids fail
// with NotFound.
func setPermissions(ctx context.Context, q store.Queries, roleID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return q.SetRolePermissions(ctx, roleID, nil)
	}
	perms, err := q.PermissionsByID(ctx, ids)
	if err != nil {
		return err
	}
	unique := make([]uuid.UUID, 0, len(perms))
	for _, perm := range perms {
		unique = append(unique, perm.ID)
	}
	return q.SetRolePermissions(ctx, roleID, unique)
}

func actorID(actor *rbac.Actor) *uuid.UUID {
	if actor == nil {
		return nil
	}
	id := actor.GetID()
	return &id
}
