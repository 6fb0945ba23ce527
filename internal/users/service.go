// Package users manages principals on behalf of administrators and of the
// principals themselves.
package users

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

// Profile is a principal together with its assigned roles.
type Profile struct {
	User  identity.User
	Roles []identity.Role
}

// RoleNames returns the names of the assigned roles.
func (p Profile) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, role := range p.Roles {
		names = append(names, role.Name)
	}
	slices.Sort(names)
	return names
}

// ListQuery narrows List.
type ListQuery struct {
	Search  string
	Page    int
	PerPage int
}

// CreateInput carries an administrative principal creation.
type CreateInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	IsAdmin   bool
	RoleIDs   []uuid.UUID
}

// UpdateInput carries a partial update. Nil fields are left unchanged.
// FirstName, LastName and Password may be changed by the principal itself;
// the remaining fields are reserved to administrators.
type UpdateInput struct {
	FirstName *string
	LastName  *string
	Password  *string
	Email     *string
	IsActive  *bool
	IsAdmin   *bool
	RoleIDs   *[]uuid.UUID
}

func (in UpdateInput) privileged() bool {
	return in.Email != nil || in.IsActive != nil || in.IsAdmin != nil || in.RoleIDs != nil
}

// Service implements principal management.
type Service struct {
	store    store.Store
	hasher   *auth.Hasher
	rbac     *rbac.Service
	audit    *audit.Service
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(st store.Store, hasher *auth.Hasher, rbacSvc *rbac.Service, auditSvc *audit.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		hasher:   hasher,
		rbac:     rbacSvc,
		audit:    auditSvc,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func forbidden() error {
	return shared.Errorf(shared.ErrAuthorization, "insufficient permissions")
}

// List returns one page of principals ordered by creation time.
func (s *Service) List(ctx context.Context, actor *rbac.Actor, query ListQuery) ([]Profile, shared.Pagination, error) {
	if !rbac.Authorize(actor, shared.PermUserList) {
		return nil, shared.Pagination{}, forbidden()
	}
	pagination := shared.NewPagination(query.Page, query.PerPage, 0)
	users, total, err := s.store.ListUsers(ctx, store.UserFilter{
		Search: strings.TrimSpace(query.Search),
		Limit:  pagination.PerPage,
		Offset: pagination.Offset(),
	})
	if err != nil {
		return nil, shared.Pagination{}, shared.Persistence("users: list", err)
	}
	out := make([]Profile, 0, len(users))
	for _, user := range users {
		roles, err := s.store.RolesOf(ctx, user.ID)
		if err != nil {
			return nil, shared.Pagination{}, shared.Persistence("users: roles", err)
		}
		out = append(out, Profile{User: user, Roles: roles})
	}
	return out, shared.NewPagination(pagination.Page, pagination.PerPage, total), nil
}

// Get returns a principal visible to actor.
func (s *Service) Get(ctx context.Context, actor *rbac.Actor, id uuid.UUID) (Profile, error) {
	if !rbac.AuthorizeSelfOrPermission(actor, id, shared.PermUserRead) {
		return Profile{}, forbidden()
	}
	return s.profile(ctx, s.store, id)
}

func (s *Service) profile(ctx context.Context, q store.Queries, id uuid.UUID) (Profile, error) {
	user, err := q.GetUser(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	roles, err := q.RolesOf(ctx, id)
	if err != nil {
		return Profile{}, shared.Persistence("users: roles", err)
	}
	return Profile{User: user, Roles: roles}, nil
}

// Create provisions a principal directly. Granting roles or the admin flag
// requires an administrator.
func (s *Service) Create(ctx context.Context, actor *rbac.Actor, in CreateInput) (Profile, error) {
	if !rbac.Authorize(actor, shared.PermUserCreate) {
		return Profile{}, forbidden()
	}
	if (in.IsAdmin || len(in.RoleIDs) > 0) && !rbac.AuthorizeAdmin(actor) {
		return Profile{}, shared.Errorf(shared.ErrAuthorization, "only administrators can grant roles or administrator rights")
	}
	email := identity.NormalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return Profile{}, shared.Errorf(shared.ErrValidation, "a valid email is required")
	}
	now := s.now().UTC()
	user := identity.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsActive:  true,
		IsAdmin:   in.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.hasher.SetPassword(&user, in.Password); err != nil {
		return Profile{}, err
	}

	var out Profile
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.LockEmail(ctx, email); err != nil {
			return err
		}
		if _, err := q.GetUserByEmail(ctx, email); err == nil {
			return shared.Errorf(shared.ErrConflict, "email already registered")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}
		if len(in.RoleIDs) > 0 {
			if err := assignRoles(ctx, q, user.ID, in.RoleIDs); err != nil {
				return err
			}
		}
		if err := s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionUserCreate,
			ResourceType: "user",
			ResourceID:   user.ID.String(),
			Detail:       email,
		}); err != nil {
			return err
		}
		var err error
		out, err = s.profile(ctx, q, user.ID)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	if len(in.RoleIDs) > 0 {
		s.rbac.Invalidate(ctx)
	}
	return out, nil
}

// Update applies in to principal id. A principal may edit its own names and
// password; anything else, or any other principal, needs an administrator.
func (s *Service) Update(ctx context.Context, actor *rbac.Actor, id uuid.UUID, in UpdateInput) (Profile, error) {
	if actor == nil {
		return Profile{}, forbidden()
	}
	self := actor.GetID() == id
	if (!self || in.privileged()) && !rbac.AuthorizeAdmin(actor) {
		return Profile{}, forbidden()
	}
	if self && ((in.IsActive != nil && !*in.IsActive) || (in.IsAdmin != nil && !*in.IsAdmin)) {
		return Profile{}, shared.Errorf(shared.ErrValidation, "cannot deactivate or demote yourself")
	}

	var hash string
	if in.Password != nil {
		var err error
		if err = auth.ValidatePassword(*in.Password); err != nil {
			return Profile{}, err
		}
		if hash, err = s.hasher.Hash(*in.Password); err != nil {
			return Profile{}, err
		}
	}
	var email string
	if in.Email != nil {
		email = identity.NormalizeEmail(*in.Email)
		if err := s.validate.Var(email, "required,email"); err != nil {
			return Profile{}, shared.Errorf(shared.ErrValidation, "a valid email is required")
		}
	}

	var out Profile
	var changed []string
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		changed = changed[:0]
		user, err := q.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if in.FirstName != nil {
			user.FirstName = strings.TrimSpace(*in.FirstName)
			changed = append(changed, "first_name")
		}
		if in.LastName != nil {
			user.LastName = strings.TrimSpace(*in.LastName)
			changed = append(changed, "last_name")
		}
		if hash != "" {
			user.PasswordHash = hash
			changed = append(changed, "password")
		}
		if in.Email != nil && email != user.Email {
			if err := q.LockEmail(ctx, email); err != nil {
				return err
			}
			user.Email = email
			changed = append(changed, "email")
		}
		if in.IsActive != nil {
			user.IsActive = *in.IsActive
			changed = append(changed, "is_active")
		}
		if in.IsAdmin != nil {
			user.IsAdmin = *in.IsAdmin
			changed = append(changed, "is_admin")
		}
		user.UpdatedAt = s.now().UTC()
		if err := q.UpdateUser(ctx, user); err != nil {
			return err
		}
		if in.RoleIDs != nil {
			if err := assignRoles(ctx, q, id, *in.RoleIDs); err != nil {
				return err
			}
			changed = append(changed, "role_ids")
		}
		if err := s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionUserUpdate,
			ResourceType: "user",
			ResourceID:   id.String(),
			Detail:       strings.Join(changed, ","),
		}); err != nil {
			return err
		}
		out, err = s.profile(ctx, q, id)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	if in.privileged() {
		s.rbac.Invalidate(ctx)
	}
	return out, nil
}

// Delete removes principal id. Callers cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actor *rbac.Actor, id uuid.UUID) error {
	if !rbac.AuthorizeAdmin(actor) {
		return forbidden()
	}
	if actor.GetID() == id {
		return shared.Errorf(shared.ErrValidation, "cannot delete your own account")
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		user, err := q.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteUser(ctx, id); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      actorID(actor),
			Action:       audit.ActionUserDelete,
			ResourceType: "user",
			ResourceID:   id.String(),
			Detail:       user.Email,
		})
	})
	if err != nil {
		return err
	}
	s.rbac.Invalidate(ctx)
	return nil
}

// assignRoles replaces the roles of userID after checking every id exists.
func assignRoles(ctx context.Context, q store.Queries, userID uuid.UUID, roleIDs []uuid.UUID) error {
	for _, roleID := range roleIDs {
		if _, err := q.GetRole(ctx, roleID); err != nil {
			return err
		}
	}
	return q.SetUserRoles(ctx, userID, roleIDs)
}

func actorID(actor *rbac.Actor) *uuid.UUID {
	if actor == nil {
		return nil
	}
	id := actor.GetID()
	return &id
}
