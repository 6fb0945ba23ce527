// Package bootstrap seeds the reference data every installation needs: the
// permission catalogue, the system roles and an optional administrator.
package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

var descriptions = map[string]string{
	shared.PermUserList:   "List users",
	shared.PermUserRead:   "View any user",
	shared.PermUserCreate: "Create users",
}

var systemRoles = []identity.Role{
	{Name: shared.RoleAdmin, Description: "Full administrative access", IsSystem: true},
	{Name: shared.RoleUser, Description: "Default role for registered users", IsSystem: true},
}

// Options controls administrator provisioning.
type Options struct {
	AdminEmail    string
	AdminPassword string
	// ResetAdminPassword overwrites the password of an existing administrator
	// account. Without it an existing account is left untouched.
	ResetAdminPassword bool
}

// Report summarises what a run changed.
type Report struct {
	PermissionsCreated int
	RolesCreated       int
	AdminCreated       bool
	AdminPasswordReset bool
}

// Seeder applies the seed. Every run is idempotent.
type Seeder struct {
	store  store.Store
	hasher *auth.Hasher
	rbac   *rbac.Service
	audit  *audit.Service
	logger *slog.Logger
	now    func() time.Time
}

// NewSeeder constructs a Seeder.
func NewSeeder(st store.Store, hasher *auth.Hasher, rbacSvc *rbac.Service, auditSvc *audit.Service, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: st, hasher: hasher, rbac: rbacSvc, audit: auditSvc, logger: logger, now: time.Now}
}

// WithClock overrides the time source.
func (s *Seeder) WithClock(now func() time.Time) *Seeder {
	s.now = now
	return s
}

// Run seeds the catalogue and system roles, then provisions the
// administrator when opts names one.
func (s *Seeder) Run(ctx context.Context, opts Options) (Report, error) {
	var report Report
	var adminHash string
	if opts.AdminEmail != "" && opts.AdminPassword != "" {
		if err := auth.ValidatePassword(opts.AdminPassword); err != nil {
			return report, err
		}
		var err error
		if adminHash, err = s.hasher.Hash(opts.AdminPassword); err != nil {
			return report, err
		}
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		report = Report{}
		catalogue, err := s.seedPermissions(ctx, q, &report)
		if err != nil {
			return err
		}
		adminRole, err := s.seedRoles(ctx, q, catalogue, &report)
		if err != nil {
			return err
		}
		if opts.AdminEmail == "" {
			return nil
		}
		return s.seedAdmin(ctx, q, adminRole, opts, adminHash, &report)
	})
	if err != nil {
		return Report{}, err
	}
	s.rbac.Invalidate(ctx)
	s.logger.Info("seed applied",
		slog.Int("permissions_created", report.PermissionsCreated),
		slog.Int("roles_created", report.RolesCreated),
		slog.Bool("admin_created", report.AdminCreated),
		slog.Bool("admin_password_reset", report.AdminPasswordReset))
	return report, nil
}

func (s *Seeder) seedPermissions(ctx context.Context, q store.Queries, report *Report) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(shared.CoreScopes()))
	for _, name := range shared.CoreScopes() {
		perm, err := q.GetPermissionByName(ctx, name)
		if err == nil {
			ids = append(ids, perm.ID)
			continue
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		resource, action, _ := identity.SplitPermissionName(name)
		perm = identity.Permission{
			ID:          uuid.New(),
			Name:        name,
			Description: descriptions[name],
			Resource:    resource,
			Action:      action,
			CreatedAt:   s.now().UTC(),
		}
		if err := q.CreatePermission(ctx, perm); err != nil {
			return nil, err
		}
		report.PermissionsCreated++
		ids = append(ids, perm.ID)
	}
	return ids, nil
}

// seedRoles creates missing system roles and makes sure the admin role
// carries the whole catalogue. Permissions added to roles by operators are
// kept.
func (s *Seeder) seedRoles(ctx context.Context, q store.Queries, catalogue []uuid.UUID, report *Report) (identity.Role, error) {
	var admin identity.Role
	for _, tmpl := range systemRoles {
		role, err := q.GetRoleByName(ctx, tmpl.Name)
		if errors.Is(err, shared.ErrNotFound) {
			now := s.now().UTC()
			role = tmpl
			role.ID = uuid.New()
			role.CreatedAt = now
			role.UpdatedAt = now
			if err = q.CreateRole(ctx, role); err != nil {
				return identity.Role{}, err
			}
			report.RolesCreated++
		} else if err != nil {
			return identity.Role{}, err
		}
		if role.Name != shared.RoleAdmin {
			continue
		}
		admin = role
		current, err := q.PermissionsOf(ctx, role.ID)
		if err != nil {
			return identity.Role{}, err
		}
		ids := append([]uuid.UUID{}, catalogue...)
		for _, perm := range current {
			ids = append(ids, perm.ID)
		}
		if err := q.SetRolePermissions(ctx, role.ID, ids); err != nil {
			return identity.Role{}, err
		}
	}
	return admin, nil
}

func (s *Seeder) seedAdmin(ctx context.Context, q store.Queries, adminRole identity.Role, opts Options, hash string, report *Report) error {
	email := identity.NormalizeEmail(opts.AdminEmail)
	if err := q.LockEmail(ctx, email); err != nil {
		return err
	}
	now := s.now().UTC()
	user, err := q.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		if hash == "" {
			return shared.Errorf(shared.ErrValidation, "an administrator password is required to create %s", email)
		}
		user = identity.User{
			ID:           uuid.New(),
			Email:        email,
			FirstName:    "Administrator",
			PasswordHash: hash,
			IsActive:     true,
			IsAdmin:      true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}
		report.AdminCreated = true
	case err != nil:
		return err
	default:
		changed := !user.IsAdmin || !user.IsActive
		user.IsAdmin = true
		user.IsActive = true
		if opts.ResetAdminPassword && hash != "" {
			user.PasswordHash = hash
			report.AdminPasswordReset = true
			changed = true
		}
		if changed {
			user.UpdatedAt = now
			if err := q.UpdateUser(ctx, user); err != nil {
				return err
			}
		}
	}
	if err := q.AddUserRole(ctx, user.ID, adminRole.ID); err != nil {
		return err
	}
	// A provisioned administrator disables first-registrant promotion.
	if _, err := q.ClaimBootstrap(ctx, user.ID, now); err != nil {
		return err
	}
	if !report.AdminCreated && !report.AdminPasswordReset {
		return nil
	}
	detail := "created"
	if report.AdminPasswordReset {
		detail = "password reset"
	}
	return s.audit.Append(ctx, q, audit.Entry{
		ActorID:      &user.ID,
		Action:       audit.ActionBootstrapAdmin,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		Detail:       detail,
	})
}
