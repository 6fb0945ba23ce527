package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

// Options tunes registration behaviour.
type Options struct {
	// FirstUserAdmin grants administrator rights to whoever registers first,
	// unless an administrator was already provisioned.
	FirstUserAdmin bool
	// DefaultRole is assigned to self-registered principals when it exists.
	DefaultRole string
}

// Service wraps authentication business rules.
type Service struct {
	store    store.Store
	hasher   *Hasher
	tokens   *token.Service
	rbac     *rbac.Service
	audit    *audit.Service
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(st store.Store, hasher *Hasher, tokens *token.Service, rbacSvc *rbac.Service, auditSvc *audit.Service, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		hasher:   hasher,
		tokens:   tokens,
		rbac:     rbacSvc,
		audit:    auditSvc,
		opts:     opts,
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

// Authenticate validates email/password credentials and issues a token.
// Every failure cause yields shared.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	normalized := identity.NormalizeEmail(email)
	user, err := s.store.GetUserByEmail(ctx, normalized)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		s.hasher.CheckPassword(identity.User{}, password)
		return nil, s.loginFailed(ctx, normalized)
	case err != nil:
		return nil, err
	}
	if !s.hasher.CheckPassword(user, password) || !user.IsActive {
		return nil, s.loginFailed(ctx, normalized)
	}

	now := s.now().UTC()
	err = s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.TouchLastLogin(ctx, user.ID, now); err != nil {
			return err
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &user.ID,
			Action:       audit.ActionLogin,
			ResourceType: "user",
			ResourceID:   user.ID.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	user.LastLogin = &now
	return s.issue(ctx, user)
}

func (s *Service) loginFailed(ctx context.Context, email string) error {
	if err := s.audit.Append(ctx, nil, audit.Entry{
		Action:       audit.ActionLoginFailed,
		ResourceType: "user",
		ResourceID:   email,
		Detail:       shared.ErrInvalidCredentials.Message,
	}); err != nil {
		s.logger.Warn("audit failed login", slog.Any("error", err))
	}
	return shared.ErrInvalidCredentials
}

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a principal and signs it in. The first registrant becomes
// administrator when Options.FirstUserAdmin is set and no administrator has
// been provisioned yet.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email := identity.NormalizeEmail(in.Email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, shared.Errorf(shared.ErrValidation, "a valid email is required")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := identity.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.hasher.SetPassword(&user, in.Password); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.LockEmail(ctx, email); err != nil {
			return err
		}
		if _, err := q.GetUserByEmail(ctx, email); err == nil {
			return shared.Errorf(shared.ErrConflict, "email already registered")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		// The marker is claimed even when promotion is off, so enabling it
		// later never promotes a principal who was not first.
		claimed, err := q.ClaimBootstrap(ctx, user.ID, now)
		if err != nil {
			return err
		}
		user.IsAdmin = claimed && s.opts.FirstUserAdmin
		if err := q.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := s.assignByName(ctx, q, user.ID, s.opts.DefaultRole); err != nil {
			return err
		}
		if user.IsAdmin {
			if err := s.assignByName(ctx, q, user.ID, shared.RoleAdmin); err != nil {
				return err
			}
		}
		detail := ""
		if user.IsAdmin {
			detail = "first principal granted administrator"
		}
		return s.audit.Append(ctx, q, audit.Entry{
			ActorID:      &user.ID,
			Action:       audit.ActionRegister,
			ResourceType: "user",
			ResourceID:   user.ID.String(),
			Detail:       detail,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

// assignByName grants the named role when it exists. A missing role is not
// an error.
func (s *Service) assignByName(ctx context.Context, q store.Queries, userID uuid.UUID, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	role, err := q.GetRoleByName(ctx, name)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return q.AddUserRole(ctx, userID, role.ID)
}

// Session is the result of a successful sign in.
type Session struct {
	Token  string
	Claims *token.Claims
	Actor  *rbac.Actor
}

// SessionFor issues a token for a principal that was authenticated by other
// means, such as redeeming an invitation.
func (s *Service) SessionFor(ctx context.Context, user identity.User) (*Session, error) {
	return s.issue(ctx, user)
}

func (s *Service) issue(ctx context.Context, user identity.User) (*Session, error) {
	grants, err := rbac.LoadGrants(ctx, s.store, user.ID)
	if err != nil {
		return nil, err
	}
	actor := &rbac.Actor{User: user, Grants: grants}
	raw, claims, err := s.tokens.Issue(token.Subject{
		UserID:      user.ID,
		Email:       user.Email,
		Roles:       actor.RoleNames(),
		Permissions: actor.Permissions(),
		IsAdmin:     user.IsAdmin,
	}, 0)
	if err != nil {
		return nil, err
	}
	return &Session{Token: raw, Claims: claims, Actor: actor}, nil
}

// ValidateToken checks a token's signature and expiry.
func (s *Service) ValidateToken(raw string) (*token.Claims, error) {
	return s.tokens.Validate(raw)
}
