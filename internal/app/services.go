package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-iam/internal/accessrequests"
	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-iam/internal/audit/http"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/bootstrap"
	"github.com/odyssey-erp/odyssey-iam/internal/invitations"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Deps are the infrastructure handles the services are built on.
type Deps struct {
	Store store.Store
	// Redis backs the permission cache. Nil disables caching.
	Redis *redis.Client
	// Notifier receives committed invitations. Nil skips delivery.
	Notifier invitations.Notifier
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Services holds every IAM service, constructed once per process.
type Services struct {
	Tokens         *token.Service
	Hasher         *auth.Hasher
	RBAC           *rbac.Service
	Audit          *audit.Service
	Auth           *auth.Service
	Users          *users.Service
	Roles          *roles.Service
	Invitations    *invitations.Service
	AccessRequests *accessrequests.Service
	Seeder         *bootstrap.Seeder
	Guard          rbac.Guard
}

// NewServices wires the services from cfg and deps.
func NewServices(cfg *Config, deps Deps) (*Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokens, err := token.NewService([]byte(cfg.JWTSecret), cfg.TokenTTL, token.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	hasher := auth.NewHasher(cfg.BcryptCost)

	var cache *rbac.Cache
	if deps.Redis != nil {
		cache = rbac.NewCache(deps.Redis, cfg.PermissionCacheTTL)
	}
	rbacSvc := rbac.NewService(deps.Store, cache, logger)
	auditSvc := audit.NewService(deps.Store, logger)

	authSvc := auth.NewService(deps.Store, hasher, tokens, rbacSvc, auditSvc, auth.Options{
		FirstUserAdmin: cfg.FirstUserAdmin,
		DefaultRole:    cfg.DefaultRole,
	}, logger)

	return &Services{
		Tokens:         tokens,
		Hasher:         hasher,
		RBAC:           rbacSvc,
		Audit:          auditSvc,
		Auth:           authSvc,
		Users:          users.NewService(deps.Store, hasher, rbacSvc, auditSvc, logger),
		Roles:          roles.NewService(deps.Store, rbacSvc, auditSvc, logger),
		Invitations: invitations.NewService(deps.Store, hasher, authSvc, auditSvc, deps.Notifier, deps.Metrics, invitations.Options{
			TTL:     cfg.InvitationTTL,
			BaseURL: cfg.PublicBaseURL,
		}, logger),
		AccessRequests: accessrequests.NewService(deps.Store, rbacSvc, auditSvc, logger),
		Seeder:         bootstrap.NewSeeder(deps.Store, hasher, rbacSvc, auditSvc, logger),
		Guard:          rbac.Guard{Tokens: tokens, Service: rbacSvc, Logger: logger},
	}, nil
}

// SeedOptions maps the bootstrap settings of cfg.
func (c *Config) SeedOptions() bootstrap.Options {
	return bootstrap.Options{
		AdminEmail:         c.BootstrapAdminEmail,
		AdminPassword:      c.BootstrapAdminPassword,
		ResetAdminPassword: c.BootstrapAdminReset,
	}
}

// HTTPHandlers builds the transport layer over s.
func (s *Services) HTTPHandlers(cfg *Config, deps Deps) RouterParams {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	var cache Pinger
	if deps.Redis != nil {
		cache = PingFunc(func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() })
	}
	return RouterParams{
		Logger:                logger,
		Config:                cfg,
		Metrics:               metrics,
		Store:                 deps.Store,
		Cache:                 cache,
		AuthHandler:           auth.NewHandler(logger, s.Auth, s.Guard, metrics, cfg.AuthRateLimit),
		UsersHandler:          users.NewHandler(logger, s.Users, s.Guard),
		RolesHandler:          roles.NewHandler(logger, s.Roles, s.Guard),
		InvitationsHandler:    invitations.NewHandler(logger, s.Invitations, s.Guard, cfg.AuthRateLimit),
		AccessRequestsHandler: accessrequests.NewHandler(logger, s.AccessRequests, s.Guard),
		AuditHandler:          audithttp.NewHandler(logger, s.Audit, s.Guard),
	}
}
