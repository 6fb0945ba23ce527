package rbac

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store"
)

// ErrPrincipalUnavailable is returned when a token refers to a principal that
// was deleted or deactivated after issue.
var ErrPrincipalUnavailable = &shared.Error{Kind: shared.ErrAuthentication, Message: "principal unavailable"}

// Service resolves actors and their grants from the store.
type Service struct {
	store  store.Queries
	cache  *Cache
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(q store.Queries, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: q, cache: cache, logger: logger}
}

// LoadGrants reads the roles of userID and the permissions of each role
// through q, bypassing the cache. Use it inside transactions.
func LoadGrants(ctx context.Context, q store.Queries, userID uuid.UUID) ([]Grant, error) {
	roles, err := q.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants := make([]Grant, 0, len(roles))
	for _, role := range roles {
		perms, err := q.PermissionsOf(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		grants = append(grants, Grant{Role: role, Permissions: perms})
	}
	return grants, nil
}

// Grants returns the role grants of userID, served from the cache when
// possible. Cache outages degrade to a direct store read.
func (s *Service) Grants(ctx context.Context, userID uuid.UUID) ([]Grant, error) {
	loader := func(ctx context.Context) (any, error) {
		return LoadGrants(ctx, s.store, userID)
	}
	key, err := s.cache.BuildKey(ctx, "iam", "grants", userID.String())
	if err == nil {
		var grants []Grant
		err = s.cache.FetchJSON(ctx, key, &grants, loader)
		if err == nil {
			return grants, nil
		}
		if shared.KindOf(err) != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	s.logger.Warn("rbac cache unavailable", slog.Any("error", err))
	return LoadGrants(ctx, s.store, userID)
}

// LoadActor resolves the active principal userID with its grants.
func (s *Service) LoadActor(ctx context.Context, userID uuid.UUID) (*Actor, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrPrincipalUnavailable
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrPrincipalUnavailable
	}
	grants, err := s.Grants(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Actor{User: user, Grants: grants}, nil
}

// Invalidate drops every cached grant. Callers invoke it after committing a
// change to roles, permissions or assignments.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Error("rbac cache bump", slog.Any("error", err))
	}
}
