package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

// Stage is one step of a request pipeline. It returns the request, possibly
// carrying a richer context, or an error that ends the pipeline.
type Stage func(*http.Request) (*http.Request, error)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(raw string) (*token.Claims, error)
}

// Guard wires authentication and authorization stages for HTTP handlers.
type Guard struct {
	Tokens  TokenValidator
	Service *Service
	Logger  *slog.Logger
}

// Pipeline runs stages in order before next. The first failing stage writes
// the error response.
func (g Guard) Pipeline(stages ...Stage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, stage := range stages {
				var err error
				if r, err = stage(r); err != nil {
					g.reject(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g Guard) reject(w http.ResponseWriter, r *http.Request, err error) {
	if g.Logger != nil {
		level := slog.LevelInfo
		if shared.KindOf(err) == nil || shared.KindOf(err) == shared.ErrPersistence {
			level = slog.LevelError
		}
		g.Logger.Log(r.Context(), level, "request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// Authenticate validates the bearer token and loads the actor it names.
func (g Guard) Authenticate() Stage {
	return func(r *http.Request) (*http.Request, error) {
		raw, ok := BearerToken(r)
		if !ok {
			return r, shared.Errorf(shared.ErrAuthentication, "missing bearer token")
		}
		claims, err := g.Tokens.Validate(raw)
		if err != nil {
			return r, err
		}
		userID, err := claims.UserID()
		if err != nil {
			return r, err
		}
		actor, err := g.Service.LoadActor(r.Context(), userID)
		if err != nil {
			return r, err
		}
		ctx := ContextWithClaims(r.Context(), claims)
		ctx = ContextWithActor(ctx, actor)
		return r.WithContext(ctx), nil
	}
}

// Require passes when the actor holds at least one of perms.
func Require(perms ...string) Stage {
	return func(r *http.Request) (*http.Request, error) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			return r, shared.Errorf(shared.ErrAuthentication, "authentication required")
		}
		if !AuthorizeAny(actor, perms...) {
			return r, shared.Errorf(shared.ErrAuthorization, "missing permission %s", strings.Join(perms, " or "))
		}
		return r, nil
	}
}

// RequireAdmin passes only for administrators.
func RequireAdmin() Stage {
	return func(r *http.Request) (*http.Request, error) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			return r, shared.Errorf(shared.ErrAuthentication, "authentication required")
		}
		if !actor.IsSuperUser() {
			return r, shared.Errorf(shared.ErrAuthorization, "administrator required")
		}
		return r, nil
	}
}

// RequireSelfOr passes when the URL parameter param names the actor, or when
// the actor holds perm.
func RequireSelfOr(param, perm string) Stage {
	return func(r *http.Request) (*http.Request, error) {
		actor := ActorFromContext(r.Context())
		if actor == nil {
			return r, shared.Errorf(shared.ErrAuthentication, "authentication required")
		}
		target, err := uuid.Parse(chi.URLParam(r, param))
		if err != nil {
			return r, shared.Errorf(shared.ErrValidation, "invalid %s", param)
		}
		if !AuthorizeSelfOrPermission(actor, target, perm) {
			return r, shared.Errorf(shared.ErrAuthorization, "missing permission %s", perm)
		}
		return r, nil
	}
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
