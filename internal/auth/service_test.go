package auth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store/memstore"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

type harness struct {
	store  *memstore.Store
	audit  *audit.Service
	tokens *token.Service
	rbac   *rbac.Service
	svc    *auth.Service
}

func newHarness(t *testing.T, opts auth.Options) harness {
	t.Helper()
	st := memstore.New()
	tokens, err := token.NewService([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	rbacSvc := rbac.NewService(st, nil, nil)
	auditSvc := audit.NewService(st, nil)
	svc := auth.NewService(st, auth.NewHasher(bcrypt.MinCost), tokens, rbacSvc, auditSvc, opts, nil)
	return harness{store: st, audit: auditSvc, tokens: tokens, rbac: rbacSvc, svc: svc}
}

func (h harness) records(t *testing.T, action string) []identity.AuditRecord {
	t.Helper()
	var out []identity.AuditRecord
	for rec, err := range h.audit.List(context.Background(), audit.Filter{Action: action}) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func (h harness) seedRole(t *testing.T, name string, perms ...string) identity.Role {
	t.Helper()
	ctx := context.Background()
	role := identity.Role{ID: uuid.New(), Name: name, IsSystem: true}
	require.NoError(t, h.store.CreateRole(ctx, role))
	ids := make([]uuid.UUID, 0, len(perms))
	for _, name := range perms {
		resource, action, ok := identity.SplitPermissionName(name)
		require.True(t, ok)
		p := identity.Permission{ID: uuid.New(), Name: name, Resource: resource, Action: action}
		require.NoError(t, h.store.CreatePermission(ctx, p))
		ids = append(ids, p.ID)
	}
	require.NoError(t, h.store.SetRolePermissions(ctx, role.ID, ids))
	return role
}

func TestRegisterThenAuthenticate(t *testing.T) {
	h := newHarness(t, auth.Options{DefaultRole: shared.RoleUser})
	h.seedRole(t, shared.RoleUser, shared.PermUserRead)
	ctx := context.Background()

	session, err := h.svc.Register(ctx, auth.RegisterInput{
		Email:     "  Ada@Example.com ",
		Password:  "correct-horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", session.Actor.User.Email)
	assert.False(t, session.Actor.User.IsAdmin)
	assert.Equal(t, []string{shared.RoleUser}, session.Claims.Roles)
	assert.Equal(t, []string{shared.PermUserRead}, session.Claims.Permissions)
	assert.NotEqual(t, "correct-horse", session.Actor.User.PasswordHash)

	login, err := h.svc.Authenticate(ctx, "ADA@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, session.Actor.User.ID, login.Actor.User.ID)
	require.NotNil(t, login.Actor.User.LastLogin)

	claims, err := h.svc.ValidateToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)

	stored, err := h.store.GetUser(ctx, session.Actor.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)

	assert.Len(t, h.records(t, audit.ActionRegister), 1)
	assert.Len(t, h.records(t, audit.ActionLogin), 1)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t, auth.Options{})
	ctx := context.Background()

	session, err := h.svc.Register(ctx, auth.RegisterInput{Email: "grace@example.com", Password: "hopper-1906"})
	require.NoError(t, err)

	inactive, err := h.svc.Register(ctx, auth.RegisterInput{Email: "idle@example.com", Password: "idle-password"})
	require.NoError(t, err)
	user := inactive.Actor.User
	user.IsActive = false
	require.NoError(t, h.store.UpdateUser(ctx, user))

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", "whatever-pass"},
		{"wrong password", "grace@example.com", "wrong-password"},
		{"inactive", "idle@example.com", "idle-password"},
	}
	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Authenticate(ctx, tc.email, tc.password)
			require.ErrorIs(t, err, shared.ErrAuthentication)
			messages = append(messages, shared.UserSafeMessage(err))
		})
	}
	for _, msg := range messages {
		assert.Equal(t, "invalid credentials", msg)
	}

	failed := h.records(t, audit.ActionLoginFailed)
	require.Len(t, failed, 3)
	for _, rec := range failed {
		assert.Nil(t, rec.ActorID)
	}
	assert.NotEmpty(t, session.Token)
}

func TestRegisterRejectsDuplicateAndInvalidInput(t *testing.T) {
	h := newHarness(t, auth.Options{})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, auth.RegisterInput{Email: "dup@example.com", Password: "password-1"})
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, auth.RegisterInput{Email: "DUP@example.com", Password: "password-2"})
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = h.svc.Register(ctx, auth.RegisterInput{Email: "not-an-email", Password: "password-3"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.svc.Register(ctx, auth.RegisterInput{Email: "short@example.com", Password: ""})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.svc.Register(ctx, auth.RegisterInput{Email: "tiny@example.com", Password: "pw1"})
	require.NoError(t, err)

	assert.Len(t, h.records(t, audit.ActionRegister), 2)
}

func TestFirstRegistrantBecomesAdmin(t *testing.T) {
	h := newHarness(t, auth.Options{FirstUserAdmin: true, DefaultRole: shared.RoleUser})
	h.seedRole(t, shared.RoleAdmin, shared.PermUserList)
	h.seedRole(t, shared.RoleUser)
	ctx := context.Background()

	first, err := h.svc.Register(ctx, auth.RegisterInput{Email: "first@example.com", Password: "password-1"})
	require.NoError(t, err)
	assert.True(t, first.Actor.User.IsAdmin)
	assert.True(t, first.Claims.IsAdmin)
	assert.ElementsMatch(t, []string{shared.RoleAdmin, shared.RoleUser}, first.Claims.Roles)

	second, err := h.svc.Register(ctx, auth.RegisterInput{Email: "second@example.com", Password: "password-2"})
	require.NoError(t, err)
	assert.False(t, second.Actor.User.IsAdmin)
	assert.Equal(t, []string{shared.RoleUser}, second.Claims.Roles)
}

func TestConcurrentRegistrationGrantsAdminOnce(t *testing.T) {
	h := newHarness(t, auth.Options{FirstUserAdmin: true})
	ctx := context.Background()

	const n = 8
	sessions := make([]*auth.Session, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			s, err := h.svc.Register(ctx, auth.RegisterInput{
				Email:    fmt.Sprintf("racer%d@example.com", i),
				Password: "password-race",
			})
			sessions[i] = s
			return err
		})
	}
	require.NoError(t, g.Wait())

	admins := 0
	for _, s := range sessions {
		if s.Actor.User.IsAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}

func TestFirstUserAdminDisabled(t *testing.T) {
	h := newHarness(t, auth.Options{})
	session, err := h.svc.Register(context.Background(), auth.RegisterInput{Email: "solo@example.com", Password: "password-1"})
	require.NoError(t, err)
	assert.False(t, session.Actor.User.IsAdmin)
}

func TestEnablingFirstUserAdminLaterPromotesNobody(t *testing.T) {
	h := newHarness(t, auth.Options{})
	ctx := context.Background()
	_, err := h.svc.Register(ctx, auth.RegisterInput{Email: "early@example.com", Password: "password-1"})
	require.NoError(t, err)

	enabled := auth.NewService(h.store, auth.NewHasher(bcrypt.MinCost), h.tokens, h.rbac, h.audit, auth.Options{FirstUserAdmin: true}, nil)
	session, err := enabled.Register(ctx, auth.RegisterInput{Email: "late@example.com", Password: "password-2"})
	require.NoError(t, err)
	assert.False(t, session.Actor.User.IsAdmin)
}
