package accessrequests_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/accessrequests"
	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/store/memstore"
)

type fixture struct {
	store  *memstore.Store
	svc    *accessrequests.Service
	rbac   *rbac.Service
	admin  *rbac.Actor
	alice  *rbac.Actor
	bob    *rbac.Actor
	editor identity.Role
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	rbacSvc := rbac.NewService(st, nil, nil)
	svc := accessrequests.NewService(st, rbacSvc, audit.NewService(st, nil), nil)

	mk := func(email string, admin bool) *rbac.Actor {
		u := identity.User{ID: uuid.New(), Email: email, PasswordHash: "x", IsActive: true, IsAdmin: admin}
		require.NoError(t, st.CreateUser(ctx, u))
		return &rbac.Actor{User: u}
	}
	editor := identity.Role{ID: uuid.New(), Name: "editor"}
	require.NoError(t, st.CreateRole(ctx, editor))
	return fixture{
		store:  st,
		svc:    svc,
		rbac:   rbacSvc,
		admin:  mk("admin@example.com", true),
		alice:  mk("alice@example.com", false),
		bob:    mk("bob@example.com", false),
		editor: editor,
	}
}

func TestApproveGrantsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.alice, f.editor.ID, "  need to publish ")
	require.NoError(t, err)
	assert.Equal(t, identity.AccessRequestPending, req.Status)
	assert.Equal(t, "need to publish", req.Reason)

	_, err = f.svc.Create(ctx, f.alice, f.editor.ID, "again")
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Decide(ctx, f.alice, req.ID, true, "")
	assert.ErrorIs(t, err, shared.ErrAuthorization)

	granted := &rbac.Actor{User: f.bob.User, Grants: []rbac.Grant{{
		Role:        identity.Role{ID: uuid.New(), Name: "approver"},
		Permissions: []identity.Permission{{ID: uuid.New(), Name: "access_request:decide"}},
	}}}
	_, err = f.svc.Decide(ctx, granted, req.ID, true, "")
	assert.ErrorIs(t, err, shared.ErrAuthorization)

	decided, err := f.svc.Decide(ctx, f.admin, req.ID, true, "ok")
	require.NoError(t, err)
	assert.Equal(t, identity.AccessRequestApproved, decided.Status)
	assert.Equal(t, f.admin.User.ID, *decided.ApproverID)
	require.NotNil(t, decided.DecidedAt)

	roles, err := f.store.RolesOf(ctx, f.alice.User.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "editor", roles[0].Name)

	_, err = f.svc.Decide(ctx, f.admin, req.ID, false, "changed my mind")
	assert.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.Create(ctx, f.alice, f.editor.ID, "")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestRejectLeavesRolesUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Create(ctx, f.bob, f.editor.ID, "")
	require.NoError(t, err)
	decided, err := f.svc.Decide(ctx, f.admin, req.ID, false, "no")
	require.NoError(t, err)
	assert.Equal(t, identity.AccessRequestRejected, decided.Status)

	roles, err := f.store.RolesOf(ctx, f.bob.User.ID)
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = f.svc.Create(ctx, f.bob, f.editor.ID, "second try")
	require.NoError(t, err)
}

func TestListVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.alice, f.editor.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.bob, f.editor.ID, "")
	require.NoError(t, err)

	own, err := f.svc.List(ctx, f.alice, "")
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, f.alice.User.ID, own[0].RequesterID)

	all, err := f.svc.List(ctx, f.admin, identity.AccessRequestPending)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.List(ctx, f.admin, "bogus")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.alice, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Create(ctx, nil, f.editor.ID, "")
	assert.ErrorIs(t, err, shared.ErrAuthentication)

	_, err = f.svc.Decide(ctx, f.admin, uuid.New(), true, "")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
