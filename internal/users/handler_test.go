package users_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	tokens, err := token.NewService([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	guard := rbac.Guard{Tokens: tokens, Service: rbac.NewService(f.store, nil, nil)}
	r := chi.NewRouter()
	r.Route("/api/users", users.NewHandler(nil, f.svc, guard).MountRoutes)

	admin := f.user(t, "admin@example.com", true)
	plain := f.user(t, "plain@example.com", false)

	do := func(method, path, body string, actor *rbac.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		raw, _, err := tokens.Issue(token.Subject{UserID: actor.User.ID, Email: actor.User.Email}, 0)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/users", "", plain).Code)

	rec := do(http.MethodGet, "/api/users?per_page=1", "", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":2`)
	assert.NotContains(t, rec.Body.String(), "password")

	self := "/api/users/" + plain.User.ID.String()
	rec = do(http.MethodPut, self, `{"first_name":"Pat"}`, plain)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"first_name":"Pat"`)

	assert.Equal(t, http.StatusForbidden, do(http.MethodPut, self, `{"is_admin":true}`, plain).Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/users/"+admin.User.ID.String(), "", plain).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, "/api/users/nope", `{}`, admin).Code)

	rec = do(http.MethodPost, "/api/users", `{"email":"new@example.com","password":"password-1"}`, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do(http.MethodDelete, "/api/users/"+admin.User.ID.String(), "", plain).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodDelete, "/api/users/"+admin.User.ID.String(), "", admin).Code)
	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, self, "", admin).Code)
}
