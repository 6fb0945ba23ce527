package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

func newRouter(t *testing.T, h harness, rateLimit int) http.Handler {
	t.Helper()
	guard := rbac.Guard{Tokens: h.tokens, Service: h.rbac}
	handler := auth.NewHandler(nil, h.svc, guard, observability.NewMetrics(), rateLimit)
	r := chi.NewRouter()
	r.Route("/api/auth", handler.MountRoutes)
	return r
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSignupLoginMe(t *testing.T) {
	h := newHarness(t, auth.Options{})
	router := newRouter(t, h, 0)

	rec := post(router, "/api/auth/signup", `{"email":"lin@example.com","password":"secret-pass","first_name":"Lin"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = post(router, "/api/auth/login", `{"email":"lin@example.com","password":"secret-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		User        struct {
			Email     string `json:"email"`
			FirstName string `json:"first_name"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, "Lin", session.User.FirstName)
	assert.NotContains(t, rec.Body.String(), "password")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	me := httptest.NewRecorder()
	router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"lin@example.com"`)

	rec = post(router, "/api/auth/validate", `{"token":"`+session.AccessToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)
}

func TestHandlerErrors(t *testing.T) {
	h := newHarness(t, auth.Options{})
	router := newRouter(t, h, 0)

	rec := post(router, "/api/auth/login", `{"email":"ghost@example.com","password":"whatever"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid credentials")

	rec = post(router, "/api/auth/login", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusCreated, post(router, "/api/auth/signup", `{"email":"dup@example.com","password":"secret-pass"}`).Code)
	rec = post(router, "/api/auth/signup", `{"email":"dup@example.com","password":"secret-pass"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = post(router, "/api/auth/validate", `{"token":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	me := httptest.NewRecorder()
	router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusUnauthorized, me.Code)
}

func TestHandlerRateLimitsCredentialAttempts(t *testing.T) {
	h := newHarness(t, auth.Options{})
	router := newRouter(t, h, 2)

	for range 2 {
		assert.Equal(t, http.StatusUnauthorized, post(router, "/api/auth/login", `{"email":"a@example.com","password":"x"}`).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, post(router, "/api/auth/login", `{"email":"a@example.com","password":"x"}`).Code)
}
