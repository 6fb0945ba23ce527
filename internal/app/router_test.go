package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/invitations"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/store/memstore"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type capturingNotifier struct {
	mu      sync.Mutex
	notices []invitations.Notice
}

func (n *capturingNotifier) NotifyInvitation(_ context.Context, notice invitations.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func testConfig() *app.Config {
	return &app.Config{
		AppEnv:         "test",
		StoreDriver:    app.StoreDriverMemory,
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		JWTIssuer:      "odyssey-iam",
		TokenTTL:       time.Hour,
		BcryptCost:     bcrypt.MinCost,
		InvitationTTL:  24 * time.Hour,
		PublicBaseURL:  "https://iam.example.com",
		FirstUserAdmin: true,
		DefaultRole:    "user",
	}
}

type testServer struct {
	handler  http.Handler
	notifier *capturingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()
	notifier := &capturingNotifier{}
	deps := app.Deps{
		Store:    memstore.New(),
		Notifier: notifier,
		Metrics:  observability.NewMetrics(),
	}
	services, err := app.NewServices(cfg, deps)
	require.NoError(t, err)
	_, err = services.Seeder.Run(context.Background(), cfg.SeedOptions())
	require.NoError(t, err)
	return &testServer{handler: app.NewRouter(services.HTTPHandlers(cfg, deps)), notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

type session struct {
	AccessToken string `json:"access_token"`
	User        struct {
		Email   string   `json:"email"`
		IsAdmin bool     `json:"is_admin"`
		Roles   []string `json:"roles"`
	} `json:"user"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestSystemStatusReportsFirstUser(t *testing.T) {
	srv := newTestServer(t)

	type status struct {
		Status   string `json:"status"`
		HasUsers bool   `json:"has_users"`
		Cache    string `json:"cache"`
	}
	rr := srv.do(t, http.MethodGet, "/api/system/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[status](t, rr)
	assert.False(t, got.HasUsers)
	assert.Equal(t, "disabled", got.Cache)

	rr = srv.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "Ada@Example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	admin := decode[session](t, rr)
	assert.True(t, admin.User.IsAdmin)
	assert.Equal(t, "ada@example.com", admin.User.Email)

	rr = srv.do(t, http.MethodGet, "/api/system/status", "", nil)
	assert.True(t, decode[status](t, rr).HasUsers)
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "admin@example.com", "password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	admin := decode[session](t, rr)

	rr = srv.do(t, http.MethodPost, "/api/invitations", admin.AccessToken, map[string]string{
		"email": "grace@example.com", "first_name": "Grace",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[struct {
		Token string `json:"token"`
		Link  string `json:"link"`
	}](t, rr)
	assert.Equal(t, "https://iam.example.com/accept-invitation?token="+created.Token, created.Link)
	require.Len(t, srv.notifier.notices, 1)
	assert.Equal(t, created.Link, srv.notifier.notices[0].Link)

	rr = srv.do(t, http.MethodPost, "/api/invitations/accept", "", map[string]string{
		"token": created.Token, "password": "grace-password",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	invitee := decode[session](t, rr)
	assert.False(t, invitee.User.IsAdmin)

	rr = srv.do(t, http.MethodPost, "/api/invitations/accept", "", map[string]string{
		"token": created.Token, "password": "grace-password",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/users", invitee.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/users", admin.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/audit-logs", admin.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterDefaults(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = srv.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")

	rr = srv.do(t, http.MethodGet, "/api/roles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "iam_http_requests_total")
}
