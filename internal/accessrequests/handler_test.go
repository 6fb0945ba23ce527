package accessrequests_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/accessrequests"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	tokens, err := token.NewService([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	guard := rbac.Guard{Tokens: tokens, Service: f.rbac}
	r := chi.NewRouter()
	r.Route("/api/access-requests", accessrequests.NewHandler(nil, f.svc, guard).MountRoutes)

	do := func(method, path, body string, actor *rbac.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		raw, _, err := tokens.Issue(token.Subject{UserID: actor.User.ID, Email: actor.User.Email}, 0)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/access-requests", `{"reason":"x"}`, f.alice).Code)

	rec := do(http.MethodPost, "/api/access-requests", `{"role_id":"`+f.editor.ID.String()+`","reason":"publishing"}`, f.alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created.Status)

	path := "/api/access-requests/" + created.ID
	assert.Equal(t, http.StatusForbidden, do(http.MethodPut, path, `{"status":"approved"}`, f.alice).Code)

	rec = do(http.MethodGet, "/api/access-requests", "", f.bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"access_requests":[]}`, rec.Body.String())

	rec = do(http.MethodGet, "/api/access-requests?status=pending", "", f.admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/access-requests?status=bogus", "", f.admin).Code)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPut, path, `{"status":"maybe"}`, f.admin).Code)
	rec = do(http.MethodPut, path, `{"status":"approved","approval_notes":"welcome"}`, f.admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)
	assert.Equal(t, http.StatusConflict, do(http.MethodPut, path, `{"status":"rejected"}`, f.admin).Code)
}
