package httpx_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		shared.Errorf(shared.ErrValidation, "bad"):       http.StatusBadRequest,
		shared.ErrInvalidCredentials:                     http.StatusUnauthorized,
		shared.Errorf(shared.ErrAuthorization, "nope"):   http.StatusForbidden,
		shared.Errorf(shared.ErrNotFound, "gone"):        http.StatusNotFound,
		shared.Errorf(shared.ErrConflict, "dup"):         http.StatusConflict,
		shared.Errorf(shared.ErrInvalidState, "used"):    http.StatusConflict,
		shared.Persistence("insert", errors.New("boom")): http.StatusInternalServerError,
		errors.New("unclassified"):                       http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		httpx.RespondError(rec, err)
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func TestRespondErrorHidesPersistenceCause(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.RespondError(rec, shared.Persistence("insert user", errors.New("pq: password authentication failed for db")))

	var body httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body.Detail)
	assert.NotContains(t, rec.Body.String(), "password authentication")
}

type payload struct {
	Email string `json:"email" validate:"required,email"`
}

func TestBindReportsJSONFieldNames(t *testing.T) {
	v := httpx.NewValidator()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"nope"}`))

	var target payload
	ok := httpx.Bind(rec, req, v, &target)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "email", body.Errors["email"])
}

func TestBindRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co","is_admin":true}`))
	var target payload
	assert.False(t, httpx.Bind(rec, req, httpx.NewValidator(), &target))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
