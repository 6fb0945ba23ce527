// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Aliases kept so handlers can compare against transport-level names.
var (
	ErrNotFound     = shared.ErrNotFound
	ErrDuplicate    = shared.ErrConflict
	ErrValidation   = shared.ErrValidation
	ErrForbidden    = shared.ErrAuthorization
	ErrUnauthorized = shared.ErrAuthentication
)

// StatusFor maps a classified error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Persistence and unclassified errors never expose their cause.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="odyssey-iam"`)
	}
	Problem(w, status, http.StatusText(status), shared.UserSafeMessage(err))
}
