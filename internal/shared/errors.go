package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving a service wraps exactly one of these so
// transports can map it with errors.Is.
var (
	// ErrValidation indicates malformed input or a violated precondition.
	ErrValidation = errors.New("validation failed")
	// ErrAuthentication indicates bad credentials or an unusable token.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization indicates the caller lacks the required permission.
	ErrAuthorization = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates an operation on an entity in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrPersistence indicates the store failed.
	ErrPersistence = errors.New("persistence failure")
)

// ErrInvalidCredentials is the single message returned for every failed login.
var ErrInvalidCredentials = &Error{Kind: ErrAuthentication, Message: "invalid credentials"}

// Error is a classified error with a message that is safe to show callers.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return "error"
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind keeping it as the cause.
func Wrap(kind error, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Persistence wraps a store failure. The cause is kept for logging but never
// rendered to callers.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: ErrPersistence, Message: op, Err: err}
}

// KindOf returns the taxonomy sentinel matching err, or nil when unclassified.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrAuthentication, ErrAuthorization, ErrNotFound, ErrConflict, ErrInvalidState, ErrPersistence} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// UserSafeMessage returns a message for err that leaks no internal detail.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	if kind == nil || kind == ErrPersistence {
		return "internal error"
	}
	var classified *Error
	if errors.As(err, &classified) {
		if classified.Message != "" {
			return classified.Message
		}
		return kind.Error()
	}
	return err.Error()
}
