package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := fmt.Errorf("create user: %w", Wrap(ErrConflict, "email already registered", cause))

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ErrConflict, KindOf(err))
	assert.Equal(t, "email already registered", UserSafeMessage(err))
}

func TestPersistenceHidesCause(t *testing.T) {
	err := Persistence("insert audit", errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "internal error", UserSafeMessage(err))
	assert.Contains(t, err.Error(), "connection refused")

	classified := Errorf(ErrNotFound, "user not found")
	assert.Same(t, classified, Persistence("get user", classified))
	assert.Nil(t, Persistence("noop", nil))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("boom")))
	assert.Equal(t, "internal error", UserSafeMessage(errors.New("boom")))
	assert.Equal(t, "invalid credentials", UserSafeMessage(ErrInvalidCredentials))
}
