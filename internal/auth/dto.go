package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/identity"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/token"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type validateRequest struct {
	Token string `json:"token" validate:"required"`
}

// UserResponse is the public representation of a principal.
type UserResponse struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	IsActive    bool       `json:"is_active"`
	IsAdmin     bool       `json:"is_admin"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// NewUserResponse renders a principal without its password hash.
func NewUserResponse(u identity.User, roles []string) UserResponse {
	if roles == nil {
		roles = []string{}
	}
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		LastLogin: u.LastLogin,
	}
}

// ActorResponse renders an actor including its effective permissions.
func ActorResponse(a *rbac.Actor) UserResponse {
	resp := NewUserResponse(a.User, a.RoleNames())
	resp.Permissions = a.Permissions()
	return resp
}

// SessionResponse is returned whenever a token is issued.
type SessionResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// NewSessionResponse renders a session.
func NewSessionResponse(s *Session) SessionResponse {
	return SessionResponse{
		AccessToken: s.Token,
		TokenType:   "Bearer",
		ExpiresAt:   s.Claims.ExpiresAt.Time,
		User:        ActorResponse(s.Actor),
	}
}

type validateResponse struct {
	Valid       bool      `json:"valid"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	IsAdmin     bool      `json:"is_admin"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newValidateResponse(c *token.Claims) validateResponse {
	return validateResponse{
		Valid:       true,
		UserID:      c.Subject,
		Email:       c.Email,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		IsAdmin:     c.IsAdmin,
		ExpiresAt:   c.ExpiresAt.Time,
	}
}
