package users

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type createRequest struct {
	Email     string      `json:"email" validate:"required,email"`
	Password  string      `json:"password" validate:"required,max=72"`
	FirstName string      `json:"first_name" validate:"max=100"`
	LastName  string      `json:"last_name" validate:"max=100"`
	IsAdmin   bool        `json:"is_admin"`
	RoleIDs   []uuid.UUID `json:"role_ids"`
}

type updateRequest struct {
	FirstName *string      `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string      `json:"last_name" validate:"omitempty,max=100"`
	Password  *string      `json:"password" validate:"omitempty,max=72"`
	Email     *string      `json:"email" validate:"omitempty,email"`
	IsActive  *bool        `json:"is_active"`
	IsAdmin   *bool        `json:"is_admin"`
	RoleIDs   *[]uuid.UUID `json:"role_ids"`
}

func (req updateRequest) input() UpdateInput {
	return UpdateInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Email:     req.Email,
		IsActive:  req.IsActive,
		IsAdmin:   req.IsAdmin,
		RoleIDs:   req.RoleIDs,
	}
}

type listResponse struct {
	Users      []auth.UserResponse `json:"users"`
	Pagination shared.Pagination   `json:"pagination"`
}

func profileResponse(p Profile) auth.UserResponse {
	return auth.NewUserResponse(p.User, p.RoleNames())
}

func newListResponse(profiles []Profile, pagination shared.Pagination) listResponse {
	out := make([]auth.UserResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, profileResponse(p))
	}
	return listResponse{Users: out, Pagination: pagination}
}
