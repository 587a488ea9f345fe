package domain

import "time"

// User is a server-side account. Records are owned by UserName.
type User struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name" validate:"required,min=3,max=50"`
	Organisation string    `json:"organisation"`
	Password     string    `json:"password,omitempty"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	UserName     string `json:"user_name" validate:"required,min=3,max=50"`
	Organisation string `json:"organisation" validate:"max=100"`
	Password     string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	UserName string `json:"user_name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
