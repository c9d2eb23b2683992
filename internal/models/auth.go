package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds the credentials and the role selected on the login form.
// The role decides which entity table the username is resolved against.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     Role   `json:"role" validate:"required,oneof=student teacher admin"`
}

// LoginResponse returns the issued token and session descriptor.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating the caller's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// JWTClaims represents the JWT payload for access tokens. The role is fixed
// at login and trusted for the token's lifetime.
type JWTClaims struct {
	CredentialID string `json:"credential_id"`
	LoginID      string `json:"login_id"`
	DisplayName  string `json:"display_name"`
	Role         Role   `json:"role"`
	IsSuperuser  bool   `json:"is_superuser"`
	jwt.RegisteredClaims
}
