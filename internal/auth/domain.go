package auth

import "time"

// CredentialsRequest is the body of signup and signin.
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// TokenResponse is returned by signin.
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenTypeBearer is the only issued token type.
const TokenTypeBearer = "Bearer"
