package services

import (
	"context"
	"errors"

	"huewatch/internal/auth"
)

// LoginPayload is the body of a login request.
type LoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult carries a bearer token.
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthImplementation implements the auth service
type AuthImplementation struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service implementation
func NewAuthService(authenticator *auth.Authenticator) *AuthImplementation {
	return &AuthImplementation{
		authenticator: authenticator,
	}
}

// Login authenticates a user and returns a JWT token
func (a *AuthImplementation) Login(ctx context.Context, payload *LoginPayload) (*LoginResult, error) {
	if payload == nil || payload.Username == "" {
		return nil, &BadRequestError{Message: "username and password are required"}
	}

	token, expiresAt, err := a.authenticator.Authenticate(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			return nil, &UnauthorizedError{Message: "Invalid username or password"}
		case errors.Is(err, auth.ErrAuthDisabled):
			return nil, &UnauthorizedError{Message: "Authentication is disabled"}
		default:
			return nil, err
		}
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}
