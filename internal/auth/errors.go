package auth

import "errors"

// Credential failures. The live path closes the connection on any of them;
// the HTTP layer may answer expiry differently.
var (
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
