package types

import "errors"

// Validation errors for domain types
var (
	ErrInvalidEmail    = errors.New("email must be a valid address of at most 254 characters")
	ErrInvalidFullName = errors.New("full name must be 1-255 characters")
	ErrInvalidRole     = errors.New("role must be 'instructor' or 'student'")
)
