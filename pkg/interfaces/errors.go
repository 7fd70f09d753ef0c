package interfaces

import "errors"

// Common collaborator errors used across components
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrSessionNotFound = errors.New("session not found")
)
