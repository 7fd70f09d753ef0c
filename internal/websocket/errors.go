package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrQueueFull        = errors.New("outbound queue full")
)

// Handshake failures, one per close code
var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrAccessDenied = errors.New("access denied")
	ErrShuttingDown = errors.New("server shutting down")
)
