package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected client message.
type Kind int

const (
	Malformed Kind = iota + 1
	UnknownType
	SchemaViolation
	RoleNotPermitted
	RateLimited
	SessionEnded
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownType:
		return "unknown_type"
	case SchemaViolation:
		return "schema_violation"
	case RoleNotPermitted:
		return "role_not_permitted"
	case RateLimited:
		return "rate_limited"
	case SessionEnded:
		return "session_ended"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a non-fatal rejection of one client message. Message is the
// text the sender receives in its error envelope.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// NewError builds a protocol error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// AsError extracts a protocol error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Messages sent back to the client, shared with the dispatcher.
const (
	MsgInvalidJSON         = "Invalid JSON format"
	MsgMissingType         = "Message type is required"
	MsgProcessingFailed    = "Error processing message"
	MsgStudentsOnlyFocus   = "Only students can submit focus scores"
	MsgInvalidFocusScore   = "Invalid focus score"
	MsgFocusOutOfRange     = "Focus score must be between 0 and 1"
	MsgFocusUpdateFailed   = "Failed to update focus score"
	MsgInstructorsOnlyTime = "Only instructors can update timer"
	MsgInvalidElapsedTime  = "Invalid elapsed time"
	MsgInstructorsOnlyCtl  = "Only instructors can control sessions"
	MsgInvalidControlType  = "Invalid control type"
	MsgEndSessionFailed    = "Failed to end session"
	MsgInvalidChatMessage  = "Invalid chat message"
	MsgRateLimited         = "Rate limit exceeded, slow down"
	MsgSessionEnded        = "Session has ended"
	MsgFocusAck            = "Focus score updated successfully"
	MsgConnected           = "Connected to session"
)
