package types

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxChatMessageLength is measured in characters, not bytes.
const MaxChatMessageLength = 500

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for the high-frequency login path
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsValid reports whether r is one of the two recognized roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleInstructor, RoleStudent:
		return true
	default:
		return false
	}
}

// IsValid reports whether c is one of start, pause, resume or end.
func (c ControlType) IsValid() bool {
	switch c {
	case ControlStart, ControlPause, ControlResume, ControlEnd:
		return true
	default:
		return false
	}
}

// Validate checks the fields required to persist a user.
func (u *User) Validate() error {
	if !IsValidEmail(u.Email) {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(u.FullName) == "" || len(u.FullName) > 255 {
		return ErrInvalidFullName
	}
	if !u.Role.IsValid() {
		return ErrInvalidRole
	}
	return nil
}

// IsClientMessageType reports whether the tag names a client-originated message.
func IsClientMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeFocusUpdate,
		MessageTypeTimerUpdate,
		MessageTypeSessionControl,
		MessageTypeChatMessage:
		return true
	default:
		return false
	}
}

// IsValidFocusScore reports whether score lies in the closed interval [0, 1].
func IsValidFocusScore(score float64) bool {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false
	}
	return score >= 0 && score <= 1
}

// IsValidChatMessage checks the 1..500 character bound.
func IsValidChatMessage(message string) bool {
	n := utf8.RuneCountInString(message)
	return n >= 1 && n <= MaxChatMessageLength
}

// IsValidEmail performs a shallow shape check on an email address.
func IsValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
