// Package protocol decodes and validates the session wire messages and
// builds the events the server sends back.
package protocol

import (
	"bytes"
	"encoding/json"

	"focusboard/pkg/types"
)

// Envelope is a decoded but not yet validated client message.
type Envelope struct {
	Type   string
	fields map[string]json.RawMessage
}

// Message is one validated client message. The set of implementations is
// closed: FocusUpdate, TimerUpdate, SessionControl and ChatMessage.
type Message interface {
	MessageType() string
	isMessage()
}

type FocusUpdate struct {
	FocusScore float64
}

type TimerUpdate struct {
	ElapsedTime float64
}

type SessionControl struct {
	ControlType types.ControlType
}

type ChatMessage struct {
	Text string
}

func (FocusUpdate) MessageType() string    { return types.MessageTypeFocusUpdate }
func (TimerUpdate) MessageType() string    { return types.MessageTypeTimerUpdate }
func (SessionControl) MessageType() string { return types.MessageTypeSessionControl }
func (ChatMessage) MessageType() string    { return types.MessageTypeChatMessage }

func (FocusUpdate) isMessage()    {}
func (TimerUpdate) isMessage()    {}
func (SessionControl) isMessage() {}
func (ChatMessage) isMessage()    {}

// Decode parses raw bytes into an envelope. Anything other than a JSON
// object with a string "type" is rejected.
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, NewError(Malformed, MsgInvalidJSON)
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, NewError(SchemaViolation, MsgMissingType)
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil || isNull(rawType) {
		return nil, NewError(SchemaViolation, MsgMissingType)
	}
	return &Envelope{Type: msgType, fields: fields}, nil
}

// Validate checks the envelope against its type's schema and the sender's
// role. Role is checked before the payload so a student probing instructor
// commands always sees the permission error.
func Validate(env *Envelope, role types.Role) (Message, error) {
	switch env.Type {
	case types.MessageTypeFocusUpdate:
		if role != types.RoleStudent {
			return nil, NewError(RoleNotPermitted, MsgStudentsOnlyFocus)
		}
		score, ok := env.number("focus_score")
		if !ok {
			return nil, NewError(SchemaViolation, MsgInvalidFocusScore)
		}
		return FocusUpdate{FocusScore: score}, nil

	case types.MessageTypeTimerUpdate:
		if role != types.RoleInstructor {
			return nil, NewError(RoleNotPermitted, MsgInstructorsOnlyTime)
		}
		elapsed, ok := env.number("elapsed_time")
		if !ok || elapsed < 0 {
			return nil, NewError(SchemaViolation, MsgInvalidElapsedTime)
		}
		return TimerUpdate{ElapsedTime: elapsed}, nil

	case types.MessageTypeSessionControl:
		if role != types.RoleInstructor {
			return nil, NewError(RoleNotPermitted, MsgInstructorsOnlyCtl)
		}
		control, ok := env.str("control_type")
		if !ok || !types.ControlType(control).IsValid() {
			return nil, NewError(SchemaViolation, MsgInvalidControlType)
		}
		return SessionControl{ControlType: types.ControlType(control)}, nil

	case types.MessageTypeChatMessage:
		text, ok := env.str("message")
		if !ok || !types.IsValidChatMessage(text) {
			return nil, NewError(SchemaViolation, MsgInvalidChatMessage)
		}
		return ChatMessage{Text: text}, nil

	default:
		return nil, NewError(UnknownType, "Unknown message type: "+env.Type)
	}
}

// Parse decodes and validates in one step.
func Parse(raw []byte, role types.Role) (Message, error) {
	env, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Validate(env, role)
}

// number accepts only a JSON number; strings, booleans and null fail.
func (e *Envelope) number(key string) (float64, bool) {
	raw, ok := e.fields[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func (e *Envelope) str(key string) (string, bool) {
	raw, ok := e.fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
