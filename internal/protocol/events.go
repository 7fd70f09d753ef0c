package protocol

import (
	"time"

	"focusboard/pkg/types"
)

// Timestamp formats t as an ISO-8601 UTC string.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Event is any server-to-client payload.
type Event interface {
	EventType() string
}

type ConnectionEstablished struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	SessionID int64      `json:"session_id"`
	UserID    int64      `json:"user_id"`
	UserRole  types.Role `json:"user_role"`
}

// Presence is the payload of user_joined and user_left.
type Presence struct {
	Type      string `json:"type"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"`
}

type FocusBroadcast struct {
	Type       string  `json:"type"`
	UserID     int64   `json:"user_id"`
	UserName   string  `json:"user_name"`
	FocusScore float64 `json:"focus_score"`
	Timestamp  string  `json:"timestamp"`
}

type TimerBroadcast struct {
	Type        string  `json:"type"`
	ElapsedTime float64 `json:"elapsed_time"`
	SentBy      int64   `json:"sent_by"`
	Timestamp   string  `json:"timestamp"`
}

type ControlBroadcast struct {
	Type        string            `json:"type"`
	ControlType types.ControlType `json:"control_type"`
	SentBy      int64             `json:"sent_by"`
	Timestamp   string            `json:"timestamp"`
}

type ChatBroadcast struct {
	Type      string     `json:"type"`
	UserID    int64      `json:"user_id"`
	UserName  string     `json:"user_name"`
	UserRole  types.Role `json:"user_role"`
	Message   string     `json:"message"`
	Timestamp string     `json:"timestamp"`
}

// Notice is a type plus human-readable message: error and focus_update_ack.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e ConnectionEstablished) EventType() string { return e.Type }
func (e Presence) EventType() string              { return e.Type }
func (e FocusBroadcast) EventType() string        { return e.Type }
func (e TimerBroadcast) EventType() string        { return e.Type }
func (e ControlBroadcast) EventType() string      { return e.Type }
func (e ChatBroadcast) EventType() string         { return e.Type }
func (e Notice) EventType() string                { return e.Type }

func NewConnectionEstablished(sessionID, userID int64, role types.Role) ConnectionEstablished {
	return ConnectionEstablished{
		Type:      types.MessageTypeConnectionEstablished,
		Message:   MsgConnected,
		SessionID: sessionID,
		UserID:    userID,
		UserRole:  role,
	}
}

func NewUserJoined(userID int64, name string, at time.Time) Presence {
	return Presence{Type: types.MessageTypeUserJoined, UserID: userID, UserName: name, Timestamp: Timestamp(at)}
}

func NewUserLeft(userID int64, name string, at time.Time) Presence {
	return Presence{Type: types.MessageTypeUserLeft, UserID: userID, UserName: name, Timestamp: Timestamp(at)}
}

func NewFocusBroadcast(userID int64, name string, score float64, at time.Time) FocusBroadcast {
	return FocusBroadcast{
		Type:       types.MessageTypeFocusUpdate,
		UserID:     userID,
		UserName:   name,
		FocusScore: score,
		Timestamp:  Timestamp(at),
	}
}

func NewTimerBroadcast(elapsed float64, sentBy int64, at time.Time) TimerBroadcast {
	return TimerBroadcast{Type: types.MessageTypeTimerUpdate, ElapsedTime: elapsed, SentBy: sentBy, Timestamp: Timestamp(at)}
}

func NewControlBroadcast(control types.ControlType, sentBy int64, at time.Time) ControlBroadcast {
	return ControlBroadcast{Type: types.MessageTypeSessionControl, ControlType: control, SentBy: sentBy, Timestamp: Timestamp(at)}
}

func NewChatBroadcast(userID int64, name string, role types.Role, text string, at time.Time) ChatBroadcast {
	return ChatBroadcast{
		Type:      types.MessageTypeChatMessage,
		UserID:    userID,
		UserName:  name,
		UserRole:  role,
		Message:   text,
		Timestamp: Timestamp(at),
	}
}

func NewErrorEvent(message string) Notice {
	return Notice{Type: types.MessageTypeError, Message: message}
}

func NewFocusAck() Notice {
	return Notice{Type: types.MessageTypeFocusUpdateAck, Message: MsgFocusAck}
}
