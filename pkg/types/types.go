package types

import (
	"time"
)

// Wire message type tags. The first four are client-originated, the rest
// are produced by the server.
const (
	MessageTypeFocusUpdate    = "focus_update"
	MessageTypeTimerUpdate    = "timer_update"
	MessageTypeSessionControl = "session_control"
	MessageTypeChatMessage    = "chat_message"

	MessageTypeConnectionEstablished = "connection_established"
	MessageTypeUserJoined            = "user_joined"
	MessageTypeUserLeft              = "user_left"
	MessageTypeFocusUpdateAck        = "focus_update_ack"
	MessageTypeError                 = "error"
)

// Role is the classroom role carried by a user account.
type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// ControlType is the command carried by a session_control message.
type ControlType string

const (
	ControlStart  ControlType = "start"
	ControlPause  ControlType = "pause"
	ControlResume ControlType = "resume"
	ControlEnd    ControlType = "end"
)

// User is a registered account. PasswordHash is never serialized.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Classroom is owned by exactly one instructor.
type Classroom struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	InstructorID int64  `json:"instructor_id"`
}

// Session represents one live class instance of a classroom.
// FUNCTIONAL DISCOVERY: EndTime is set if and only if Active is false;
// the datastore enforces this with a CHECK constraint.
type Session struct {
	ID           int64      `json:"id"`
	ClassroomID  int64      `json:"classroom_id"`
	InstructorID int64      `json:"instructor_id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Active       bool       `json:"is_active"`
}

// Performance is the per-student record for one session, unique per
// (SessionID, StudentID).
type Performance struct {
	SessionID  int64     `json:"session_id"`
	StudentID  int64     `json:"student_id"`
	FocusScore float64   `json:"focus_score"`
	Attended   bool      `json:"attended"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReportRequest records that report generation was requested for a session.
type ReportRequest struct {
	ID          string    `json:"id"`
	SessionID   int64     `json:"session_id"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
}

// ParticipantInfo is the externally visible view of a connected participant.
type ParticipantInfo struct {
	UserID      int64     `json:"user_id"`
	UserName    string    `json:"user_name"`
	Role        Role      `json:"user_role"`
	ConnectedAt time.Time `json:"connected_at"`
}
