package interfaces

import (
	"context"
	"time"

	"focusboard/pkg/types"
)

// UserStore resolves user accounts.
type UserStore interface {
	GetUser(ctx context.Context, userID int64) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
}

// SessionStore answers the lookups the access decision needs.
type SessionStore interface {
	// GetSession returns the session with its classroom's instructor id.
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)

	// IsEnrolled reports whether an active enrollment links the student
	// to the classroom.
	IsEnrolled(ctx context.Context, classroomID, studentID int64) (bool, error)
}

// PerformanceStore holds the persisted attendance and focus records.
// FUNCTIONAL DISCOVERY: Every write is an upsert keyed by (session, student)
// so repeated events never duplicate rows
type PerformanceStore interface {
	UpsertAttendance(ctx context.Context, sessionID, studentID int64, attended bool, at time.Time) error
	UpsertFocus(ctx context.Context, sessionID, studentID int64, score float64, at time.Time) error

	// EndSession sets the end time and clears the active flag. It reports
	// true only for the call that actually performed the transition.
	EndSession(ctx context.Context, sessionID int64, at time.Time) (bool, error)
}

// ReportStore persists report generation requests.
type ReportStore interface {
	RecordReportRequest(ctx context.Context, req *types.ReportRequest) error
}

// DatabaseManager handles all database operations
type DatabaseManager interface {
	UserStore
	SessionStore
	PerformanceStore
	ReportStore

	HealthCheck(ctx context.Context) error
	Close() error
}
