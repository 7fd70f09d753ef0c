// Package attendance keeps the per-student performance record of a session
// in step with what happens on the live connections.
package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"focusboard/internal/protocol"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// EndListener is told when a session has been ended by this process.
type EndListener interface {
	MarkEnded(sessionID int64)
}

// Synchronizer implements the attendance and focus upserts plus session end.
type Synchronizer struct {
	store    interfaces.PerformanceStore
	sessions EndListener
	sink     interfaces.ReportSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewSynchronizer wires the synchronizer. sessions and sink may be nil.
func NewSynchronizer(store interfaces.PerformanceStore, sessions EndListener, sink interfaces.ReportSink, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:    store,
		sessions: sessions,
		sink:     sink,
		logger:   logger.With("component", "attendance"),
		now:      time.Now,
	}
}

// RecordJoin marks the student as attended.
func (s *Synchronizer) RecordJoin(ctx context.Context, sessionID, studentID int64) error {
	if err := s.store.UpsertAttendance(ctx, sessionID, studentID, true, s.now().UTC()); err != nil {
		return fmt.Errorf("record join: %w", err)
	}
	return nil
}

// RecordLeave marks the student as no longer attending.
func (s *Synchronizer) RecordLeave(ctx context.Context, sessionID, studentID int64) error {
	if err := s.store.UpsertAttendance(ctx, sessionID, studentID, false, s.now().UTC()); err != nil {
		return fmt.Errorf("record leave: %w", err)
	}
	return nil
}

// RecordFocus stores the latest focus score. Scores outside [0,1] are
// rejected with a *protocol.Error and never reach the store.
func (s *Synchronizer) RecordFocus(ctx context.Context, sessionID, studentID int64, score float64) error {
	if !types.IsValidFocusScore(score) {
		return protocol.NewError(protocol.SchemaViolation, protocol.MsgFocusOutOfRange)
	}
	if err := s.store.UpsertFocus(ctx, sessionID, studentID, score, s.now().UTC()); err != nil {
		return fmt.Errorf("record focus: %w", err)
	}
	return nil
}

// EndSession closes the session. Only the call that actually flips the
// persisted flag requests a report, so a repeated end is idempotent.
func (s *Synchronizer) EndSession(ctx context.Context, sessionID int64) (bool, error) {
	flipped, err := s.store.EndSession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	if s.sessions != nil {
		s.sessions.MarkEnded(sessionID)
	}
	if !flipped {
		s.logger.Debug("session already ended", "session_id", sessionID)
		return false, nil
	}
	if s.sink != nil {
		s.sink.RequestReport(sessionID)
	}
	return true, nil
}
