// Package session decides who may attach to a live session and tracks
// whether each session still accepts state changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// Manager implements interfaces.Authorizer over a SessionStore and caches
// each session's active flag once it has been read.
// FUNCTIONAL DISCOVERY: Sessions only move from active to ended, so an
// ended entry never needs to be re-read
type Manager struct {
	store  interfaces.SessionStore
	logger *slog.Logger

	mu     sync.RWMutex
	active map[int64]bool
}

var _ interfaces.Authorizer = (*Manager)(nil)

// NewManager creates a session manager
func NewManager(store interfaces.SessionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "session"),
		active: make(map[int64]bool),
	}
}

// ParseSessionID parses the path form of a session id.
func ParseSessionID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSessionID, raw)
	}
	return id, nil
}

// Authorize returns the role the user holds in the session. An instructor
// is allowed only for a classroom they own; a student only with an active
// enrollment. Unknown sessions and unrecognized roles are a plain deny.
func (m *Manager) Authorize(ctx context.Context, user *types.User, sessionID int64) (types.Role, bool, error) {
	if user == nil || !user.Role.IsValid() {
		return "", false, nil
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			m.logger.Debug("authorize: unknown session", "session_id", sessionID, "user_id", user.ID)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}
	m.remember(session.ID, session.Active)

	switch user.Role {
	case types.RoleInstructor:
		if session.InstructorID != user.ID {
			return "", false, nil
		}
		return types.RoleInstructor, true, nil

	case types.RoleStudent:
		enrolled, err := m.store.IsEnrolled(ctx, session.ClassroomID, user.ID)
		if err != nil {
			return "", false, fmt.Errorf("failed to check enrollment: %w", err)
		}
		if !enrolled {
			return "", false, nil
		}
		return types.RoleStudent, true, nil

	default:
		return "", false, nil
	}
}

// IsActive reports whether the session still accepts state-changing
// messages. Ended sessions are answered from cache.
func (m *Manager) IsActive(ctx context.Context, sessionID int64) (bool, error) {
	m.mu.RLock()
	active, known := m.active[sessionID]
	m.mu.RUnlock()
	if known && !active {
		return false, nil
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	m.remember(sessionID, session.Active)
	return session.Active, nil
}

// MarkEnded records that the session has ended.
func (m *Manager) MarkEnded(sessionID int64) {
	m.remember(sessionID, false)
}

func (m *Manager) remember(sessionID int64, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// never resurrect an ended session from a stale read
	if prev, ok := m.active[sessionID]; ok && !prev {
		return
	}
	m.active[sessionID] = active
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ended := 0
	for _, active := range m.active {
		if !active {
			ended++
		}
	}
	return map[string]interface{}{
		"known_sessions": len(m.active),
		"ended_sessions": ended,
	}
}
