package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"focusboard/internal/retry"
	dbconfig "focusboard/pkg/database"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// Errors returned by the manager itself rather than the driver
var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrNotEnrollable = errors.New("only students can be enrolled")
)

// Manager implements interfaces.DatabaseManager on SQLite.
// ARCHITECTURAL DISCOVERY: Reads go straight to the pool; every write is
// funnelled through one goroutine so SQLite never sees writer contention
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	retry        retry.Policy
	writeChannel chan writeOperation
	shutdown     chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// NewManager opens the database, applies pending migrations, verifies the
// schema and starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:     db,
		config: config,
		logger: logger.With("component", "database"),
		// FUNCTIONAL DISCOVERY: Only lock contention is worth retrying
		retry:        retry.Contention(isTransient),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info("database ready", "driver", config.Driver, "path", config.DatabasePath)
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)
		case <-m.shutdown:
			// drain what was queued before shutdown so no caller is stranded
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					m.logger.Debug("write loop stopped")
					return
				}
			}
		}
	}
}

func (m *Manager) run(op writeOperation) {
	err := m.retry.Do(op.ctx, func(attempt int) error {
		err := op.operation(op.ctx, m.db)
		if err != nil && isTransient(err) {
			m.logger.Warn("database busy, retrying write", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		m.logger.Error("database write failed", "error", err)
	}
	op.result <- err
}

// isTransient reports SQLITE_BUSY and SQLITE_LOCKED. The pure-Go driver
// exposes the result code; the cgo driver's error type only exists in cgo
// builds, so its message is matched instead.
func isTransient(err error) bool {
	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		code := pureErr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// executeWrite queues a write and waits for its result.
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// ── Users and classrooms ─────────────────────────────────────────────

// CreateUser inserts a user and sets its ID and CreatedAt.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (email, full_name, role, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.Email, user.FullName, string(user.Role), user.PasswordHash, formatTime(user.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		user.ID, err = res.LastInsertId()
		return err
	})
}

const userColumns = `id, email, full_name, role, password_hash, created_at`

func scanUser(row *sql.Row) (*types.User, error) {
	var (
		user      types.User
		role      string
		createdAt string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.FullName, &role, &user.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Role = types.Role(role)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = t
	return &user, nil
}

// GetUser returns interfaces.ErrUserNotFound for an unknown id.
func (m *Manager) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	return scanUser(m.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
}

// GetUserByEmail matches case-insensitively.
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return scanUser(m.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, strings.TrimSpace(email)))
}

// CreateClassroom inserts a classroom owned by classroom.InstructorID.
func (m *Manager) CreateClassroom(ctx context.Context, classroom *types.Classroom) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO classrooms (name, instructor_id) VALUES (?, ?)`,
			classroom.Name, classroom.InstructorID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert classroom: %w", err)
		}
		classroom.ID, err = res.LastInsertId()
		return err
	})
}

// Enroll links a student to a classroom. Enrolling twice reactivates or
// deactivates the existing row rather than duplicating it.
func (m *Manager) Enroll(ctx context.Context, classroomID, studentID int64, active bool) error {
	student, err := m.GetUser(ctx, studentID)
	if err != nil {
		return err
	}
	if student.Role != types.RoleStudent {
		return ErrNotEnrollable
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO enrollments (classroom_id, student_id, active, joined_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (classroom_id, student_id) DO UPDATE SET active = excluded.active`,
			classroomID, studentID, active, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to enroll student: %w", err)
		}
		return nil
	})
}

// IsEnrolled reports whether an active enrollment exists.
func (m *Manager) IsEnrolled(ctx context.Context, classroomID, studentID int64) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE classroom_id = ? AND student_id = ? AND active = 1`,
		classroomID, studentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return n > 0, nil
}

// ── Sessions ─────────────────────────────────────────────────────────

// CreateSession starts an active session for a classroom.
func (m *Manager) CreateSession(ctx context.Context, classroomID int64, start time.Time) (*types.Session, error) {
	session := &types.Session{ClassroomID: classroomID, StartTime: start.UTC(), Active: true}
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO sessions (classroom_id, start_time, is_active) VALUES (?, ?, 1)`,
			classroomID, formatTime(start),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		session.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.GetSession(ctx, session.ID)
}

// GetSession returns the session joined with its classroom's instructor.
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	var (
		session   types.Session
		startTime string
		endTime   sql.NullString
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT s.id, s.classroom_id, c.instructor_id, s.start_time, s.end_time, s.is_active
		FROM sessions s
		JOIN classrooms c ON c.id = s.classroom_id
		WHERE s.id = ?`, sessionID,
	).Scan(&session.ID, &session.ClassroomID, &session.InstructorID, &startTime, &endTime, &session.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if session.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return nil, err
		}
		session.EndTime = &t
	}
	return &session, nil
}

// EndSession flips the session inactive. Only the call that performs the
// transition gets true; later calls and unknown ids get false.
func (m *Manager) EndSession(ctx context.Context, sessionID int64, at time.Time) (bool, error) {
	var ended bool
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET is_active = 0, end_time = ? WHERE id = ? AND is_active = 1`,
			formatTime(at), sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ended = n == 1
		return nil
	})
	return ended, err
}

// ── Performance records ──────────────────────────────────────────────

// UpsertAttendance creates the record with a zero focus score if absent,
// otherwise updates only the attended flag.
func (m *Manager) UpsertAttendance(ctx context.Context, sessionID, studentID int64, attended bool, at time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO performances (session_id, student_id, focus_score, attended, updated_at)
			VALUES (?, ?, 0, ?, ?)
			ON CONFLICT (session_id, student_id) DO UPDATE SET
				attended = excluded.attended,
				updated_at = excluded.updated_at`,
			sessionID, studentID, attended, formatTime(at),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert attendance: %w", err)
		}
		return nil
	})
}

// UpsertFocus records the latest focus score. A record created here is
// marked attended.
func (m *Manager) UpsertFocus(ctx context.Context, sessionID, studentID int64, score float64, at time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO performances (session_id, student_id, focus_score, attended, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (session_id, student_id) DO UPDATE SET
				focus_score = excluded.focus_score,
				updated_at = excluded.updated_at`,
			sessionID, studentID, score, formatTime(at),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert focus score: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerformance(row rowScanner) (*types.Performance, error) {
	var (
		p         types.Performance
		updatedAt string
	)
	if err := row.Scan(&p.SessionID, &p.StudentID, &p.FocusScore, &p.Attended, &updatedAt); err != nil {
		return nil, err
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = t
	return &p, nil
}

// ErrPerformanceNotFound is returned by GetPerformance for a missing record.
var ErrPerformanceNotFound = errors.New("performance record not found")

// GetPerformance returns one student's record for a session.
func (m *Manager) GetPerformance(ctx context.Context, sessionID, studentID int64) (*types.Performance, error) {
	p, err := scanPerformance(m.db.QueryRowContext(ctx, `
		SELECT session_id, student_id, focus_score, attended, updated_at
		FROM performances WHERE session_id = ? AND student_id = ?`, sessionID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPerformanceNotFound
	}
	return p, err
}

// ListPerformances returns every record of a session ordered by student.
func (m *Manager) ListPerformances(ctx context.Context, sessionID int64) ([]*types.Performance, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT session_id, student_id, focus_score, attended, updated_at
		FROM performances WHERE session_id = ? ORDER BY student_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query performances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Performance
	for rows.Next() {
		p, err := scanPerformance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── Report requests ──────────────────────────────────────────────────

// RecordReportRequest inserts a report request row.
func (m *Manager) RecordReportRequest(ctx context.Context, req *types.ReportRequest) error {
	if req.Status == "" {
		req.Status = "pending"
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO report_requests (id, session_id, requested_at, status) VALUES (?, ?, ?, ?)`,
			req.ID, req.SessionID, formatTime(req.RequestedAt), req.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report request: %w", err)
		}
		return nil
	})
}

// ListReportRequests returns the requests recorded for a session, oldest first.
func (m *Manager) ListReportRequests(ctx context.Context, sessionID int64) ([]*types.ReportRequest, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, requested_at, status
		FROM report_requests WHERE session_id = ? ORDER BY requested_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.ReportRequest
	for rows.Next() {
		var (
			req         types.ReportRequest
			requestedAt string
		)
		if err := rows.Scan(&req.ID, &req.SessionID, &requestedAt, &req.Status); err != nil {
			return nil, fmt.Errorf("failed to scan report request: %w", err)
		}
		if req.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, err
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

// ── Lifecycle ────────────────────────────────────────────────────────

// HealthCheck pings the pool and runs a trivial read.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer after draining queued writes, then closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
