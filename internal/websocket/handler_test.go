package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"focusboard/internal/auth"
	"focusboard/internal/config"
	"focusboard/internal/hub"
	"focusboard/internal/metrics"
	"focusboard/internal/registry"
	"focusboard/internal/router"
	"focusboard/internal/session"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

type fakeVerifier map[string]int64

func (f fakeVerifier) Verify(token string) (int64, error) {
	if token == "expired" {
		return 0, auth.ErrExpiredToken
	}
	id, ok := f[token]
	if !ok {
		return 0, auth.ErrInvalidToken
	}
	return id, nil
}

type fakeUsers map[int64]*types.User

func (f fakeUsers) GetUser(_ context.Context, id int64) (*types.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return u, nil
}

func (f fakeUsers) GetUserByEmail(context.Context, string) (*types.User, error) {
	return nil, interfaces.ErrUserNotFound
}

type fakeSessions struct {
	mu     sync.Mutex
	active bool
	getErr error
}

func (f *fakeSessions) GetSession(_ context.Context, id int64) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if id != 7 {
		return nil, interfaces.ErrSessionNotFound
	}
	return &types.Session{ID: 7, ClassroomID: 1, InstructorID: 100, Active: f.active}, nil
}

func (f *fakeSessions) IsEnrolled(_ context.Context, classroomID, studentID int64) (bool, error) {
	return classroomID == 1 && (studentID == 42 || studentID == 43), nil
}

// fakeRecords stands in for the attendance synchronizer on both the
// handler side and the router side.
type fakeRecords struct {
	mu     sync.Mutex
	joins  []int64
	leaves []int64
	focus  []float64
	ended  bool
	// sessions mirrors a persisted end into the session lookup
	sessions *fakeSessions
}

func (f *fakeRecords) RecordJoin(_ context.Context, _, studentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, studentID)
	return nil
}

func (f *fakeRecords) RecordLeave(_ context.Context, _, studentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, studentID)
	return nil
}

func (f *fakeRecords) RecordFocus(_ context.Context, _, _ int64, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focus = append(f.focus, score)
	return nil
}

func (f *fakeRecords) EndSession(context.Context, int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flipped := !f.ended
	f.ended = true
	if f.sessions != nil {
		f.sessions.mu.Lock()
		f.sessions.active = false
		f.sessions.mu.Unlock()
	}
	return flipped, nil
}

func (f *fakeRecords) counts() (joins, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins), len(f.leaves)
}

type testEnv struct {
	url      string
	handler  *Handler
	registry *registry.Registry
	records  *fakeRecords
	sessions *fakeSessions
	metrics  *metrics.Collector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		registry: registry.New(),
		sessions: &fakeSessions{active: true},
		metrics:  metrics.New(),
	}
	env.records = &fakeRecords{sessions: env.sessions}
	users := fakeUsers{
		100: {ID: 100, FullName: "Ira Instructor", Role: types.RoleInstructor},
		42:  {ID: 42, FullName: "Sam Student", Role: types.RoleStudent},
		43:  {ID: 43, FullName: "Olu Other", Role: types.RoleStudent},
		44:  {ID: 44, FullName: "Nia Notenrolled", Role: types.RoleStudent},
	}
	verifier := fakeVerifier{"instructor": 100, "sam": 42, "olu": 43, "nia": 44, "ghost": 999}

	sessions := session.NewManager(env.sessions, nil)
	h := hub.NewHub(env.registry, env.metrics, nil)
	rt := router.NewRouter(h, env.records, sessions, router.NewRateLimiter(100, time.Minute), env.metrics, nil)
	cfg := &config.WebSocketConfig{
		PingInterval:   time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   time.Second,
		BufferSize:     16,
		MaxMessageSize: 8192,
	}
	handler := NewHandler(Dependencies{
		Verifier:   verifier,
		Users:      users,
		Authorizer: sessions,
		Registry:   env.registry,
		Hub:        h,
		Router:     rt,
		Attendance: env.records,
	}, cfg, env.metrics, nil)

	env.handler = handler
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.HandleSession(w, r, strings.TrimPrefix(r.URL.Path, "/ws/session/"))
	}))
	t.Cleanup(server.Close)
	env.url = "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/session/"
	return env
}

func (e *testEnv) dial(t *testing.T, token, sessionID string) *websocket.Conn {
	t.Helper()
	url := e.url + sessionID
	if token != "" {
		url += "?token=" + token
	}
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func registered(r *registry.Registry, sessionID, userID int64) (*registry.Participant, bool) {
	for _, p := range r.Participants(sessionID) {
		if p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	return msg
}

func readUntil(t *testing.T, c *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readJSON(t, c)
		if msg["type"] == msgType {
			return msg
		}
	}
	t.Fatalf("never received %s", msgType)
	return nil
}

func expectClose(t *testing.T, c *websocket.Conn, code int) *websocket.CloseError {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("Expected close frame, got %v", err)
		}
		if ce.Code != code {
			t.Errorf("close code = %d (%q), want %d", ce.Code, ce.Text, code)
		}
		return ce
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandler_HandshakeFailures(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		sessionID string
		storeErr  error
		wantCode  int
	}{
		{"missing token", "", "7", nil, router.CloseMissingToken},
		{"invalid token", "garbage", "7", nil, router.CloseInvalidToken},
		{"expired token", "expired", "7", nil, router.CloseInvalidToken},
		{"unknown user", "ghost", "7", nil, router.CloseInvalidToken},
		{"non numeric session", "sam", "abc", nil, router.CloseAccessDenied},
		{"not enrolled", "nia", "7", nil, router.CloseAccessDenied},
		{"unknown session", "instructor", "8", nil, router.CloseAccessDenied},
		{"datastore failure", "sam", "7", errors.New("disk I/O error"), router.CloseGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sessions.getErr = tt.storeErr

			c := env.dial(t, tt.token, tt.sessionID)
			expectClose(t, c, tt.wantCode)

			if len(env.registry.Participants(7)) != 0 {
				t.Error("rejected connection must not be registered")
			}
			if env.metrics.Snapshot().HandshakesRejected != 1 {
				t.Errorf("HandshakesRejected = %d, want 1", env.metrics.Snapshot().HandshakesRejected)
			}
		})
	}
}

func TestHandler_StudentJoinAndLeave(t *testing.T) {
	env := newTestEnv(t)

	instructor := env.dial(t, "instructor", "7")
	ack := readJSON(t, instructor)
	if ack["type"] != types.MessageTypeConnectionEstablished || ack["user_role"] != "instructor" {
		t.Fatalf("instructor ack = %v", ack)
	}

	student := env.dial(t, "sam", "7")
	ack = readJSON(t, student)
	if ack["type"] != types.MessageTypeConnectionEstablished ||
		ack["session_id"] != float64(7) || ack["user_id"] != float64(42) || ack["user_role"] != "student" {
		t.Fatalf("student ack = %v", ack)
	}

	joined := readJSON(t, instructor)
	if joined["type"] != types.MessageTypeUserJoined || joined["user_id"] != float64(42) || joined["user_name"] != "Sam Student" {
		t.Errorf("instructor received %v", joined)
	}
	if joins, _ := env.records.counts(); joins != 1 {
		t.Errorf("Expected 1 attendance join, got %d", joins)
	}

	_ = student.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = student.Close()

	left := readJSON(t, instructor)
	if left["type"] != types.MessageTypeUserLeft || left["user_id"] != float64(42) {
		t.Errorf("instructor received %v", left)
	}
	eventually(t, func() bool { _, leaves := env.records.counts(); return leaves == 1 }, "attendance leave")
	if _, ok := registered(env.registry, 7, 42); ok {
		t.Error("student should be deregistered")
	}
}

func TestHandler_FocusUpdateFlow(t *testing.T) {
	env := newTestEnv(t)

	instructor := env.dial(t, "instructor", "7")
	readJSON(t, instructor)
	student := env.dial(t, "sam", "7")
	readJSON(t, student)
	readUntil(t, instructor, types.MessageTypeUserJoined)

	if err := student.WriteMessage(websocket.TextMessage, []byte(`{"type":"focus_update","focus_score":0.8}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if ack := readJSON(t, student); ack["type"] != types.MessageTypeFocusUpdateAck {
		t.Errorf("student received %v", ack)
	}
	focus := readJSON(t, instructor)
	if focus["type"] != types.MessageTypeFocusUpdate || focus["focus_score"] != 0.8 || focus["user_id"] != float64(42) {
		t.Errorf("instructor received %v", focus)
	}
}

func TestHandler_ProtocolErrorKeepsConnection(t *testing.T) {
	env := newTestEnv(t)

	student := env.dial(t, "sam", "7")
	readJSON(t, student)

	_ = student.WriteMessage(websocket.TextMessage, []byte(`{"type":"timer_update","elapsed_time":3}`))
	if msg := readJSON(t, student); msg["type"] != types.MessageTypeError {
		t.Fatalf("Expected error reply, got %v", msg)
	}

	_ = student.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message","message":"still here"}`))
	if msg := readJSON(t, student); msg["type"] != types.MessageTypeChatMessage {
		t.Errorf("Expected chat echo, got %v", msg)
	}
}

func TestHandler_ReconnectReplacesOldConnection(t *testing.T) {
	env := newTestEnv(t)

	instructor := env.dial(t, "instructor", "7")
	readJSON(t, instructor)

	first := env.dial(t, "sam", "7")
	readJSON(t, first)
	readUntil(t, instructor, types.MessageTypeUserJoined)

	second := env.dial(t, "sam", "7")
	readJSON(t, second)

	ce := expectClose(t, first, router.CloseNormal)
	if ce.Text != router.CloseReasonReplace {
		t.Errorf("close reason = %q, want %q", ce.Text, router.CloseReasonReplace)
	}

	// the stale connection's cleanup must not remove the live entry
	time.Sleep(100 * time.Millisecond)
	p, ok := registered(env.registry, 7, 42)
	if !ok {
		t.Fatal("student should still be registered through the new connection")
	}
	if got := env.registry.Participants(7); len(got) != 2 {
		t.Errorf("Expected 2 registered users, got %v", got)
	}
	if _, leaves := env.records.counts(); leaves != 0 {
		t.Errorf("replaced connection must leave silently, got %d leaves", leaves)
	}

	_ = second.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message","message":"hi"}`))
	msg := readUntil(t, instructor, types.MessageTypeChatMessage)
	if msg["user_id"] != float64(p.UserID) {
		t.Errorf("chat from the new connection = %v", msg)
	}
}

func TestHandler_EndSessionClosesInstructor(t *testing.T) {
	env := newTestEnv(t)

	instructor := env.dial(t, "instructor", "7")
	readJSON(t, instructor)
	student := env.dial(t, "sam", "7")
	readJSON(t, student)
	readUntil(t, instructor, types.MessageTypeUserJoined)

	_ = instructor.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_control","control_type":"end"}`))

	msg := readJSON(t, student)
	if msg["type"] != types.MessageTypeSessionControl || msg["control_type"] != "end" || msg["sent_by"] != float64(100) {
		t.Errorf("student received %v", msg)
	}
	if msg := readJSON(t, instructor); msg["control_type"] != "end" {
		t.Errorf("instructor received %v", msg)
	}
	ce := expectClose(t, instructor, router.CloseNormal)
	if ce.Text != router.CloseReasonEnded {
		t.Errorf("close reason = %q", ce.Text)
	}

	// the student stays connected; further state changes are refused
	_ = student.WriteMessage(websocket.TextMessage, []byte(`{"type":"focus_update","focus_score":0.5}`))
	if msg := readJSON(t, student); msg["type"] != types.MessageTypeError {
		t.Errorf("focus after end = %v", msg)
	}
}

func TestHandler_ShutdownClosesLiveConnections(t *testing.T) {
	env := newTestEnv(t)

	instructor := env.dial(t, "instructor", "7")
	readJSON(t, instructor)
	student := env.dial(t, "sam", "7")
	readJSON(t, student)
	readUntil(t, instructor, types.MessageTypeUserJoined)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := env.handler.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	// cleanup has finished by the time Shutdown returns
	if got := env.registry.All(); len(got) != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d participants", len(got))
	}
	if _, leaves := env.records.counts(); leaves != 1 {
		t.Errorf("Expected the student's leave to be recorded, got %d", leaves)
	}
	if snap := env.metrics.Snapshot(); snap.ConnectionsActive != 0 {
		t.Errorf("ConnectionsActive = %d, want 0", snap.ConnectionsActive)
	}

	ce := expectClose(t, student, router.CloseGoingAway)
	if ce.Text != router.CloseReasonShutdown {
		t.Errorf("close reason = %q, want %q", ce.Text, router.CloseReasonShutdown)
	}

	// new connections are turned away
	late := env.dial(t, "olu", "7")
	expectClose(t, late, router.CloseGoingAway)
	if _, ok := registered(env.registry, 7, 43); ok {
		t.Error("connection accepted after shutdown")
	}
}
