package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"focusboard/internal/auth"
	"focusboard/internal/config"
	"focusboard/internal/hub"
	"focusboard/internal/metrics"
	"focusboard/internal/protocol"
	"focusboard/internal/registry"
	"focusboard/internal/router"
	"focusboard/internal/session"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

// cleanupTimeout bounds the leave bookkeeping after a connection drops.
const cleanupTimeout = 5 * time.Second

// Attendance records students joining and leaving a session.
type Attendance interface {
	RecordJoin(ctx context.Context, sessionID, studentID int64) error
	RecordLeave(ctx context.Context, sessionID, studentID int64) error
}

// Dependencies are the collaborators a Handler needs.
type Dependencies struct {
	Verifier   interfaces.CredentialVerifier
	Users      interfaces.UserStore
	Authorizer interfaces.Authorizer
	Registry   *registry.Registry
	Hub        *hub.Hub
	Router     *router.Router
	Attendance Attendance
}

// rejection is a failed handshake: the close code and the reason sent with it.
type rejection struct {
	code   int
	reason string
	err    error
}

// Handler runs the lifecycle of live session connections.
// ARCHITECTURAL DISCOVERY: The socket is upgraded before any check so every
// failure class can be reported with its own close code
type Handler struct {
	deps     Dependencies
	config   *config.WebSocketConfig
	upgrader websocket.Upgrader
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	// mu orders active.Add against Shutdown's Wait
	mu       sync.Mutex
	draining bool
	active   sync.WaitGroup
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(deps Dependencies, cfg *config.WebSocketConfig, m *metrics.Collector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deps:   deps,
		config: cfg,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Allow all origins; the bearer token is the access control
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		metrics: m,
		logger:  logger.With("component", "websocket"),
		now:     time.Now,
	}
}

// HandleSession upgrades the request and serves the connection until it
// closes. rawSessionID is the session path segment; the bearer token comes
// from the "token" query parameter.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request, rawSessionID string) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(wsConn, ConnectionOptions{
		QueueSize:    h.config.BufferSize,
		WriteTimeout: h.config.WriteTimeout,
		PingInterval: h.config.PingInterval,
		Logger:       h.logger,
	})

	if !h.track() {
		h.logger.Debug("connection refused during shutdown")
		conn.Shutdown(router.CloseGoingAway, router.CloseReasonShutdown)
		return
	}
	defer h.active.Done()

	ctx := r.Context()
	p, rej := h.admit(ctx, r.URL.Query().Get("token"), rawSessionID)
	if rej != nil {
		h.metrics.HandshakeRejected()
		h.logger.Warn("connection rejected",
			"session", rawSessionID, "code", rej.code, "reason", rej.reason, "error", rej.err)
		conn.Shutdown(rej.code, rej.reason)
		return
	}
	p.Conn = conn
	p.ConnectedAt = h.now()

	h.serve(ctx, conn, p)
}

// track counts a live connection unless the handler is draining.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *Handler) isDraining() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draining
}

// Shutdown closes every registered connection with 1001 and waits until
// each one has finished its cleanup, or ctx is done. Connections arriving
// afterwards are refused.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	participants := h.deps.Registry.All()
	h.logger.Info("closing live connections", "count", len(participants))
	for _, p := range participants {
		if p.Conn == nil {
			continue
		}
		go p.Conn.Shutdown(router.CloseGoingAway, router.CloseReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShuttingDown, ctx.Err())
	}
}

// admit authenticates and authorizes the request.
func (h *Handler) admit(ctx context.Context, token, rawSessionID string) (*registry.Participant, *rejection) {
	if token == "" {
		return nil, &rejection{router.CloseMissingToken, "missing token", ErrMissingToken}
	}

	userID, err := h.deps.Verifier.Verify(token)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrExpiredToken) {
			reason = "token expired"
		}
		return nil, &rejection{router.CloseInvalidToken, reason, err}
	}

	user, err := h.deps.Users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, &rejection{router.CloseInvalidToken, "unknown user", err}
		}
		return nil, &rejection{router.CloseGeneric, "internal error", err}
	}

	sessionID, err := session.ParseSessionID(rawSessionID)
	if err != nil {
		return nil, &rejection{router.CloseAccessDenied, "access denied", err}
	}

	role, allowed, err := h.deps.Authorizer.Authorize(ctx, user, sessionID)
	if err != nil {
		return nil, &rejection{router.CloseGeneric, "internal error", err}
	}
	if !allowed {
		return nil, &rejection{router.CloseAccessDenied, "access denied", ErrAccessDenied}
	}

	return &registry.Participant{
		UserID:    user.ID,
		Name:      user.FullName,
		Role:      role,
		SessionID: sessionID,
	}, nil
}

// serve registers the participant, runs the read loop and guarantees cleanup.
func (h *Handler) serve(ctx context.Context, conn *Connection, p *registry.Participant) {
	logger := h.logger.With("session_id", p.SessionID, "user_id", p.UserID, "conn_id", conn.ID())

	if replaced := h.deps.Registry.Register(p); replaced != nil && replaced.Conn != nil {
		logger.Info("replacing previous connection", "old_conn_id", replaced.Conn.ID())
		replaced.Conn.Shutdown(router.CloseNormal, router.CloseReasonReplace)
	}
	h.metrics.ConnectionOpened()
	logger.Info("participant connected", "role", p.Role)

	defer h.cleanup(conn, p, logger)

	// Shutdown may have taken its registry snapshot before this entry existed
	if h.isDraining() {
		conn.Shutdown(router.CloseGoingAway, router.CloseReasonShutdown)
		return
	}

	_ = h.deps.Hub.Send(p, protocol.NewConnectionEstablished(p.SessionID, p.UserID, p.Role))

	if p.Role == types.RoleStudent {
		if err := h.deps.Attendance.RecordJoin(ctx, p.SessionID, p.UserID); err != nil {
			h.metrics.PersistenceError(err.Error())
			logger.Error("failed to record attendance", "error", err)
		}
		h.broadcast(p.SessionID, protocol.NewUserJoined(p.UserID, p.Name, h.now()), hub.Except(p.UserID), logger)
	}

	h.readLoop(ctx, conn, p, logger)
}

func (h *Handler) readLoop(ctx context.Context, conn *Connection, p *registry.Participant, logger *slog.Logger) {
	ws := conn.conn
	if h.config.MaxMessageSize > 0 {
		ws.SetReadLimit(h.config.MaxMessageSize)
	}
	extend := func() error {
		if h.config.ReadTimeout <= 0 {
			return nil
		}
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	}
	if err := extend(); err != nil {
		logger.Error("failed to set read deadline", "error", err)
		return
	}
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("connection closed unexpectedly", "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}

		out := h.deps.Router.Route(ctx, p, data)
		if out.Close {
			logger.Info("closing connection", "code", out.CloseCode, "reason", out.CloseReason)
			conn.Shutdown(out.CloseCode, out.CloseReason)
			return
		}
	}
}

// cleanup deregisters first so the registry never holds a dead handle,
// then does the best-effort leave bookkeeping.
func (h *Handler) cleanup(conn *Connection, p *registry.Participant, logger *slog.Logger) {
	removed := h.deps.Registry.DeregisterIfCurrent(p.SessionID, p.UserID, conn.ID())
	_ = conn.Close()
	h.deps.Router.Forget(conn.ID())
	h.metrics.ConnectionClosed()
	logger.Info("participant disconnected", "current", removed)

	if !removed || p.Role != types.RoleStudent {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := h.deps.Attendance.RecordLeave(ctx, p.SessionID, p.UserID); err != nil {
		h.metrics.PersistenceError(err.Error())
		logger.Error("failed to record leave", "error", err)
	}
	h.broadcast(p.SessionID, protocol.NewUserLeft(p.UserID, p.Name, h.now()), hub.Everyone, logger)
}

func (h *Handler) broadcast(sessionID int64, event protocol.Event, filter hub.Filter, logger *slog.Logger) {
	if _, err := h.deps.Hub.Broadcast(sessionID, event, filter); err != nil {
		logger.Error("broadcast failed", "event", event.EventType(), "error", err)
	}
}
