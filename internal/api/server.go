// Package api exposes the HTTP surface: health, token login, the
// participant snapshot and the live session WebSocket route.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"focusboard/internal/auth"
	"focusboard/internal/metrics"
	"focusboard/internal/registry"
	"focusboard/internal/session"
	"focusboard/pkg/interfaces"
	"focusboard/pkg/types"
)

const userIDKey = "user_id"

// Authenticator issues and checks bearer tokens.
type Authenticator interface {
	interfaces.CredentialVerifier
	Login(ctx context.Context, email, password string) (string, time.Time, *types.User, error)
}

// HealthChecker reports datastore health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionHandler serves one live session connection.
type SessionHandler interface {
	HandleSession(w http.ResponseWriter, r *http.Request, rawSessionID string)
}

// Dependencies are the collaborators the HTTP layer talks to.
type Dependencies struct {
	Auth       Authenticator
	Users      interfaces.UserStore
	Authorizer interfaces.Authorizer
	Registry   *registry.Registry
	Sessions   SessionHandler
	Health     HealthChecker
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	metrics *metrics.Collector
	logger  *slog.Logger
	engine  *gin.Engine
}

// NewServer builds the router. Call gin.SetMode before this to pick the mode.
func NewServer(deps Dependencies, m *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		metrics: m,
		logger:  logger.With("component", "api"),
		engine:  gin.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	s.engine.GET("/health", s.healthCheck)
	s.engine.GET("/ws/session/:id", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.POST("/token", s.issueToken)

	protected := api.Group("")
	protected.Use(s.bearerAuth())
	protected.GET("/sessions/:id/participants", s.listParticipants)
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type TokenRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

type ParticipantsResponse struct {
	SessionID    int64                   `json:"session_id"`
	Participants []types.ParticipantInfo `json:"participants"`
}

type HealthResponse struct {
	Status      string           `json:"status"`
	Timestamp   time.Time        `json:"timestamp"`
	Database    string           `json:"database"`
	Connections map[string]int   `json:"connections"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/token exchanges an email and password for a bearer token.
func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, "email and password are required", http.StatusBadRequest)
		return
	}

	token, expires, user, err := s.deps.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.sendError(c, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		s.logger.Error("login failed", "error", err)
		s.sendError(c, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires, User: user})
}

// GET /api/sessions/:id/participants is open to the owning instructor only.
func (s *Server) listParticipants(c *gin.Context) {
	sessionID, err := session.ParseSessionID(c.Param("id"))
	if err != nil {
		s.sendError(c, "Invalid session ID", http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	user, err := s.deps.Users.GetUser(ctx, c.GetInt64(userIDKey))
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			s.sendError(c, "Unknown user", http.StatusUnauthorized)
			return
		}
		s.sendError(c, "Failed to load user", http.StatusInternalServerError)
		return
	}

	role, allowed, err := s.deps.Authorizer.Authorize(ctx, user, sessionID)
	if err != nil {
		s.logger.Error("authorization failed", "session_id", sessionID, "user_id", user.ID, "error", err)
		s.sendError(c, "Failed to check access", http.StatusInternalServerError)
		return
	}
	if !allowed || role != types.RoleInstructor {
		s.sendError(c, "Not authorized for this session", http.StatusForbidden)
		return
	}

	participants := s.deps.Registry.Participants(sessionID)
	resp := ParticipantsResponse{SessionID: sessionID, Participants: make([]types.ParticipantInfo, 0, len(participants))}
	for _, p := range participants {
		resp.Participants = append(resp.Participants, p.Info())
	}
	c.JSON(http.StatusOK, resp)
}

// GET /ws/session/:id hands the request to the live session handler, which
// reports every failure through a close code rather than an HTTP status.
func (s *Server) handleWebSocket(c *gin.Context) {
	s.deps.Sessions.HandleSession(c.Writer, c.Request, c.Param("id"))
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.deps.Registry.GetStats(),
		Metrics:     s.metrics.Snapshot(),
	})
}

// bearerAuth resolves the Authorization header to a user id.
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			s.abort(c, "authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.abort(c, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		userID, err := s.deps.Auth.Verify(parts[1])
		if err != nil {
			s.abort(c, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(c *gin.Context, message string, code int) {
	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) abort(c *gin.Context, message string, code int) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins; bearer tokens, not cookies, carry identity
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
