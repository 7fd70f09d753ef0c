// Package router dispatches validated client messages to their side
// effects and broadcasts.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"focusboard/internal/hub"
	"focusboard/internal/metrics"
	"focusboard/internal/protocol"
	"focusboard/internal/registry"
	"focusboard/pkg/types"
)

// Close codes sent by the server. The 4000 range mirrors the handshake
// failure classes.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseGeneric        = 4000
	CloseMissingToken   = 4001
	CloseInvalidToken   = 4002
	CloseAccessDenied   = 4003
	CloseReasonEnded    = "session ended"
	CloseReasonReplace  = "replaced by a newer connection"
	CloseReasonShutdown = "server shutting down"
)

// Recorder persists the effects of focus reports and session end.
type Recorder interface {
	RecordFocus(ctx context.Context, sessionID, studentID int64, score float64) error
	EndSession(ctx context.Context, sessionID int64) (bool, error)
}

// SessionState answers whether a session still accepts state changes.
type SessionState interface {
	IsActive(ctx context.Context, sessionID int64) (bool, error)
}

// Outcome tells the connection handler what to do after a message.
type Outcome struct {
	Close       bool
	CloseCode   int
	CloseReason string
}

// Router implements per-message dispatch for one process.
type Router struct {
	hub      *hub.Hub
	recorder Recorder
	sessions SessionState
	limiter  *RateLimiter
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a new message router
func NewRouter(h *hub.Hub, recorder Recorder, sessions SessionState, limiter *RateLimiter, m *metrics.Collector, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		hub:      h,
		recorder: recorder,
		sessions: sessions,
		limiter:  limiter,
		metrics:  m,
		logger:   logger.With("component", "router"),
		now:      time.Now,
	}
}

// Route handles one raw message from p. Rejections are answered with an
// error event to p only and never mutate state. Route never panics.
func (r *Router) Route(ctx context.Context, p *registry.Participant, raw []byte) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while routing message",
				"session_id", p.SessionID, "user_id", p.UserID, "panic", fmt.Sprint(rec))
			r.replyError(p, protocol.MsgProcessingFailed)
			out = Outcome{}
		}
	}()

	r.metrics.MessageReceived()

	if r.limiter != nil && p.Conn != nil && !r.limiter.Allow(p.Conn.ID()) {
		r.reject(p, protocol.NewError(protocol.RateLimited, protocol.MsgRateLimited))
		return Outcome{}
	}

	msg, err := protocol.Parse(raw, p.Role)
	if err != nil {
		if pe, ok := protocol.AsError(err); ok {
			r.reject(p, pe)
		} else {
			r.replyError(p, protocol.MsgProcessingFailed)
		}
		return Outcome{}
	}

	if _, isChat := msg.(protocol.ChatMessage); !isChat {
		active, err := r.sessions.IsActive(ctx, p.SessionID)
		if err != nil {
			r.logger.Error("session state lookup failed", "session_id", p.SessionID, "error", err)
			r.replyError(p, protocol.MsgProcessingFailed)
			return Outcome{}
		}
		if !active {
			r.reject(p, protocol.NewError(protocol.SessionEnded, protocol.MsgSessionEnded))
			return Outcome{}
		}
	}

	switch m := msg.(type) {
	case protocol.FocusUpdate:
		return r.handleFocus(ctx, p, m)
	case protocol.TimerUpdate:
		return r.handleTimer(p, m)
	case protocol.SessionControl:
		return r.handleControl(ctx, p, m)
	case protocol.ChatMessage:
		return r.handleChat(p, m)
	default:
		// unreachable while Parse only yields the four kinds above
		r.replyError(p, protocol.MsgProcessingFailed)
		return Outcome{}
	}
}

func (r *Router) handleFocus(ctx context.Context, p *registry.Participant, m protocol.FocusUpdate) Outcome {
	if err := r.recorder.RecordFocus(ctx, p.SessionID, p.UserID, m.FocusScore); err != nil {
		if pe, ok := protocol.AsError(err); ok {
			r.reject(p, pe)
			return Outcome{}
		}
		r.persistenceFailed(p, "focus", err, protocol.MsgFocusUpdateFailed)
		return Outcome{}
	}

	r.broadcast(p.SessionID, protocol.NewFocusBroadcast(p.UserID, p.Name, m.FocusScore, r.now()), hub.Role(types.RoleInstructor))
	_ = r.hub.Send(p, protocol.NewFocusAck())
	return Outcome{}
}

func (r *Router) handleTimer(p *registry.Participant, m protocol.TimerUpdate) Outcome {
	r.broadcast(p.SessionID, protocol.NewTimerBroadcast(m.ElapsedTime, p.UserID, r.now()), hub.Everyone)
	return Outcome{}
}

func (r *Router) handleControl(ctx context.Context, p *registry.Participant, m protocol.SessionControl) Outcome {
	if m.ControlType != types.ControlEnd {
		r.broadcast(p.SessionID, protocol.NewControlBroadcast(m.ControlType, p.UserID, r.now()), hub.Everyone)
		return Outcome{}
	}

	flipped, err := r.recorder.EndSession(ctx, p.SessionID)
	if err != nil {
		r.persistenceFailed(p, "end session", err, protocol.MsgEndSessionFailed)
		return Outcome{}
	}
	r.logger.Info("session ended", "session_id", p.SessionID, "user_id", p.UserID, "transitioned", flipped)

	r.broadcast(p.SessionID, protocol.NewControlBroadcast(types.ControlEnd, p.UserID, r.now()), hub.Everyone)
	return Outcome{Close: true, CloseCode: CloseNormal, CloseReason: CloseReasonEnded}
}

func (r *Router) handleChat(p *registry.Participant, m protocol.ChatMessage) Outcome {
	r.broadcast(p.SessionID, protocol.NewChatBroadcast(p.UserID, p.Name, p.Role, m.Text, r.now()), hub.Everyone)
	return Outcome{}
}

func (r *Router) broadcast(sessionID int64, event protocol.Event, filter hub.Filter) {
	if _, err := r.hub.Broadcast(sessionID, event, filter); err != nil {
		r.logger.Error("broadcast failed", "session_id", sessionID, "event", event.EventType(), "error", err)
	}
}

func (r *Router) persistenceFailed(p *registry.Participant, action string, err error, reply string) {
	r.metrics.PersistenceError(err.Error())
	r.logger.Error("persistence failed",
		"action", action, "session_id", p.SessionID, "user_id", p.UserID, "error", err)
	r.replyError(p, reply)
}

func (r *Router) reject(p *registry.Participant, pe *protocol.Error) {
	r.metrics.ProtocolError()
	r.logger.Debug("message rejected",
		"session_id", p.SessionID, "user_id", p.UserID, "kind", pe.Kind.String(), "reason", pe.Message)
	r.replyError(p, pe.Message)
}

func (r *Router) replyError(p *registry.Participant, message string) {
	_ = r.hub.Send(p, protocol.NewErrorEvent(message))
}

// Forget releases per-connection state once a connection closes.
func (r *Router) Forget(connID string) {
	if r.limiter != nil {
		r.limiter.Forget(connID)
	}
}
