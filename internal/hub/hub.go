// Package hub fans events out to the participants of a session.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"focusboard/internal/metrics"
	"focusboard/internal/protocol"
	"focusboard/internal/registry"
	"focusboard/pkg/types"
)

// Filter selects the recipients of a broadcast.
type Filter func(p *registry.Participant) bool

// Everyone delivers to the whole group.
func Everyone(*registry.Participant) bool { return true }

// Role delivers only to participants holding role.
func Role(role types.Role) Filter {
	return func(p *registry.Participant) bool { return p.Role == role }
}

// Except delivers to everyone but userID.
func Except(userID int64) Filter {
	return func(p *registry.Participant) bool { return p.UserID != userID }
}

// Hub delivers events to registered participants.
// ARCHITECTURAL DISCOVERY: Delivery runs on the caller's goroutine against
// the registry's state at call time, so messages from one sender reach each
// recipient queue in the order they were sent
type Hub struct {
	registry *registry.Registry
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewHub creates a hub over registry. m may be nil.
func NewHub(reg *registry.Registry, m *metrics.Collector, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{registry: reg, metrics: m, logger: logger.With("component", "hub")}
}

// Broadcast encodes event once and queues it for every participant of the
// session accepted by filter. A failed delivery is logged, counted and
// skipped. It returns the number of queued deliveries.
func (h *Hub) Broadcast(sessionID int64, event protocol.Event, filter Filter) (int, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if filter == nil {
		filter = Everyone
	}

	delivered := 0
	for _, p := range h.registry.Participants(sessionID) {
		if !filter(p) {
			continue
		}
		if h.deliver(p, event.EventType(), data) {
			delivered++
		}
	}
	return delivered, nil
}

// Send queues event for a single participant.
func (h *Hub) Send(p *registry.Participant, event protocol.Event) error {
	if p == nil || p.Conn == nil {
		return ErrNoConnection
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if !h.deliver(p, event.EventType(), data) {
		return fmt.Errorf("delivery to user %d dropped", p.UserID)
	}
	return nil
}

func (h *Hub) deliver(p *registry.Participant, eventType string, data []byte) bool {
	if p.Conn == nil {
		return false
	}
	if err := p.Conn.Send(data); err != nil {
		h.metrics.DeliveryDropped()
		h.logger.Warn("delivery dropped",
			"session_id", p.SessionID,
			"user_id", p.UserID,
			"conn_id", p.Conn.ID(),
			"event", eventType,
			"error", err,
		)
		return false
	}
	h.metrics.DeliverySent()
	return true
}
