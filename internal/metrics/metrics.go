// Package metrics keeps lock-free counters for the live session service.
//
// A nil *Collector is a valid no-op receiver so components constructed
// without metrics need no nil checks.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks connection, message and delivery statistics.
type Collector struct {
	connectionsActive  atomic.Int64
	connectionsTotal   atomic.Int64
	handshakesRejected atomic.Int64
	messagesReceived   atomic.Int64
	protocolErrors     atomic.Int64
	deliveriesSent     atomic.Int64
	deliveriesDropped  atomic.Int64
	persistenceErrors  atomic.Int64
	reportsRequested   atomic.Int64
	reportsDropped     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a collector whose uptime starts now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connections ──────────────────────────────────────────────────────

// ConnectionOpened counts a participant that reached the active state.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// HandshakeRejected counts a connection attempt closed before activation.
func (c *Collector) HandshakeRejected() {
	if c == nil {
		return
	}
	c.handshakesRejected.Add(1)
}

// ActiveConnections returns the number of active participants.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// ── Messages ─────────────────────────────────────────────────────────

func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesReceived.Add(1)
}

// ProtocolError counts a client message answered with an error envelope.
func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.protocolErrors.Add(1)
}

// ── Delivery ─────────────────────────────────────────────────────────

func (c *Collector) DeliverySent() {
	if c == nil {
		return
	}
	c.deliveriesSent.Add(1)
}

// DeliveryDropped counts one recipient skipped during a broadcast.
func (c *Collector) DeliveryDropped() {
	if c == nil {
		return
	}
	c.deliveriesDropped.Add(1)
}

// DroppedDeliveries returns the lifetime dropped delivery count.
func (c *Collector) DroppedDeliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveriesDropped.Load()
}

// ── Persistence ──────────────────────────────────────────────────────

// PersistenceError counts a failed datastore write and remembers the message.
func (c *Collector) PersistenceError(msg string) {
	if c == nil {
		return
	}
	c.persistenceErrors.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

func (c *Collector) ReportRequested() {
	if c == nil {
		return
	}
	c.reportsRequested.Add(1)
}

// ReportDropped counts a report request lost to a full queue or a failed write.
func (c *Collector) ReportDropped() {
	if c == nil {
		return
	}
	c.reportsDropped.Add(1)
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view served by the health endpoint.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsTotal   int64  `json:"connections_total"`
	HandshakesRejected int64  `json:"handshakes_rejected"`
	MessagesReceived   int64  `json:"messages_received"`
	ProtocolErrors     int64  `json:"protocol_errors"`
	DeliveriesSent     int64  `json:"deliveries_sent"`
	DeliveriesDropped  int64  `json:"deliveries_dropped"`
	PersistenceErrors  int64  `json:"persistence_errors"`
	ReportsRequested   int64  `json:"reports_requested"`
	ReportsDropped     int64  `json:"reports_dropped"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot copies the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:  c.connectionsActive.Load(),
		ConnectionsTotal:   c.connectionsTotal.Load(),
		HandshakesRejected: c.handshakesRejected.Load(),
		MessagesReceived:   c.messagesReceived.Load(),
		ProtocolErrors:     c.protocolErrors.Load(),
		DeliveriesSent:     c.deliveriesSent.Load(),
		DeliveriesDropped:  c.deliveriesDropped.Load(),
		PersistenceErrors:  c.persistenceErrors.Load(),
		ReportsRequested:   c.reportsRequested.Load(),
		ReportsDropped:     c.reportsDropped.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.UTC().Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}
