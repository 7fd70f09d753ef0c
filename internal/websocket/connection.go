package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"focusboard/pkg/interfaces"
)

// ConnectionOptions tune the outbound side of a connection.
type ConnectionOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

type closeFrame struct {
	code   int
	reason string
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions.
// One writer goroutine owns every write, pings and the close frame included
type Connection struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan []byte // never closed, so a late Send cannot panic
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	closing    atomic.Bool
	shutdownCh chan closeFrame
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
	closeOnce  sync.Once
	closeErr   error
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	id := uuid.NewString()
	c := &Connection{
		id:           id,
		conn:         conn,
		sendCh:       make(chan []byte, opts.QueueSize),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		logger:       opts.Logger.With("conn_id", id),
		shutdownCh:   make(chan closeFrame, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// ID returns the unique id of this physical connection.
func (c *Connection) ID() string { return c.id }

// Send queues data without blocking.
func (c *Connection) Send(data []byte) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting messages, flushes what is queued, sends a close
// frame and releases the socket. It waits for the writer, bounded by the
// write timeout.
func (c *Connection) Shutdown(code int, reason string) {
	if c.closing.CompareAndSwap(false, true) {
		c.shutdownCh <- closeFrame{code: code, reason: reason}
	}
	select {
	case <-c.done:
	case <-time.After(2 * c.writeTimeout):
		_ = c.Close()
	}
}

// Close releases the socket immediately; queued messages are discarded.
func (c *Connection) Close() error {
	c.closing.Store(true)
	c.stopOnce.Do(func() { close(c.stop) })
	return c.closeTransport()
}

func (c *Connection) closeTransport() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) writeLoop() {
	defer close(c.done)

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.sendCh:
			if err := c.write(data); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.closeTransport()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				_ = c.closeTransport()
				return
			}

		case frame := <-c.shutdownCh:
			c.flush()
			msg := websocket.FormatCloseMessage(frame.code, frame.reason)
			if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("close frame failed", "error", err)
			}
			_ = c.closeTransport()
			return

		case <-c.stop:
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first error.
func (c *Connection) flush() {
	for {
		select {
		case data := <-c.sendCh:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
