package interfaces

// Connection is the live handle of one participant's transport.
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// keeps the registry and broadcaster testable without sockets
type Connection interface {
	// ID uniquely identifies this physical connection. Two connections of
	// the same user never share an ID, which is what lets a registry tell
	// a stale deregister apart from a current one.
	ID() string

	// Send queues an already encoded message for delivery. It never blocks:
	// a full outbound queue or a closed connection is reported as an error
	// and the message is dropped.
	Send(data []byte) error

	// Shutdown flushes queued messages, sends a close frame with the given
	// code and reason, then releases the transport.
	Shutdown(code int, reason string)

	// Close releases the transport immediately.
	Close() error
}
