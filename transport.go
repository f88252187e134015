package toolrpc

import (
	"context"
	"iter"
)

// ServerTransport provides the server side of a connection-oriented message
// transport.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they
	// are initiated. Each yielded Session represents a unique client
	// connection. The implementation must guarantee that session IDs are
	// unique across all active connections.
	//
	// The implementation should exit the iteration when Shutdown is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the transport and cleans up resources.
	// The implementation should not stop the sessions it produced, the
	// caller already does that. The caller is guaranteed to call this method
	// only once.
	Shutdown(ctx context.Context) error
}

// ClientTransport provides the client side of a connection-oriented message
// transport.
type ClientTransport interface {
	// StartSession establishes a session with the server. It returns only
	// when the session is ready to send messages, or with an error on
	// connection failure.
	StartSession(ctx context.Context) (Session, error)
}

// Session is a bidirectional message channel between one client and one
// server. The transport preserves the arrival order of messages on a
// session.
type Session interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Send transmits a message to the other party.
	Send(ctx context.Context, msg Message) error

	// Messages returns an iterator that yields messages received from the
	// other party. The iteration exits when the session is closed, or when
	// a malformed frame arrives.
	Messages() iter.Seq[Message]

	// Stop stops the session. The caller is guaranteed to call this method
	// only once.
	Stop()
}
