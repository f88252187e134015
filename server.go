package toolrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server exposes a registry of schema-typed tools over a ServerTransport.
// It accepts client sessions, runs the per-session dispatcher, and executes
// handlers inside a shared bounded sandbox.
//
// A Server must be created with NewServer; Serve blocks until Shutdown is
// called or the transport closes.
type Server struct {
	info      Info
	transport ServerTransport
	registry  *Registry
	sandbox   *Sandbox

	sandboxLimit   int
	sandboxTimeout time.Duration
	sandboxGrace   time.Duration

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	logger *slog.Logger

	onClientConnected    func(string)
	onClientDisconnected func(string)

	sessionsWaitGroup *sync.WaitGroup

	done chan struct{}
}

var (
	defaultServerPingInterval         = 30 * time.Second
	defaultServerPingTimeout          = 30 * time.Second
	defaultServerPingTimeoutThreshold = 3
	defaultServerSendTimeout          = 30 * time.Second
)

// NewServer creates a new tool server for the given registry. The registry
// should be fully populated before Serve is called; descriptors are
// immutable once published.
func NewServer(info Info, transport ServerTransport, registry *Registry, options ...ServerOption) Server {
	s := Server{
		info:              info,
		transport:         transport,
		registry:          registry,
		logger:            slog.Default(),
		sessionsWaitGroup: &sync.WaitGroup{},
		done:              make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	if s.pingInterval == 0 {
		s.pingInterval = defaultServerPingInterval
	}
	if s.pingTimeout == 0 {
		s.pingTimeout = defaultServerPingTimeout
	}
	if s.pingTimeoutThreshold == 0 {
		s.pingTimeoutThreshold = defaultServerPingTimeoutThreshold
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultServerSendTimeout
	}

	s.sandbox = NewSandbox(
		WithSandboxLimit(s.sandboxLimit),
		WithSandboxTimeout(s.sandboxTimeout),
		WithSandboxGrace(s.sandboxGrace),
		WithSandboxLogger(s.logger),
	)

	return s
}

// WithSandboxSize sets how many handlers may execute concurrently; further
// calls queue in arrival order.
func WithSandboxSize(limit int) ServerOption {
	return func(s *Server) {
		s.sandboxLimit = limit
	}
}

// WithCallTimeout sets the wall-clock budget for a single tool call.
func WithCallTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sandboxTimeout = timeout
	}
}

// WithCallGrace sets how long an expired handler is given to acknowledge
// cancellation before its call is abandoned.
func WithCallGrace(grace time.Duration) ServerOption {
	return func(s *Server) {
		s.sandboxGrace = grace
	}
}

// WithServerPingInterval returns a ServerOption that configures the server's ping interval.
func WithServerPingInterval(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.pingInterval = interval
	}
}

// WithServerPingTimeout returns a ServerOption that configures the server's ping timeout.
func WithServerPingTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.pingTimeout = timeout
	}
}

// WithServerPingTimeoutThreshold sets the ping timeout threshold for the server.
// If the number of consecutive ping timeouts exceeds the threshold, the server will close the session.
func WithServerPingTimeoutThreshold(threshold int) ServerOption {
	return func(s *Server) {
		s.pingTimeoutThreshold = threshold
	}
}

// WithServerSendTimeout returns a ServerOption that configures the server's send timeout.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerOnClientConnected sets the callback for when a client connects.
// The callback's parameter is the session ID of the client.
func WithServerOnClientConnected(onClientConnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = onClientConnected
	}
}

// WithServerOnClientDisconnected sets the callback for when a client disconnects.
// The callback's parameter is the session ID of the client.
func WithServerOnClientDisconnected(onClientDisconnected func(string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = onClientDisconnected
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "toolrpc"),
			slog.String("component", "server"),
		)
	}
}

// Serve accepts client sessions and dispatches their calls until the
// transport closes. It blocks.
func (s Server) Serve() {
	// This loop breaks when the transport is closed.
	for sess := range s.transport.Sessions() {
		ss := &serverSession{
			session:              sess,
			registry:             s.registry,
			sandbox:              s.sandbox,
			logger:               s.logger.With(slog.String("sessionID", sess.ID())),
			serverInfo:           s.info,
			pingInterval:         s.pingInterval,
			pingTimeout:          s.pingTimeout,
			pingTimeoutThreshold: s.pingTimeoutThreshold,
			sendTimeout:          s.sendTimeout,
		}

		s.sessionsWaitGroup.Add(1)

		// The session closes itself when the client disconnects or when
		// consecutive pings fail beyond the threshold.
		go func() {
			defer s.sessionsWaitGroup.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.session.ID())
			}

			ss.start(s.done)

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.session.ID())
			}
		}()
	}
}

// Shutdown gracefully shuts down the server by terminating all active
// sessions and cleaning up resources. It returns an error if the context is
// cancelled before the shutdown completes.
func (s Server) Shutdown(ctx context.Context) error {
	// Signal all sessions to terminate.
	close(s.done)

	// Wait for all sessions to finish.
	s.sessionsWaitGroup.Wait()

	// Close the transport so the Sessions loop in Serve breaks.
	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	s.sandbox.Close()

	return nil
}
