package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Sandbox runs tool handlers with bounded concurrency, a wall-clock timeout,
// and panic isolation. At most limit handlers execute at once; further calls
// queue in arrival order until a slot frees. A handler fault never escapes
// the sandbox as anything but a CallError.
//
// Instances must be created with NewSandbox and released with Close.
type Sandbox struct {
	limit   int
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	admissions chan Ticket
	releases   chan struct{}

	done   chan struct{}
	closed chan struct{}
}

type handlerOutcome struct {
	result json.RawMessage
	err    error
}

// Ticket is a position in the sandbox admission queue. Tickets are handed
// out by Enqueue in arrival order and redeemed by Execute.
type Ticket struct {
	granted chan struct{}
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

var (
	defaultSandboxLimit   = 8
	defaultSandboxTimeout = 30 * time.Second
	defaultSandboxGrace   = 5 * time.Second
)

// NewSandbox creates a sandbox and starts its admission loop.
func NewSandbox(options ...SandboxOption) *Sandbox {
	sb := &Sandbox{
		logger:     slog.Default(),
		admissions: make(chan Ticket, 64),
		releases:   make(chan struct{}, 64),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(sb)
	}
	if sb.limit == 0 {
		sb.limit = defaultSandboxLimit
	}
	if sb.timeout == 0 {
		sb.timeout = defaultSandboxTimeout
	}
	if sb.grace == 0 {
		sb.grace = defaultSandboxGrace
	}

	go sb.admit()

	return sb
}

// WithSandboxLimit sets the maximum number of concurrently executing
// handlers.
func WithSandboxLimit(limit int) SandboxOption {
	return func(sb *Sandbox) {
		sb.limit = limit
	}
}

// WithSandboxTimeout sets the per-call wall-clock budget.
func WithSandboxTimeout(timeout time.Duration) SandboxOption {
	return func(sb *Sandbox) {
		sb.timeout = timeout
	}
}

// WithSandboxGrace sets how long an expired handler is given to acknowledge
// cancellation before it is abandoned.
func WithSandboxGrace(grace time.Duration) SandboxOption {
	return func(sb *Sandbox) {
		sb.grace = grace
	}
}

// WithSandboxLogger sets the logger for the sandbox.
func WithSandboxLogger(logger *slog.Logger) SandboxOption {
	return func(sb *Sandbox) {
		sb.logger = logger.With(slog.String("component", "sandbox"))
	}
}

// Enqueue reserves the caller's place in the admission queue. The dispatcher
// calls it in message-arrival order, which fixes the FIFO admission order
// before execution moves to a goroutine.
func (sb *Sandbox) Enqueue() Ticket {
	t := Ticket{granted: make(chan struct{}, 1)}
	select {
	case sb.admissions <- t:
	case <-sb.done:
	}
	return t
}

// Execute waits for the ticket's slot, then runs the handler. The handler
// goroutine holds its slot until it actually returns, even after the call
// itself has been abandoned; releasing earlier would break the concurrency
// bound.
//
// The returned error is always a CallError: timeout when the budget expires,
// cancelled when ctx is cancelled first, handler for faults and panics.
func (sb *Sandbox) Execute(ctx context.Context, ticket Ticket, tool Tool, args json.RawMessage) (json.RawMessage, error) {
	select {
	case <-ticket.granted:
	case <-ctx.Done():
		// The slot may still be granted later, release it as soon as that
		// happens.
		go sb.discard(ticket)
		return nil, cancelError(ctx, tool.Name)
	case <-sb.done:
		go sb.discard(ticket)
		return nil, &CallError{
			Kind:    ErrorKindConnectionClosed,
			Message: "sandbox is closed",
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan handlerOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomes <- handlerOutcome{err: &CallError{
					Kind:    ErrorKindHandler,
					Message: fmt.Sprintf("handler panic: %v", r),
				}}
			}
			sb.release()
		}()

		result, err := tool.Handler(runCtx, args)
		outcomes <- handlerOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(sb.timeout)
	defer timer.Stop()

	select {
	case out := <-outcomes:
		return out.result, wrapHandlerError(out.err)
	case <-ctx.Done():
		cancel()
		sb.awaitAbandoned(outcomes, tool.Name)
		return nil, cancelError(ctx, tool.Name)
	case <-timer.C:
		cancel()
		sb.awaitAbandoned(outcomes, tool.Name)
		return nil, &CallError{
			Kind:    ErrorKindTimeout,
			Message: fmt.Sprintf("tool %q exceeded %s budget", tool.Name, sb.timeout),
		}
	}
}

// Close stops the admission loop. Handlers already running are left to
// finish on their own.
func (sb *Sandbox) Close() {
	close(sb.done)
	<-sb.closed
}

// awaitAbandoned gives a cancelled handler the grace period to return before
// the call is abandoned. The slot is released by the handler goroutine
// either way.
func (sb *Sandbox) awaitAbandoned(outcomes <-chan handlerOutcome, name string) {
	graceTimer := time.NewTimer(sb.grace)
	defer graceTimer.Stop()

	select {
	case <-outcomes:
	case <-graceTimer.C:
		sb.logger.Warn("handler ignored cancellation, abandoning call",
			slog.String("tool", name),
			slog.Duration("grace", sb.grace))
	}
}

func (sb *Sandbox) release() {
	select {
	case sb.releases <- struct{}{}:
	case <-sb.done:
	}
}

func (sb *Sandbox) discard(ticket Ticket) {
	select {
	case <-ticket.granted:
		sb.release()
	case <-sb.done:
	}
}

func (sb *Sandbox) admit() {
	defer close(sb.closed)

	var queue []Ticket
	running := 0

	for {
		select {
		case <-sb.done:
			return
		case ticket := <-sb.admissions:
			queue = append(queue, ticket)
		case <-sb.releases:
			running--
		}

		// Grant queued tickets while slots are free, strictly in arrival
		// order.
		for len(queue) > 0 && running < sb.limit {
			ticket := queue[0]
			queue = queue[1:]
			ticket.granted <- struct{}{}
			running++
		}
	}
}

// wrapHandlerError converts a handler fault into the handler error kind,
// keeping already-typed failures as they are.
func wrapHandlerError(err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{
		Kind:    ErrorKindHandler,
		Message: err.Error(),
	}
}

func cancelError(ctx context.Context, name string) *CallError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallError{
			Kind:    ErrorKindTimeout,
			Message: fmt.Sprintf("tool %q deadline exceeded", name),
		}
	}
	return &CallError{
		Kind:    ErrorKindCancelled,
		Message: fmt.Sprintf("tool %q call cancelled", name),
	}
}
