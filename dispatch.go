package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// serverSession is the per-connection protocol state machine. It consumes the
// session's message stream, validates calls against the registry, hands them
// to the sandbox, and correlates results back by id. Each call runs in its
// own goroutine, so results may be emitted out of request order; the
// correlation id is the only ordering contract.
type serverSession struct {
	session  Session
	registry *Registry
	sandbox  *Sandbox
	logger   *slog.Logger

	serverInfo Info

	pingInterval         time.Duration
	pingTimeout          time.Duration
	pingTimeoutThreshold int
	sendTimeout          time.Duration

	// inflight is mutated here on call arrival and completion, and its
	// cancel flags are read lock-free by handlers.
	mu       sync.Mutex
	inflight map[MustString]*inflightCall

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// inflightCall tracks one accepted call until its response is sent. The
// cancelled flag is set by handleCancel on the session loop and read
// lock-free by the call's goroutine when it classifies the outcome.
type inflightCall struct {
	cancel    context.CancelFunc
	cancelled *atomic.Bool
}

func (s *serverSession) start(done <-chan struct{}) {
	// Feed the ping goroutine the pong ids we receive from the client.
	pongIDs := make(chan MustString, 10)
	go s.ping(pongIDs, done)

	// Cancelling this context tears down every in-flight call when the
	// session ends.
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	s.inflight = make(map[MustString]*inflightCall)

	// Ignore everything but hello and ping traffic until the handshake
	// completes.
	initialized := false

	// This loop breaks when the session is closed.
	for msg := range s.session.Messages() {
		switch msg.Kind {
		case KindHello:
			initialized = s.handleHello(msg)
		case KindPing:
			go s.sendPong(msg.ID)
		case KindPong:
			select {
			case <-done:
			case pongIDs <- msg.ID:
			}
		case KindCall:
			if !initialized {
				continue
			}
			s.handleCall(msg)
		case KindCancel:
			if !initialized {
				continue
			}
			s.handleCancel(msg)
		case KindDiscover:
			if !initialized {
				continue
			}
			go s.handleDiscover(msg)
		case KindResult:
			// Servers make no requests besides pings, so stray results are
			// dropped.
			s.logger.Debug("dropping unexpected result frame", slog.String("id", string(msg.ID)))
		}
	}

	s.baseCancel()
	close(pongIDs)
}

// handleHello verifies the handshake and reports whether the session is now
// established. The response itself is sent off the loop.
func (s *serverSession) handleHello(msg Message) bool {
	var params helloParams
	if err := json.Unmarshal(msg.Args, &params); err != nil {
		go s.respondError(msg.ID, &CallError{
			Kind:    ErrorKindProtocol,
			Message: fmt.Sprintf("malformed hello: %s", err),
		})
		return false
	}
	if params.Protocol != protocolVersion {
		s.logger.Info("rejecting hello with mismatched protocol version",
			slog.String("version", params.Protocol))
		go s.respondError(msg.ID, &CallError{
			Kind:    ErrorKindProtocol,
			Message: fmt.Sprintf("protocol version mismatch: %s != %s", params.Protocol, protocolVersion),
		})
		return false
	}

	resBs, _ := json.Marshal(helloResult{
		Protocol: protocolVersion,
		Info:     s.serverInfo,
	})
	go s.respond(Message{
		Kind:   KindResult,
		ID:     msg.ID,
		Result: resBs,
	})
	return true
}

// handleCall runs on the session loop. Registration, lookup, validation, and
// sandbox admission happen synchronously so that calls queue in arrival
// order; only the execution itself moves to a goroutine.
func (s *serverSession) handleCall(msg Message) {
	callCtx, cancel := context.WithCancel(s.baseCtx)
	call := &inflightCall{
		cancel:    cancel,
		cancelled: &atomic.Bool{},
	}

	s.mu.Lock()
	if _, ok := s.inflight[msg.ID]; ok {
		s.mu.Unlock()
		cancel()
		go s.respondError(msg.ID, &CallError{
			Kind:    ErrorKindProtocol,
			Message: fmt.Sprintf("correlation id %q is already in flight", msg.ID),
		})
		return
	}
	s.inflight[msg.ID] = call
	s.mu.Unlock()

	tool, err := s.registry.Lookup(msg.Tool)
	if err != nil {
		s.finish(msg.ID, nil, err)
		return
	}

	if cerr := validateAgainst(callCtx, tool.InputSchema, msg.Args, ErrorKindValidation); cerr != nil {
		s.finish(msg.ID, nil, cerr)
		return
	}

	ticket := s.sandbox.Enqueue()

	go func() {
		defer cancel()

		result, err := s.sandbox.Execute(callCtx, ticket, tool, msg.Args)
		if err == nil {
			if cerr := validateAgainst(s.baseCtx, tool.OutputSchema, result, ErrorKindContract); cerr != nil {
				s.logger.Error("handler violated its output schema",
					slog.String("tool", tool.Name),
					slog.String("path", cerr.Path))
				result, err = nil, cerr
			}
		} else if call.cancelled.Load() {
			// A handler may fail with its own error before it observes the
			// cancelled context; the flag keeps the reported kind stable.
			err = &CallError{
				Kind:    ErrorKindCancelled,
				Message: fmt.Sprintf("tool %q call cancelled", tool.Name),
			}
		}

		s.finish(msg.ID, result, err)
	}()
}

func (s *serverSession) handleCancel(msg Message) {
	s.mu.Lock()
	call, ok := s.inflight[msg.ID]
	s.mu.Unlock()

	// Cancelling an unknown or completed id is a no-op, so repeated cancels
	// never produce duplicate responses.
	if !ok {
		return
	}

	call.cancelled.Store(true)
	call.cancel()
}

func (s *serverSession) handleDiscover(msg Message) {
	resBs, err := json.Marshal(s.registry.listing())
	if err != nil {
		s.respondError(msg.ID, &CallError{
			Kind:    ErrorKindHandler,
			Message: fmt.Sprintf("failed to marshal tool listing: %s", err),
		})
		return
	}
	s.respond(Message{
		Kind:   KindResult,
		ID:     msg.ID,
		Result: resBs,
	})
}

// finish removes the in-flight entry and sends the call's single response.
// The entry may already be gone when the session is tearing down.
func (s *serverSession) finish(id MustString, result json.RawMessage, err error) {
	s.mu.Lock()
	call, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()

	if !ok {
		return
	}

	// Rejected calls never reach the goroutine that owns the context, so
	// release it here. Cancelling twice is harmless.
	call.cancel()

	msg := Message{
		Kind: KindResult,
		ID:   id,
	}
	if err != nil {
		var ce *CallError
		if !errors.As(err, &ce) {
			ce = &CallError{
				Kind:    ErrorKindHandler,
				Message: err.Error(),
			}
		}
		msg.Error = ce
	} else {
		msg.Result = result
	}

	s.respond(msg)
}

func (s *serverSession) respond(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.session.Send(ctx, msg); err != nil {
		s.logger.Error("failed to send response",
			slog.String("id", string(msg.ID)),
			slog.String("err", err.Error()))
	}
}

func (s *serverSession) respondError(id MustString, cerr *CallError) {
	s.respond(Message{
		Kind:  KindResult,
		ID:    id,
		Error: cerr,
	})
}

func (s *serverSession) sendPong(id MustString) {
	ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)
	defer cancel()

	if err := s.session.Send(ctx, Message{Kind: KindPong, ID: id}); err != nil {
		s.logger.Error("failed to send pong", slog.String("err", err.Error()))
	}
}

// ping keeps the session alive and closes it after too many consecutive
// failures.
func (s *serverSession) ping(pongIDs <-chan MustString, done <-chan struct{}) {
	defer s.session.Stop()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	failedPings := 0
	var msgID MustString

	for {
		if failedPings > s.pingTimeoutThreshold {
			s.logger.Warn("too many pings failed, closing session")
			return
		}

		select {
		case <-done:
			return
		case id, ok := <-pongIDs:
			if !ok {
				return
			}
			if id != msgID {
				continue
			}
			failedPings = 0
			continue
		case <-pingTicker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.pingTimeout)

		msgID = MustString(uuid.New().String())
		if err := s.session.Send(ctx, Message{Kind: KindPing, ID: msgID}); err != nil {
			s.logger.Warn("failed to send ping to client", slog.String("err", err.Error()))
			failedPings++
		}
		cancel()
	}
}
