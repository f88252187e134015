package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client is the calling side of the protocol. It exposes a synchronous Call
// interface over the asynchronous transport: requests carry fresh
// correlation ids, and a background loop routes each result frame to the
// caller waiting on it.
//
// A Client must be created with NewClient and requires Connect to be called
// before any operations can be performed. Close releases the session.
type Client struct {
	info       Info
	serverInfo Info
	transport  ClientTransport
	session    Session

	writeTimeout time.Duration
	callTimeout  time.Duration

	connected bool
	logger    *slog.Logger

	waitForResults chan waitForResultReq
	results        chan Message

	sessionClosed chan struct{}
	done          chan struct{}
}

type waitForResultReq struct {
	msgID   MustString
	resChan chan<- chan Message
}

var (
	defaultClientWriteTimeout = 30 * time.Second
	defaultClientCallTimeout  = 30 * time.Second

	errClientNotConnected = errors.New("client not connected")
)

// WithClientWriteTimeout sets the write timeout for the client.
func WithClientWriteTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = timeout
	}
}

// WithClientCallTimeout sets how long Call waits for a result before failing
// locally with a timeout error and sending a best-effort cancel upstream.
func WithClientCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(
			slog.String("package", "toolrpc"),
			slog.String("component", "client"),
		)
	}
}

// NewClient creates a new client with the specified configuration. The
// client is not connected until Connect is called.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:           info,
		transport:      transport,
		logger:         slog.Default(),
		waitForResults: make(chan waitForResultReq, 10),
		results:        make(chan Message),
		sessionClosed:  make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.writeTimeout == 0 {
		c.writeTimeout = defaultClientWriteTimeout
	}
	if c.callTimeout == 0 {
		c.callTimeout = defaultClientCallTimeout
	}

	return c
}

// Connect establishes the session and performs the protocol handshake. It
// must be called before any other client method.
func (c *Client) Connect(ctx context.Context) error {
	sess, err := c.transport.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	c.session = sess

	go c.start()
	go c.listen()

	paramsBs, err := json.Marshal(helloParams{
		Protocol: protocolVersion,
		Info:     c.info,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal hello params: %w", err)
	}

	res, err := c.roundTrip(ctx, Message{
		Kind: KindHello,
		Args: paramsBs,
	})
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	if res.Error != nil {
		return fmt.Errorf("handshake rejected: %w", res.Error)
	}

	var result helloResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return fmt.Errorf("failed to unmarshal hello result: %w", err)
	}

	c.serverInfo = result.Info
	c.connected = true

	return nil
}

// Call invokes a named tool and waits for its correlated result. Arguments
// are marshaled to JSON; the raw JSON result is returned on success. A
// failure outcome, a local timeout, or a closed connection all surface as a
// *CallError whose Kind identifies the cause. On timeout or caller
// cancellation, a best-effort cancel notice is sent upstream.
func (c *Client) Call(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if !c.connected {
		return nil, errClientNotConnected
	}

	argsBs, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	res, err := c.roundTrip(ctx, Message{
		Kind: KindCall,
		Tool: name,
		Args: argsBs,
	})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}

	return res.Result, nil
}

// CallInto invokes a named tool and unmarshals the result into out.
func (c *Client) CallInto(ctx context.Context, name string, args, out any) error {
	result, err := c.Call(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to unmarshal result of %s: %w", name, err)
	}
	return nil
}

// ListTools fetches the discovery snapshot from the server.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if !c.connected {
		return nil, errClientNotConnected
	}

	res, err := c.roundTrip(ctx, Message{Kind: KindDiscover})
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, res.Error
	}

	var list ToolList
	if err := json.Unmarshal(res.Result, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool listing: %w", err)
	}

	return list.Tools, nil
}

// ServerInfo returns the server's info from the handshake.
func (c *Client) ServerInfo() Info {
	return c.serverInfo
}

// Close stops the session and releases the client's resources. Pending
// calls resolve with connection_closed errors.
func (c *Client) Close() {
	close(c.done)
	if c.session != nil {
		c.session.Stop()
	}
}

// start owns the pending-call table. Callers register through
// waitForResults; the listen goroutine feeds matching results. When the
// session goes away every pending call resolves to connection_closed.
func (c *Client) start() {
	pending := make(map[MustString]chan Message)

	for {
		select {
		case <-c.done:
			return
		case <-c.sessionClosed:
			for id, resChan := range pending {
				resChan <- Message{
					Kind: KindResult,
					ID:   id,
					Error: &CallError{
						Kind:    ErrorKindConnectionClosed,
						Message: "connection closed by server",
					},
				}
			}
			return
		case req := <-c.waitForResults:
			resChan := make(chan Message, 1)
			pending[req.msgID] = resChan
			req.resChan <- resChan
		case msg := <-c.results:
			resChan, ok := pending[msg.ID]
			if !ok {
				// Response for a call that already timed out locally.
				continue
			}
			resChan <- msg
			delete(pending, msg.ID)
		}
	}
}

// listen consumes the session's message stream until the server closes it.
func (c *Client) listen() {
	defer close(c.sessionClosed)

	for msg := range c.session.Messages() {
		switch msg.Kind {
		case KindPing:
			go c.sendPong(msg.ID)
		case KindResult:
			select {
			case <-c.done:
				return
			case c.results <- msg:
			}
		default:
			c.logger.Debug("dropping unexpected frame",
				slog.String("kind", string(msg.Kind)))
		}
	}
}

func (c *Client) sendPong(id MustString) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := c.session.Send(ctx, Message{Kind: KindPong, ID: id}); err != nil {
		c.logger.Error("failed to send pong", slog.String("err", err.Error()))
	}
}

func (c *Client) roundTrip(ctx context.Context, msg Message) (Message, error) {
	msgID := MustString(uuid.New().String())
	msg.ID = msgID

	// Register the pending call before sending so the result cannot slip
	// past us.
	resChannels := make(chan chan Message)
	select {
	case <-c.done:
		return Message{}, &CallError{
			Kind:    ErrorKindConnectionClosed,
			Message: "client closed",
		}
	case c.waitForResults <- waitForResultReq{msgID: msgID, resChan: resChannels}:
	}
	results := <-resChannels

	sCtx, sCancel := context.WithTimeout(ctx, c.writeTimeout)
	defer sCancel()

	if err := c.session.Send(sCtx, msg); err != nil {
		return Message{}, fmt.Errorf("failed to send request: %w", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res, nil
	case <-timer.C:
		c.sendCancel(msgID)
		return Message{}, &CallError{
			Kind:    ErrorKindTimeout,
			Message: fmt.Sprintf("no result for %q within %s", msg.Tool, c.callTimeout),
		}
	case <-ctx.Done():
		c.sendCancel(msgID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, &CallError{
				Kind:    ErrorKindTimeout,
				Message: fmt.Sprintf("no result for %q before deadline", msg.Tool),
			}
		}
		return Message{}, &CallError{
			Kind:    ErrorKindCancelled,
			Message: "call cancelled by caller",
		}
	case <-c.done:
		return Message{}, &CallError{
			Kind:    ErrorKindConnectionClosed,
			Message: "client closed",
		}
	}
}

// sendCancel sends a best-effort cancel notice for an abandoned call.
func (c *Client) sendCancel(id MustString) {
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	if err := c.session.Send(ctx, Message{Kind: KindCancel, ID: id}); err != nil {
		c.logger.Warn("failed to send cancel notice",
			slog.String("id", string(id)),
			slog.String("err", err.Error()))
	}
}
