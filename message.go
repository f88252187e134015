package toolrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MessageKind identifies the role of a protocol frame. Every frame carries
// exactly one kind; frames with an unknown or missing kind are rejected as
// protocol errors.
type MessageKind string

// Protocol frame kinds.
const (
	// KindHello opens a session. The client sends it with its Info and the
	// protocol version; the server answers with a result frame.
	KindHello MessageKind = "hello"
	// KindCall requests execution of a named tool with JSON arguments.
	KindCall MessageKind = "call"
	// KindResult answers a call, discover, or hello frame. Exactly one of
	// Result or Error is set.
	KindResult MessageKind = "result"
	// KindCancel asks the server to cancel an in-flight call. Cancelling an
	// unknown or completed id is a no-op.
	KindCancel MessageKind = "cancel"
	// KindDiscover requests the tool listing.
	KindDiscover MessageKind = "discover"
	// KindPing and KindPong implement the keepalive exchange.
	KindPing MessageKind = "ping"
	KindPong MessageKind = "pong"
)

const protocolVersion = "1.0"

// MustString enforces a string representation for correlation ids, which may
// arrive as either a string or a number on the wire.
type MustString string

// Message is a single protocol frame. Which fields are populated depends on
// the kind:
//   - call: ID, Tool, Args
//   - result: ID, and either Result or Error
//   - cancel: ID
//   - discover: ID
//   - hello: ID, Args (helloParams); answered with a result frame
//   - ping/pong: ID
type Message struct {
	// Kind identifies the frame type and is always present.
	Kind MessageKind `json:"kind"`
	// ID correlates a call with its eventual result.
	ID MustString `json:"id,omitempty"`
	// Tool names the operation to invoke for call frames.
	Tool string `json:"tool,omitempty"`
	// Args holds the call arguments as a raw JSON value.
	Args json.RawMessage `json:"args,omitempty"`
	// Result holds the successful outcome as a raw JSON value.
	Result json.RawMessage `json:"result,omitempty"`
	// Error holds the failure outcome.
	Error *CallError `json:"error,omitempty"`
}

// ErrorKind classifies a call failure.
type ErrorKind string

// Failure classifications carried by CallError.
const (
	// ErrorKindUnknownTool reports a call to a name absent from the registry.
	ErrorKindUnknownTool ErrorKind = "unknown_tool"
	// ErrorKindValidation reports arguments that violate the input schema;
	// Path names the offending field.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindHandler wraps a fault raised by the handler itself, carrying
	// the original message.
	ErrorKindHandler ErrorKind = "handler"
	// ErrorKindContract reports a handler result that violates the declared
	// output schema.
	ErrorKindContract ErrorKind = "contract"
	// ErrorKindTimeout reports a call that exceeded its wall-clock budget.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindProtocol reports a malformed or out-of-contract frame.
	ErrorKindProtocol ErrorKind = "protocol"
	// ErrorKindConnectionClosed resolves calls that were pending when the
	// connection went away.
	ErrorKindConnectionClosed ErrorKind = "connection_closed"
	// ErrorKindCancelled reports a call cancelled before completion.
	ErrorKindCancelled ErrorKind = "cancelled"
)

// CallError is the typed failure outcome of a call. It travels on the wire
// inside result frames and doubles as the error value returned by the client
// and the sandbox.
type CallError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Path locates the offending field for validation errors.
	Path string `json:"path,omitempty"`
}

func (e *CallError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrDuplicateTool is returned by Registry.Register when a tool name is
// already taken.
var ErrDuplicateTool = errors.New("duplicate tool name")

// KindOfError extracts the ErrorKind from err, unwrapping as needed. It
// returns an empty kind when err carries no CallError.
func KindOfError(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// helloParams is carried in the Args of a hello frame.
type helloParams struct {
	Protocol string `json:"protocol"`
	Info     Info   `json:"info"`
}

// helloResult is carried in the Result answering a hello frame.
type helloResult struct {
	Protocol string `json:"protocol"`
	Info     Info   `json:"info"`
}

// Info identifies a server or client instance.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolInfo is the wire form of a registered tool, produced for discovery
// responses. Schemas are raw JSON schema documents.
type ToolInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ToolList is the discovery snapshot carried in a result frame.
type ToolList struct {
	Tools []ToolInfo `json:"tools"`
}

func encodeMessage(msg Message) ([]byte, error) {
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return bs, nil
}

// decodeMessage parses one frame. Malformed JSON and unknown kinds both
// produce protocol errors so the transport can tear down the offending
// connection without touching others.
func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, &CallError{
			Kind:    ErrorKindProtocol,
			Message: fmt.Sprintf("malformed frame: %s", err),
		}
	}
	switch msg.Kind {
	case KindHello, KindCall, KindResult, KindCancel, KindDiscover, KindPing, KindPong:
	default:
		return Message{}, &CallError{
			Kind:    ErrorKindProtocol,
			Message: fmt.Sprintf("unknown frame kind %q", msg.Kind),
		}
	}
	return msg, nil
}

// UnmarshalJSON accepts both string and number ids.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch vt := v.(type) {
	case string:
		*m = MustString(vt)
	case float64:
		*m = MustString(strconv.FormatFloat(vt, 'f', -1, 64))
	default:
		return fmt.Errorf("invalid id type: %T", v)
	}

	return nil
}

// MarshalJSON emits the id as a JSON string.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}
