package toolrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	blob := []byte{0x00, 0x01, 0xFE, 0xFF}
	blobBs, err := json.Marshal(blob)
	if err != nil {
		t.Fatalf("failed to marshal blob: %v", err)
	}

	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "call with nested arguments",
			msg: Message{
				Kind: KindCall,
				ID:   MustString("42"),
				Tool: "echo",
				Args: json.RawMessage(`{"outer":{"inner":[1,2,{"deep":true}],"text":"x"},"n":3.5}`),
			},
		},
		{
			name: "call with binary blob argument",
			msg: Message{
				Kind: KindCall,
				ID:   MustString("blob-1"),
				Tool: "store",
				Args: json.RawMessage(fmt.Sprintf(`{"data":%s}`, blobBs)),
			},
		},
		{
			name: "successful result",
			msg: Message{
				Kind:   KindResult,
				ID:     MustString("42"),
				Result: json.RawMessage(`{"items":[null,"a",[]]}`),
			},
		},
		{
			name: "failure result with path",
			msg: Message{
				Kind: KindResult,
				ID:   MustString("42"),
				Error: &CallError{
					Kind:    ErrorKindValidation,
					Message: "expected integer",
					Path:    "/count",
				},
			},
		},
		{
			name: "cancel notice",
			msg: Message{
				Kind: KindCancel,
				ID:   MustString("42"),
			},
		},
		{
			name: "discovery request",
			msg: Message{
				Kind: KindDiscover,
				ID:   MustString("d-1"),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := encodeMessage(tc.msg)
			if err != nil {
				t.Fatalf("failed to encode message: %v", err)
			}

			decoded, err := decodeMessage(encoded)
			if err != nil {
				t.Fatalf("failed to decode message: %v", err)
			}

			if decoded.Kind != tc.msg.Kind {
				t.Errorf("kind mismatch. Got %s, want %s", decoded.Kind, tc.msg.Kind)
			}
			if decoded.ID != tc.msg.ID {
				t.Errorf("id mismatch. Got %s, want %s", decoded.ID, tc.msg.ID)
			}
			if decoded.Tool != tc.msg.Tool {
				t.Errorf("tool mismatch. Got %s, want %s", decoded.Tool, tc.msg.Tool)
			}
			if !jsonEqual(t, decoded.Args, tc.msg.Args) {
				t.Errorf("args mismatch. Got %s, want %s", decoded.Args, tc.msg.Args)
			}
			if !jsonEqual(t, decoded.Result, tc.msg.Result) {
				t.Errorf("result mismatch. Got %s, want %s", decoded.Result, tc.msg.Result)
			}
			if (decoded.Error == nil) != (tc.msg.Error == nil) {
				t.Fatalf("error presence mismatch. Got %v, want %v", decoded.Error, tc.msg.Error)
			}
			if decoded.Error != nil && *decoded.Error != *tc.msg.Error {
				t.Errorf("error mismatch. Got %+v, want %+v", *decoded.Error, *tc.msg.Error)
			}
		})
	}
}

func TestDecodeMessageRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `{"kind":"call"`},
		{name: "wrong top-level type", frame: `[1,2,3]`},
		{name: "missing kind", frame: `{"id":"1","tool":"echo"}`},
		{name: "unknown kind", frame: `{"kind":"subscribe","id":"1"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeMessage([]byte(tc.frame))
			if err == nil {
				t.Fatal("expected decode error, got nil")
			}

			var ce *CallError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CallError, got %T", err)
			}
			if ce.Kind != ErrorKindProtocol {
				t.Errorf("expected protocol error kind, got %s", ce.Kind)
			}
		})
	}
}

func TestMustStringAcceptsNumericIDs(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"kind":"call","id":7,"tool":"echo","args":{}}`))
	if err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if msg.ID != MustString("7") {
		t.Errorf("expected id 7, got %s", msg.ID)
	}

	encoded, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("failed to encode message: %v", err)
	}
	if !bytes.Contains(encoded, []byte(`"id":"7"`)) {
		t.Errorf("expected string id in %s", encoded)
	}
}

func TestKindOfError(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", &CallError{Kind: ErrorKindTimeout, Message: "too slow"})
	if kind := KindOfError(wrapped); kind != ErrorKindTimeout {
		t.Errorf("expected timeout kind, got %s", kind)
	}
	if kind := KindOfError(errors.New("plain")); kind != "" {
		t.Errorf("expected empty kind, got %s", kind)
	}
}

func jsonEqual(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()

	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}

	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("failed to unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("failed to unmarshal %s: %v", b, err)
	}

	abs, _ := json.Marshal(av)
	bbs, _ := json.Marshal(bv)
	return bytes.Equal(abs, bbs)
}
