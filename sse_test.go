package toolrpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"toolrpc"
)

// sseFixture mounts an SSEServer on an httptest server and returns it with a
// client pointed at the connect endpoint.
func sseFixture(t *testing.T) (toolrpc.SSEServer, *toolrpc.SSEClient, string, func()) {
	t.Helper()

	mux := http.NewServeMux()
	httpSrv := httptest.NewServer(mux)

	messageURL := httpSrv.URL + "/message"
	sseSrv := toolrpc.NewSSEServer(messageURL)
	mux.Handle("/sse", sseSrv.HandleSSE())
	mux.Handle("/message", sseSrv.HandleMessage())

	client := toolrpc.NewSSEClient(httpSrv.URL+"/sse", httpSrv.Client())

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseSrv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shut down SSE server: %v", err)
		}
		httpSrv.Close()
	}
	return sseSrv, client, messageURL, cleanup
}

func TestSSERoundTrip(t *testing.T) {
	sseSrv, client, _, cleanup := sseFixture(t)
	defer cleanup()

	serverSessions := make(chan toolrpc.Session, 1)
	go func() {
		for sess := range sseSrv.Sessions() {
			serverSessions <- sess
		}
	}()

	clientSess, err := client.StartSession(context.Background())
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	var serverSess toolrpc.Session
	select {
	case serverSess = <-serverSessions:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server session")
	}
	if serverSess.ID() == "" {
		t.Error("expected non-empty session id")
	}

	serverReceived := make(chan toolrpc.Message, 1)
	go func() {
		for msg := range serverSess.Messages() {
			serverReceived <- msg
		}
	}()
	clientReceived := make(chan toolrpc.Message, 1)
	go func() {
		for msg := range clientSess.Messages() {
			clientReceived <- msg
		}
	}()

	// Client posts a call to the announced endpoint.
	call := toolrpc.Message{
		Kind: toolrpc.KindCall,
		ID:   toolrpc.MustString("1"),
		Tool: "echo",
		Args: json.RawMessage(`{"text":"over sse"}`),
	}
	if err := clientSess.Send(context.Background(), call); err != nil {
		t.Fatalf("failed to send call: %v", err)
	}

	select {
	case msg := <-serverReceived:
		if msg.Kind != toolrpc.KindCall || msg.Tool != "echo" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for call on server side")
	}

	// Server streams the result back over the event source.
	result := toolrpc.Message{
		Kind:   toolrpc.KindResult,
		ID:     toolrpc.MustString("1"),
		Result: json.RawMessage(`{"text":"over sse"}`),
	}
	if err := serverSess.Send(context.Background(), result); err != nil {
		t.Fatalf("failed to send result: %v", err)
	}

	select {
	case msg := <-clientReceived:
		if msg.Kind != toolrpc.KindResult || msg.ID != toolrpc.MustString("1") {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result on client side")
	}

	clientSess.Stop()
	serverSess.Stop()
}

func TestSSEHandleMessageRejectsBadRequests(t *testing.T) {
	sseSrv, _, messageURL, cleanup := sseFixture(t)
	defer cleanup()

	go func() {
		for range sseSrv.Sessions() {
		}
	}()

	// Both checks run before session lookup, so no live session is needed.
	resp, err := http.Post(messageURL, "application/json", strings.NewReader(`{"kind":"ping","id":"1"}`))
	if err != nil {
		t.Fatalf("failed to post frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without sessionID, got %d", resp.StatusCode)
	}

	resp, err = http.Post(messageURL+"?sessionID=ghost", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("failed to post frame: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 on malformed frame, got %d", resp.StatusCode)
	}
}

func TestSSEStartSessionConnectFailure(t *testing.T) {
	client := toolrpc.NewSSEClient("http://127.0.0.1:0/sse", nil)

	if _, err := client.StartSession(context.Background()); err == nil {
		t.Error("expected connect failure, got nil")
	}
}
