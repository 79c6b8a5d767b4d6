package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rtchat/client/api"
	"rtchat/protocol"
)

type recordingSink struct {
	events chan protocol.Envelope
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan protocol.Envelope, 16)}
}

func (r *recordingSink) sink(env protocol.Envelope) {
	r.events <- env
}

func (r *recordingSink) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-r.events:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return protocol.Envelope{}
}

// setupTestServer accepts one websocket with token "good", hands every
// received frame to frames and lets the test push frames through push.
func setupTestServer(t *testing.T) (url string, frames chan protocol.Envelope, push chan []byte, cleanup func()) {
	t.Helper()
	frames = make(chan protocol.Envelope, 16)
	push = make(chan []byte, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for frame := range push {
				if frame == nil {
					conn.Close()
					return
				}
				conn.WriteMessage(websocket.TextMessage, frame)
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err == nil {
				frames <- env
			}
		}
	}))
	return srv.URL, frames, push, func() {
		close(push)
		srv.Close()
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:4000", "ws://localhost:4000/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/ws"},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("Endpoint(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := Endpoint("ftp://x"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestConnectSendReceive(t *testing.T) {
	url, frames, push, cleanup := setupTestServer(t)
	defer cleanup()

	rec := newRecordingSink()
	client := New(rec.sink, nil)
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	if env := rec.next(t); env.Event != protocol.EventConnect {
		t.Fatalf("Expected connect first, got %q", env.Event)
	}
	if err := client.Connect(context.Background(), url, "good"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}

	if err := client.SendMessage("hi", "u2", "T1"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	select {
	case env := <-frames:
		var msg protocol.SendMessage
		if env.Event != protocol.EventSendMessage || env.Payload(&msg) != nil || msg.TempID != "T1" || msg.RecipientID != "u2" {
			t.Errorf("Unexpected frame %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Server did not receive the frame")
	}

	push <- []byte("not json")
	push <- protocol.MustEncode(protocol.EventTypingStart, protocol.Typing{UserID: "u2"})
	if env := rec.next(t); env.Event != protocol.EventTypingStart {
		t.Errorf("Expected typing:start after the invalid frame was dropped, got %q", env.Event)
	}
}

func TestServerCloseReportsDisconnect(t *testing.T) {
	url, _, push, cleanup := setupTestServer(t)
	defer cleanup()

	rec := newRecordingSink()
	client := New(rec.sink, nil)
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.next(t)

	push <- nil
	if env := rec.next(t); env.Event != protocol.EventDisconnect {
		t.Fatalf("Expected disconnect, got %q", env.Event)
	}
	if client.IsConnected() {
		t.Error("Client should report disconnected")
	}
	if err := client.StartTyping("u2"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnectIsReported(t *testing.T) {
	url, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	rec := newRecordingSink()
	client := New(rec.sink, nil)
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec.next(t)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if env := rec.next(t); env.Event != protocol.EventDisconnect {
		t.Errorf("Expected disconnect, got %q", env.Event)
	}
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Errorf("Reconnect after disconnect failed: %v", err)
	}
	client.Disconnect()
}

func TestConnectUnauthorized(t *testing.T) {
	url, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	client := New(newRecordingSink().sink, nil)
	err := client.Connect(context.Background(), url, "bad")
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if client.IsConnected() {
		t.Error("Client must not be connected")
	}
}

func TestQuickReconnectKeepsNewConnection(t *testing.T) {
	url, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	rec := newRecordingSink()
	client := New(rec.sink, nil)
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := client.Connect(context.Background(), url, "good"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	defer client.Disconnect()

	want := []string{protocol.EventConnect, protocol.EventDisconnect, protocol.EventConnect}
	for i, event := range want {
		if env := rec.next(t); env.Event != event {
			t.Fatalf("Event %d: expected %q, got %q", i, event, env.Event)
		}
	}

	// The first read loop ends after the reconnect and must stay silent.
	select {
	case env := <-rec.events:
		t.Errorf("Unexpected %q after reconnect", env.Event)
	case <-time.After(300 * time.Millisecond):
	}
	if !client.IsConnected() {
		t.Error("Client should still be connected")
	}
}
