package roomclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kodescrux/collab/pkg/protocol"

	"github.com/gorilla/websocket"
)

// wsTestServer runs handler once per incoming socket.
func wsTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/rooms/") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// delayRecorder captures scheduled delays and runs callbacks almost
// immediately, keeping reconnect tests off the wall clock.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) afterFunc(d time.Duration, fn func()) *time.Timer {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return time.AfterFunc(time.Millisecond, fn)
}

func (r *delayRecorder) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestConnectDialFailure(t *testing.T) {
	s := New(Options{BaseURL: "http://127.0.0.1:1"})

	err := s.Connect(context.Background(), "room1", "Alice")
	if err == nil {
		t.Fatal("expected connect error")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %T, want *ConnectionError", err)
	}
}

func TestReconnectBackoffAndCeiling(t *testing.T) {
	// The server drops every socket right after the join frame, so every
	// close is abnormal.
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	rec := &delayRecorder{}
	s := New(Options{BaseURL: srv.URL, ReconnectBase: 10 * time.Millisecond})
	s.afterFunc = rec.afterFunc

	if err := s.Connect(context.Background(), "room1", "Alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for len(rec.snapshot()) < defaultMaxReconnects {
		select {
		case <-deadline:
			t.Fatalf("reconnect attempts = %d, want %d", len(rec.snapshot()), defaultMaxReconnects)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Past the ceiling no further attempt may be scheduled.
	time.Sleep(200 * time.Millisecond)
	delays := rec.snapshot()
	if len(delays) != defaultMaxReconnects {
		t.Fatalf("attempts past ceiling: %d", len(delays))
	}
	for i, d := range delays {
		want := time.Duration(i+1) * 10 * time.Millisecond
		if d != want {
			t.Fatalf("attempt %d delay = %v, want %v", i+1, d, want)
		}
		if i > 0 && d <= delays[i-1] {
			t.Fatalf("delays not strictly increasing: %v", delays)
		}
	}
}

func TestExhaustedReconnectsMarkDisconnected(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	rec := &delayRecorder{}
	var mu sync.Mutex
	callbacks := 0
	s := New(Options{
		BaseURL:       srv.URL,
		ReconnectBase: 5 * time.Millisecond,
		MaxReconnects: 2,
		OnDisconnect: func() {
			mu.Lock()
			callbacks++
			mu.Unlock()
		},
	})
	s.afterFunc = rec.afterFunc

	if err := s.Connect(context.Background(), "room1", "Alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for !s.State().Disconnected() {
		select {
		case <-deadline:
			t.Fatal("session never reported disconnected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if s.IsConnected() {
		t.Fatal("IsConnected reports an open socket after giving up")
	}
	if delays := rec.snapshot(); len(delays) != 2 {
		t.Fatalf("reconnect attempts = %d, want 2", len(delays))
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	n := callbacks
	mu.Unlock()
	if n != 1 {
		t.Fatalf("OnDisconnect invocations = %d, want 1", n)
	}
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		// Give the client a chance to read the close frame.
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	rec := &delayRecorder{}
	s := New(Options{BaseURL: srv.URL})
	s.afterFunc = rec.afterFunc

	if err := s.Connect(context.Background(), "room1", "Alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if delays := rec.snapshot(); len(delays) != 0 {
		t.Fatalf("reconnects after normal close: %v", delays)
	}
}

func TestSendWithoutSocketIsDropped(t *testing.T) {
	s := New(Options{BaseURL: "http://localhost:0"})
	// Must not panic or block.
	s.Send(&protocol.ChatSend{Type: protocol.TypeChatMessage, Message: "into the void"})
}

func TestFatalErrorReturnsToLobby(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteJSON(map[string]string{"type": "error", "message": "Room not found"})
		// Keep the socket open; the client is expected to close it.
		_, _, _ = conn.ReadMessage()
	})

	rec := &delayRecorder{}
	s := New(Options{BaseURL: srv.URL, FatalGrace: 5 * time.Millisecond})
	s.afterFunc = rec.afterFunc

	if err := s.Connect(context.Background(), "missing", "Alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.State().LastError() == "" {
		select {
		case <-deadline:
			t.Fatal("error frame never recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Grace timer fires, transport closes, session is back in the lobby.
	deadline = time.After(2 * time.Second)
	for {
		s.mu.Lock()
		closed := s.conn == nil
		s.mu.Unlock()
		if closed && !s.State().InRoom() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session did not return to lobby after fatal error")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The grace timer is the only scheduled callback; no reconnects.
	if delays := rec.snapshot(); len(delays) != 1 {
		t.Fatalf("scheduled callbacks = %v, want only the grace timer", delays)
	}
}

func TestConnectReplacesPreviousSocket(t *testing.T) {
	var mu sync.Mutex
	sockets := 0
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		sockets++
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	s := New(Options{BaseURL: srv.URL})
	if err := s.Connect(context.Background(), "room1", "Alice"); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := s.Connect(context.Background(), "room2", "Alice"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := sockets
	mu.Unlock()
	if n != 2 {
		t.Fatalf("sockets opened = %d, want 2", n)
	}
	if !s.IsConnected() {
		t.Fatal("IsConnected false with a live socket")
	}

	s.Disconnect()
	s.Disconnect() // idempotent
	if s.IsConnected() {
		t.Fatal("IsConnected true after Disconnect")
	}
}

func TestWSBaseDerivation(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000"},
		{"https://collab.example.com", "wss://collab.example.com"},
	}
	for _, tt := range tests {
		if got := wsBase(Options{BaseURL: tt.base}); got != tt.want {
			t.Fatalf("wsBase(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
