package dashboard

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmesh/meshbridge/internal/bus"
)

func dialTest(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandlerRejectsWhenFull(t *testing.T) {
	hub := NewHub(1, testLogger())
	b := bus.New()
	srv := httptest.NewServer(NewHandler(hub, b, testLogger()))
	defer srv.Close()

	dialTest(t, srv)

	// The slot is taken asynchronously; wait for the registry to see it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := dialTest(t, srv)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame ErrorFrame
	if err := second.ReadJSON(&frame); err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	if frame.Code != CodeServerFull {
		t.Errorf("code = %q, want SERVER_FULL", frame.Code)
	}
	// The connection closes right after; the registry never grew.
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("rejected connection left open")
	}
	if hub.Count() != 1 {
		t.Errorf("Count = %d, want 1", hub.Count())
	}
}

func TestHandlerPublishesCommands(t *testing.T) {
	hub := NewHub(2, testLogger())
	b := bus.New()
	srv := httptest.NewServer(NewHandler(hub, b, testLogger()))
	defer srv.Close()

	conn := dialTest(t, srv)

	var attach bus.Session
	select {
	case attach = <-b.Sessions():
	case <-time.After(2 * time.Second):
		t.Fatal("no attach notification")
	}
	if attach.Kind != bus.SessionAttached {
		t.Fatalf("Kind = %v, want SessionAttached", attach.Kind)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cmd := <-b.Commands():
		if cmd.SessionID != attach.SessionID {
			t.Errorf("SessionID = %q, want %q", cmd.SessionID, attach.SessionID)
		}
		if string(cmd.Raw) != `{"type":"pong"}` {
			t.Errorf("Raw = %s", cmd.Raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command published")
	}

	conn.Close()
	select {
	case detach := <-b.Sessions():
		if detach.Kind != bus.SessionDetached {
			t.Errorf("Kind = %v, want SessionDetached", detach.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no detach notification")
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Error("session still registered after disconnect")
	}
}
