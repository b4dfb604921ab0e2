package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/dashboard"
	"github.com/agentmesh/meshbridge/internal/protocol"
	"github.com/agentmesh/meshbridge/internal/state"
)

type fakeUpstream struct {
	mu        sync.Mutex
	connected bool
	sent      []any
	joined    []string
}

func (f *fakeUpstream) Send(cmd any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
}

func (f *fakeUpstream) Join(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channel)
}

func (f *fakeUpstream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeUpstream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeAliasStore struct {
	mu      sync.Mutex
	aliases map[string]string
}

func (f *fakeAliasStore) Set(agentID, alias string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliases == nil {
		f.aliases = make(map[string]string)
	}
	f.aliases[agentID] = alias
	return nil
}

type harness struct {
	bus      *bus.Bus
	hub      *dashboard.Hub
	upstream *fakeUpstream
	aliases  *fakeAliasStore
	server   *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	log := zerolog.Nop()
	b := bus.New()
	hub := dashboard.NewHub(4, log)
	projector := state.NewProjector(state.DefaultHistory, nil)
	up := &fakeUpstream{connected: true}
	aliases := &fakeAliasStore{}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Minute
	}
	br := New(cfg, b, hub, projector, up, aliases, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	go br.Run(ctx)

	srv := httptest.NewServer(dashboard.NewHandler(hub, b, log))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &harness{bus: b, hub: hub, upstream: up, aliases: aliases, server: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return m
}

// readUntil skips heartbeat pings and connectivity frames until a frame
// of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		m := readFrame(t, conn)
		if m["type"] == frameType {
			return m
		}
	}
	t.Fatalf("never received a %q frame", frameType)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientReceivesSnapshotFirst(t *testing.T) {
	h := newHarness(t, Config{})

	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamOpened})
	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: &protocol.ChatMessage{
		ID: "m1", From: "a1", To: "general", Content: "hello", TS: 1000,
	}})
	time.Sleep(100 * time.Millisecond) // let the pipeline drain before connecting

	conn := h.dial(t)

	snap := readFrame(t, conn)
	if snap["type"] != dashboard.TypeStateSync {
		t.Fatalf("first frame type = %v, want state_sync", snap["type"])
	}
	msgs, ok := snap["messages"].(map[string]any)
	if !ok {
		t.Fatalf("state_sync has no messages map: %v", snap["messages"])
	}
	if _, ok := msgs["general"]; !ok {
		t.Error("pre-connect message missing from snapshot")
	}

	status := readFrame(t, conn)
	if status["type"] != dashboard.TypeConnected {
		t.Errorf("second frame type = %v, want connected", status["type"])
	}
}

func TestDeltaAfterSnapshot(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: &protocol.ChatMessage{
		ID: "m2", From: "a1", To: "general", Content: "live", TS: 2000,
	}})

	m := readUntil(t, conn, dashboard.TypeMessage)
	msg, ok := m["message"].(map[string]any)
	if !ok {
		t.Fatalf("message frame payload: %v", m)
	}
	if msg["content"] != "live" {
		t.Errorf("content = %v, want live", msg["content"])
	}
}

func TestLurkModeRejectsMutations(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	for _, cmd := range []map[string]string{
		{"type": "send_message", "to": "general", "content": "hi"},
		{"type": "join_channel", "channel": "dev"},
		{"type": "accept_proposal", "proposalId": "p1"},
		{"type": "set_agent_name", "agentId": "a1", "name": "x"},
	} {
		send(t, conn, cmd)
		e := readUntil(t, conn, dashboard.TypeError)
		if e["code"] != dashboard.CodeLurkMode {
			t.Errorf("%s: code = %v, want LURK_MODE", cmd["type"], e["code"])
		}
	}
	if h.upstream.sentCount() != 0 {
		t.Errorf("lurk-mode commands reached upstream: %d", h.upstream.sentCount())
	}
}

func TestParticipateForwardsUpstream(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	send(t, conn, map[string]string{"type": "set_mode", "mode": "participate"})
	send(t, conn, map[string]any{"type": "send_message", "to": "general", "content": "hi"})
	send(t, conn, map[string]string{"type": "join_channel", "channel": "dev"})

	waitFor(t, "upstream sends", func() bool { return h.upstream.sentCount() >= 1 })
	waitFor(t, "upstream join", func() bool {
		h.upstream.mu.Lock()
		defer h.upstream.mu.Unlock()
		return len(h.upstream.joined) == 1 && h.upstream.joined[0] == "dev"
	})
}

func TestNotConnectedRejection(t *testing.T) {
	h := newHarness(t, Config{})
	h.upstream.mu.Lock()
	h.upstream.connected = false
	h.upstream.mu.Unlock()

	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	send(t, conn, map[string]string{"type": "set_mode", "mode": "participate"})
	send(t, conn, map[string]any{"type": "send_message", "to": "general", "content": "hi"})

	e := readUntil(t, conn, dashboard.TypeError)
	if e["code"] != dashboard.CodeNotConnected {
		t.Errorf("code = %v, want NOT_CONNECTED", e["code"])
	}
}

func TestInvalidCommands(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", `{{{`},
		{"missing type", `{"channel":"dev"}`},
		{"unknown type", `{"type":"frobnicate"}`},
		{"bad mode", `{"type":"set_mode","mode":"admin"}`},
	}
	for _, tt := range tests {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
			t.Fatalf("%s: write: %v", tt.name, err)
		}
		e := readUntil(t, conn, dashboard.TypeError)
		if e["code"] != dashboard.CodeInvalidMessage {
			t.Errorf("%s: code = %v, want INVALID_MESSAGE", tt.name, e["code"])
		}
	}
}

func TestSetAgentName(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	send(t, conn, map[string]string{"type": "set_mode", "mode": "participate"})
	send(t, conn, map[string]string{"type": "set_agent_name", "agentId": "a9", "name": "Scout"})

	m := readUntil(t, conn, dashboard.TypeAgentUpdate)
	agent, ok := m["agent"].(map[string]any)
	if !ok {
		t.Fatalf("agent_update payload: %v", m)
	}
	if agent["name"] != "Scout" {
		t.Errorf("name = %v, want Scout", agent["name"])
	}

	waitFor(t, "alias persisted", func() bool {
		h.aliases.mu.Lock()
		defer h.aliases.mu.Unlock()
		return h.aliases.aliases["a9"] == "Scout"
	})
}

func TestUpstreamStatusBroadcast(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamOpened})
	readUntil(t, conn, dashboard.TypeConnected)

	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamClosed})
	readUntil(t, conn, dashboard.TypeDisconnected)
}

func TestHeartbeatReapsSilentClients(t *testing.T) {
	h := newHarness(t, Config{HeartbeatInterval: 50 * time.Millisecond, PongTimeout: 150 * time.Millisecond})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)
	readUntil(t, conn, dashboard.TypePing)

	// Never ponging gets this client reaped.
	waitFor(t, "client reaped", func() bool { return h.hub.Count() == 0 })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestPongKeepsClientAlive(t *testing.T) {
	h := newHarness(t, Config{HeartbeatInterval: 50 * time.Millisecond, PongTimeout: 200 * time.Millisecond})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		m := readFrame(t, conn)
		if m["type"] == dashboard.TypePing {
			send(t, conn, map[string]string{"type": "pong"})
		}
	}
	if h.hub.Count() != 1 {
		t.Errorf("Count = %d, want 1 (ponging client reaped)", h.hub.Count())
	}
}

func TestJoinedTriggersRosterRequest(t *testing.T) {
	h := newHarness(t, Config{})

	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: &protocol.Joined{Channel: "dev"}})

	waitFor(t, "roster request", func() bool { return h.upstream.sentCount() >= 1 })
	h.upstream.mu.Lock()
	defer h.upstream.mu.Unlock()
	la, ok := h.upstream.sent[0].(protocol.ListAgents)
	if !ok {
		t.Fatalf("sent[0] is %T, want protocol.ListAgents", h.upstream.sent[0])
	}
	if la.Channel != "dev" {
		t.Errorf("Channel = %q, want dev", la.Channel)
	}
}

func TestDuplicateUpstreamFrameSuppressed(t *testing.T) {
	h := newHarness(t, Config{})
	conn := h.dial(t)
	readUntil(t, conn, dashboard.TypeStateSync)

	ev := &protocol.ChatMessage{ID: "m1", From: "a1", To: "general", Content: "once", TS: 1000}
	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: ev})
	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: ev})
	h.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: &protocol.ChatMessage{
		ID: "m2", From: "a1", To: "general", Content: "marker", TS: 2000,
	}})

	first := readUntil(t, conn, dashboard.TypeMessage)
	second := readUntil(t, conn, dashboard.TypeMessage)

	firstMsg := first["message"].(map[string]any)
	secondMsg := second["message"].(map[string]any)
	if firstMsg["content"] != "once" || secondMsg["content"] != "marker" {
		t.Errorf("duplicate delivered: %v then %v", firstMsg["content"], secondMsg["content"])
	}
}
