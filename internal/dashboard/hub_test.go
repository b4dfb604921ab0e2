package dashboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSession(nil, testLogger())
}

func TestRegisterCapacity(t *testing.T) {
	h := NewHub(2, testLogger())

	s1, s2, s3 := newTestSession(t), newTestSession(t), newTestSession(t)
	if err := h.Register(s1); err != nil {
		t.Fatalf("Register s1: %v", err)
	}
	if err := h.Register(s2); err != nil {
		t.Fatalf("Register s2: %v", err)
	}
	if err := h.Register(s3); err != ErrServerFull {
		t.Fatalf("Register s3 err = %v, want ErrServerFull", err)
	}
	if h.Count() != 2 {
		t.Errorf("Count = %d, want 2", h.Count())
	}

	// A freed slot is reusable.
	if !h.Unregister(s1.ID()) {
		t.Fatal("Unregister s1 = false")
	}
	if err := h.Register(s3); err != nil {
		t.Errorf("Register s3 after free: %v", err)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	h := NewHub(2, testLogger())
	if h.Unregister("nope") {
		t.Error("Unregister unknown id = true")
	}
}

func TestBroadcastSkipsUnsynced(t *testing.T) {
	h := NewHub(4, testLogger())

	synced := newTestSession(t)
	synced.MarkSynced()
	fresh := newTestSession(t)
	h.Register(synced)
	h.Register(fresh)

	h.Broadcast(TypeMessage, "", map[string]string{"type": TypeMessage})

	select {
	case <-synced.send:
	default:
		t.Error("synced session received nothing")
	}
	select {
	case <-fresh.send:
		t.Error("unsynced session received a delta before its snapshot")
	default:
	}
}

func TestBroadcastHonorsFilter(t *testing.T) {
	h := NewHub(4, testLogger())

	all := newTestSession(t)
	all.MarkSynced()
	only := newTestSession(t)
	only.MarkSynced()
	only.SetFilter([]string{"dev"})
	h.Register(all)
	h.Register(only)

	h.Broadcast(TypeMessage, "general", map[string]string{"channel": "general"})

	select {
	case <-all.send:
	default:
		t.Error("unfiltered session missed a channel delta")
	}
	select {
	case <-only.send:
		t.Error("filtered session received an unsubscribed channel")
	default:
	}

	// Unscoped frames reach everyone regardless of filter.
	h.Broadcast(TypeSkillsUpdate, "", map[string]string{"type": TypeSkillsUpdate})
	select {
	case <-only.send:
	default:
		t.Error("filtered session missed an unscoped frame")
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	h := NewHub(2, testLogger())
	s := newTestSession(t)
	s.MarkSynced()
	h.Register(s)

	// Nobody drains the queue: overflow must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendQueueDepth+10; i++ {
			h.Broadcast(TypeMessage, "", map[string]int{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full session queue")
	}
	if len(s.send) != sendQueueDepth {
		t.Errorf("queue len = %d, want %d", len(s.send), sendQueueDepth)
	}
}

func TestReapStale(t *testing.T) {
	h := NewHub(4, testLogger())

	now := time.Now()
	live := newTestSession(t)
	live.MarkPong(now)
	dead := newTestSession(t)
	dead.MarkPong(now.Add(-time.Minute))
	h.Register(live)
	h.Register(dead)

	stale := h.ReapStale(now, 40*time.Second)
	if len(stale) != 1 {
		t.Fatalf("reaped %d sessions, want 1", len(stale))
	}
	if stale[0].ID() != dead.ID() {
		t.Errorf("reaped %s, want %s", stale[0].ID(), dead.ID())
	}
	if h.Count() != 1 {
		t.Errorf("Count = %d, want 1", h.Count())
	}
	select {
	case <-dead.done:
	default:
		t.Error("reaped session not closed")
	}
}

func TestSessionModeDefaultsToLurk(t *testing.T) {
	s := newTestSession(t)
	if s.Mode() != ModeLurk {
		t.Errorf("Mode = %q, want lurk", s.Mode())
	}
	s.SetMode(ModeParticipate)
	if s.Mode() != ModeParticipate {
		t.Errorf("Mode = %q, want participate", s.Mode())
	}
}

func TestSessionRateLimit(t *testing.T) {
	s := newTestSession(t)

	allowed := 0
	for i := 0; i < commandBurst+5; i++ {
		if s.Allow() {
			allowed++
		}
	}
	if allowed != commandBurst {
		t.Errorf("allowed = %d, want %d", allowed, commandBurst)
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	s := newTestSession(t)
	s.Close()
	s.Close() // idempotent
	s.Send(map[string]string{"type": "x"})
	if len(s.send) != 0 {
		t.Error("frame queued after close")
	}
}

func TestSendMarshalsJSON(t *testing.T) {
	s := newTestSession(t)
	s.Send(NewError(CodeLurkMode, "read-only"))

	select {
	case data := <-s.send:
		var got map[string]any
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("queued frame is not JSON: %v", err)
		}
		if got["code"] != CodeLurkMode {
			t.Errorf("code = %v, want %s", got["code"], CodeLurkMode)
		}
	default:
		t.Fatal("nothing queued")
	}
}
