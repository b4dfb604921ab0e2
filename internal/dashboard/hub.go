package dashboard

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/meshbridge/internal/metrics"
)

// DefaultMaxClients caps concurrent dashboard connections.
const DefaultMaxClients = 32

// ErrServerFull is returned by Register at the connection cap.
var ErrServerFull = errors.New("dashboard: server full")

// Hub is the client registry and broadcaster. The registry has its own
// lock; the canonical state it fans out lives elsewhere and is only
// ever handed to the hub as published snapshots and deltas.
type Hub struct {
	log zerolog.Logger
	max int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub creates a registry capped at max concurrent clients.
func NewHub(max int, log zerolog.Logger) *Hub {
	if max <= 0 {
		max = DefaultMaxClients
	}
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		max:      max,
		sessions: make(map[string]*Session),
	}
}

// Register adds a session, rejecting with ErrServerFull at capacity.
// The caller must close the rejected connection immediately.
func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.sessions) >= h.max {
		return ErrServerFull
	}
	h.sessions[s.ID()] = s
	metrics.ClientsConnected.Set(float64(len(h.sessions)))
	return nil
}

// Unregister removes a session, freeing its slot. It reports whether
// the session was present.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[id]; !ok {
		return false
	}
	delete(h.sessions, id)
	metrics.ClientsConnected.Set(float64(len(h.sessions)))
	return true
}

// Get looks a session up by id.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Broadcast marshals v once and queues it to every synced session
// whose subscription matches channel. Sessions that cannot accept data
// right now are skipped, so one slow client never blocks the rest.
func (h *Hub) Broadcast(frameType, channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("type", frameType).Msg("marshal broadcast")
		return
	}

	for _, s := range h.snapshot() {
		if !s.Synced() || !s.Subscribed(channel) {
			continue
		}
		s.enqueue(data)
	}
	metrics.BroadcastsSent.WithLabelValues(frameType).Inc()
}

// PingAll queues a heartbeat ping to every session.
func (h *Hub) PingAll(now time.Time) {
	frame := PingFrame{Type: TypePing, TS: now.UnixMilli()}
	for _, s := range h.snapshot() {
		s.Send(frame)
	}
}

// ReapStale force-closes and unregisters every session whose last pong
// is older than timeout, returning the reaped sessions for logging.
func (h *Hub) ReapStale(now time.Time, timeout time.Duration) []*Session {
	var stale []*Session

	h.mu.Lock()
	for id, s := range h.sessions {
		if now.Sub(s.LastPong()) > timeout {
			delete(h.sessions, id)
			stale = append(stale, s)
		}
	}
	metrics.ClientsConnected.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return stale
}

// CloseAll tears down every session, used at shutdown.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		s.Close()
	}
	h.mu.Lock()
	h.sessions = make(map[string]*Session)
	metrics.ClientsConnected.Set(0)
	h.mu.Unlock()
}

// snapshot copies the session list so callers iterate without holding
// the registry lock.
func (h *Hub) snapshot() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}
