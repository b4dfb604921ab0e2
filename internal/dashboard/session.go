package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Mode is the per-connection authorization level.
type Mode string

const (
	// ModeLurk is read-only: the client receives state but may not send
	// commands that mutate shared state.
	ModeLurk Mode = "lurk"
	// ModeParticipate allows the full command set.
	ModeParticipate Mode = "participate"
)

// ValidMode reports whether m names a known mode.
func ValidMode(m Mode) bool { return m == ModeLurk || m == ModeParticipate }

const (
	sendQueueDepth = 64
	writeTimeout   = 10 * time.Second

	// Command rate limit per session.
	commandRate  = 10 // tokens per second
	commandBurst = 20
)

// Session is one downstream client connection. Sends go through a
// bounded queue drained by a single writer goroutine; a full queue
// means the frame is dropped for that client only (best-effort, never
// queued unboundedly, never blocking the broadcaster).
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  zerolog.Logger

	mu       sync.Mutex
	mode     Mode
	filter   map[string]struct{}
	lastPong time.Time
	synced   bool

	bucket *tokenBucket
}

// NewSession wraps an accepted connection. New sessions start in lurk
// mode; clients opt into participate explicitly.
func NewSession(conn *websocket.Conn, log zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, sendQueueDepth),
		done:     make(chan struct{}),
		log:      log.With().Str("session", id).Logger(),
		mode:     ModeLurk,
		lastPong: time.Now(),
		bucket:   newTokenBucket(commandRate, commandBurst),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the current authorization mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the authorization mode.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// SetFilter replaces the channel subscription filter. An empty filter
// subscribes to everything.
func (s *Session) SetFilter(channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(channels) == 0 {
		s.filter = nil
		return
	}
	s.filter = make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		s.filter[ch] = struct{}{}
	}
}

// Subscribed reports whether a delta scoped to channel should reach
// this client. Unscoped deltas always match.
func (s *Session) Subscribed(channel string) bool {
	if channel == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[channel]
	return ok
}

// MarkPong records a heartbeat acknowledgement.
func (s *Session) MarkPong(now time.Time) {
	s.mu.Lock()
	s.lastPong = now
	s.mu.Unlock()
}

// LastPong returns the time of the last heartbeat acknowledgement.
func (s *Session) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

// MarkSynced flags that the initial state_sync has been queued; deltas
// are withheld until then so a client never sees a delta it cannot
// anchor to a snapshot.
func (s *Session) MarkSynced() {
	s.mu.Lock()
	s.synced = true
	s.mu.Unlock()
}

// Synced reports whether the initial snapshot has been queued.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// Allow consumes one command token, reporting whether the session is
// within its rate limit.
func (s *Session) Allow() bool {
	return s.bucket.allow(time.Now())
}

// Send marshals v and queues it best-effort. Frames to a closed or
// backed-up session are dropped.
func (s *Session) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal outbound frame")
		return
	}
	s.enqueue(data)
}

func (s *Session) enqueue(data []byte) {
	select {
	case <-s.done:
	case s.send <- data:
	default:
		s.log.Debug().Msg("send queue full, dropping frame")
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// run drains the send queue onto the wire. It is the only writer for
// this connection.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		}
	}
}

// tokenBucket is a minimal in-process token bucket, one per session.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	rate   float64
	burst  float64
	last   time.Time
}

func newTokenBucket(rate, burst float64) *tokenBucket {
	return &tokenBucket{tokens: burst, rate: rate, burst: burst, last: time.Now()}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
