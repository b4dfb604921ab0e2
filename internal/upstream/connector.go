// Package upstream owns the single outbound connection to the
// agent-mesh server. It turns the wire into typed events on the bus,
// reconnects with doubling backoff, and replays the identity handshake
// plus channel joins after every reconnect so state is not silently
// lost.
package upstream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/metrics"
	"github.com/agentmesh/meshbridge/internal/protocol"
)

// DefaultPingInterval is how often the keepalive PING is sent while
// connected.
const DefaultPingInterval = 20 * time.Second

// Config configures the connector.
type Config struct {
	URL          string
	Name         string
	Pubkey       string
	AutoJoin     []string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	PingInterval time.Duration
}

// Connector maintains the upstream connection. Send is safe from any
// goroutine and is a deliberate no-op while disconnected: callers must
// never assume delivery.
type Connector struct {
	cfg Config
	bus *bus.Bus
	log zerolog.Logger

	dialer *websocket.Dialer

	mu     sync.Mutex // guards conn and joined
	conn   *websocket.Conn
	joined map[string]struct{}

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

// New creates a connector; Run must be called to start it.
func New(cfg Config, b *bus.Bus, log zerolog.Logger) *Connector {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	c := &Connector{
		cfg:    cfg,
		bus:    b,
		log:    log.With().Str("component", "upstream").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		joined: make(map[string]struct{}),
	}
	for _, ch := range cfg.AutoJoin {
		if ch != "" {
			c.joined[ch] = struct{}{}
		}
	}
	return c
}

// Run dials, reads and reconnects until ctx is cancelled. Connector
// errors are logged and retried; they are never fatal to the process.
func (c *Connector) Run(ctx context.Context) {
	bo := newBackoff(c.cfg.ReconnectMin, c.cfg.ReconnectMax)

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := bo.Next()
			metrics.UpstreamReconnects.Inc()
			c.log.Warn().Err(err).Dur("retry_in", delay).Msg("upstream dial failed")
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		bo.Reset()
		c.setConn(conn)
		metrics.UpstreamConnected.Set(1)
		c.log.Info().Str("url", c.cfg.URL).Msg("upstream connected")

		c.handshake()
		c.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamOpened})

		c.readLoop(ctx, conn)

		c.setConn(nil)
		metrics.UpstreamConnected.Set(0)
		c.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamClosed})

		if ctx.Err() != nil {
			return
		}
		delay := bo.Next()
		metrics.UpstreamReconnects.Inc()
		c.log.Warn().Dur("retry_in", delay).Msg("upstream connection lost")
		if !sleep(ctx, delay) {
			return
		}
	}
}

// handshake re-establishes identity and membership after every open:
// IDENTIFY, a JOIN per known channel, then a channel listing refresh.
func (c *Connector) handshake() {
	c.Send(protocol.NewIdentify(c.cfg.Name, c.cfg.Pubkey))
	for _, ch := range c.JoinedChannels() {
		c.Send(protocol.NewJoin(ch))
	}
	c.Send(protocol.NewListChannels())
}

func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	// Unblock the reader on cancellation and drive the keepalive.
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				c.Send(protocol.NewPing())
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("upstream read failed")
			}
			return
		}

		ev, err := protocol.DecodeEvent(payload)
		if err != nil {
			// Fail closed: unknown or malformed frames are dropped,
			// never applied.
			if errors.Is(err, protocol.ErrUnknownType) {
				c.log.Debug().Err(err).Msg("ignoring unknown upstream frame")
			} else {
				c.log.Warn().Err(err).Msg("ignoring malformed upstream frame")
			}
			continue
		}
		c.bus.PublishUpstream(bus.Upstream{Kind: bus.UpstreamFrame, Event: ev})
	}
}

// Send transmits one command if currently connected; otherwise it does
// nothing.
func (c *Connector) Send(cmd any) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(cmd); err != nil {
		c.log.Warn().Err(err).Msg("upstream write failed")
	}
}

// Join records channel as joined (so it is re-joined after reconnects)
// and sends the JOIN command if connected.
func (c *Connector) Join(channel string) {
	if channel == "" {
		return
	}
	c.mu.Lock()
	c.joined[channel] = struct{}{}
	c.mu.Unlock()
	c.Send(protocol.NewJoin(channel))
}

// JoinedChannels returns the channels known to be joined, sorted.
func (c *Connector) JoinedChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joined))
	for ch := range c.joined {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether the upstream connection is currently open.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close attempts one clean disconnect; used at shutdown.
func (c *Connector) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
	c.writeMu.Unlock()
	conn.Close()
}

func (c *Connector) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// sleep waits for d unless ctx ends first; it reports whether the wait
// completed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
