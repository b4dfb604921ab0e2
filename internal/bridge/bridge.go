// Package bridge is the serialized pipeline at the center of the
// process: upstream events, client commands, session lifecycle and
// heartbeat ticks all funnel through one goroutine that owns the
// canonical state. Nothing else reads or writes the projection.
package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/dashboard"
	"github.com/agentmesh/meshbridge/internal/metrics"
	"github.com/agentmesh/meshbridge/internal/protocol"
	"github.com/agentmesh/meshbridge/internal/state"
)

// Heartbeat defaults per the downstream protocol.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPongTimeout       = 40 * time.Second
)

// Upstream is the slice of the connector the pipeline drives.
type Upstream interface {
	Send(cmd any)
	Join(channel string)
	Connected() bool
}

// AliasStore persists display-name overrides.
type AliasStore interface {
	Set(agentID, alias string) error
}

// Exporter mirrors deltas to an external sink.
type Exporter interface {
	Publish(kind, channel string, payload any)
}

// Config tunes the pipeline timers.
type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
}

// Bridge wires the bus, the projection, the client hub and the
// upstream connector together.
type Bridge struct {
	cfg       Config
	bus       *bus.Bus
	hub       *dashboard.Hub
	projector *state.Projector
	upstream  Upstream
	aliases   AliasStore // may be nil
	exporter  Exporter   // may be nil
	log       zerolog.Logger

	upstreamOnline bool
	now            func() time.Time
}

// New assembles the pipeline. aliases and exporter may be nil.
func New(cfg Config, b *bus.Bus, hub *dashboard.Hub, projector *state.Projector,
	up Upstream, aliases AliasStore, exporter Exporter, log zerolog.Logger) *Bridge {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	return &Bridge{
		cfg:       cfg,
		bus:       b,
		hub:       hub,
		projector: projector,
		upstream:  up,
		aliases:   aliases,
		exporter:  exporter,
		log:       log.With().Str("component", "bridge").Logger(),
		now:       time.Now,
	}
}

// Run processes the serialized streams until ctx is cancelled. It is
// the only goroutine that touches the projection.
func (b *Bridge) Run(ctx context.Context) {
	heartbeat := time.NewTicker(b.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			b.hub.CloseAll()
			return
		case u := <-b.bus.Upstream():
			b.handleUpstream(u)
		case cmd := <-b.bus.Commands():
			b.handleCommand(cmd)
		case s := <-b.bus.Sessions():
			b.handleSession(s)
		case <-heartbeat.C:
			b.sweepHeartbeats()
		}
	}
}

func (b *Bridge) handleUpstream(u bus.Upstream) {
	switch u.Kind {
	case bus.UpstreamOpened:
		b.upstreamOnline = true
		b.hub.Broadcast(dashboard.TypeConnected, "", dashboard.StatusFrame{Type: dashboard.TypeConnected})
	case bus.UpstreamClosed:
		b.upstreamOnline = false
		b.hub.Broadcast(dashboard.TypeDisconnected, "", dashboard.StatusFrame{Type: dashboard.TypeDisconnected})
	case bus.UpstreamFrame:
		b.applyEvent(u.Event)
	}
}

func (b *Bridge) applyEvent(ev protocol.Event) {
	if ev == nil {
		return
	}
	if e, ok := ev.(*protocol.ServerError); ok {
		b.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("upstream error")
		return
	}

	metrics.EventsApplied.WithLabelValues(ev.EventType()).Inc()
	deltas := b.projector.Apply(ev)

	// A confirmed join means a channel we have no roster for yet.
	if e, ok := ev.(*protocol.Joined); ok && e.Channel != "" {
		b.upstream.Send(protocol.NewListAgents(e.Channel))
	}

	// A chat message that produced no delta was suppressed by the
	// dedup window (or already sat in the channel buffer).
	if _, isMsg := ev.(*protocol.ChatMessage); isMsg && len(deltas) == 0 {
		metrics.DedupHits.Inc()
	}
	b.broadcastDeltas(deltas)
}

func (b *Bridge) broadcastDeltas(deltas []state.Delta) {
	for _, d := range deltas {
		frame, ok := dashboard.FrameForDelta(d)
		if !ok {
			continue
		}
		b.hub.Broadcast(string(d.Kind), d.Channel, frame)
		if b.exporter != nil {
			b.exporter.Publish(string(d.Kind), d.Channel, d.Payload)
		}
	}
}

func (b *Bridge) handleSession(s bus.Session) {
	switch s.Kind {
	case bus.SessionAttached:
		sess, ok := b.hub.Get(s.SessionID)
		if !ok {
			return // disconnected before the pipeline got here
		}
		// Full snapshot first, then connectivity, then live deltas:
		// the per-session queue preserves this order, and the synced
		// flag withholds deltas until the snapshot is queued.
		sess.Send(dashboard.StateSync{Type: dashboard.TypeStateSync, Snapshot: b.projector.Snapshot()})
		status := dashboard.TypeDisconnected
		if b.upstreamOnline {
			status = dashboard.TypeConnected
		}
		sess.Send(dashboard.StatusFrame{Type: status})
		sess.MarkPong(b.now())
		sess.MarkSynced()
	case bus.SessionDetached:
		b.log.Debug().Str("session", s.SessionID).Msg("session detached")
	}
}

func (b *Bridge) sweepHeartbeats() {
	now := b.now()
	b.hub.PingAll(now)
	for _, sess := range b.hub.ReapStale(now, b.cfg.PongTimeout) {
		b.log.Info().Str("session", sess.ID()).Msg("closing unresponsive client")
	}
}
