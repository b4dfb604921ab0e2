// Package bus serializes every source of state change (upstream
// events, downstream client commands, session lifecycle) into
// ordered streams consumed by the single bridge pipeline goroutine.
// I/O goroutines only ever publish here; they never touch shared state.
package bus

import (
	"encoding/json"

	"github.com/agentmesh/meshbridge/internal/protocol"
)

// UpstreamKind distinguishes connection lifecycle from decoded frames.
type UpstreamKind int

const (
	UpstreamOpened UpstreamKind = iota
	UpstreamClosed
	UpstreamFrame
)

// Upstream is one item from the upstream connector. Event is set only
// for UpstreamFrame.
type Upstream struct {
	Kind  UpstreamKind
	Event protocol.Event
}

// Command is one raw frame read from a downstream client. The pipeline
// resolves SessionID against the registry; a command from a session
// that has since disconnected is simply dropped.
type Command struct {
	SessionID string
	Raw       json.RawMessage
}

// SessionKind distinguishes client attach from detach.
type SessionKind int

const (
	SessionAttached SessionKind = iota
	SessionDetached
)

// Session is a downstream client lifecycle notification.
type Session struct {
	Kind      SessionKind
	SessionID string
}

// Bus carries the three serialized streams. Channels are bounded so a
// flood from one producer applies backpressure instead of growing
// memory without limit.
type Bus struct {
	upstream chan Upstream
	commands chan Command
	sessions chan Session
}

// New creates a bus with default queue depths.
func New() *Bus {
	return &Bus{
		upstream: make(chan Upstream, 256),
		commands: make(chan Command, 256),
		sessions: make(chan Session, 64),
	}
}

// PublishUpstream queues one upstream item, blocking when the pipeline
// is behind. The connector is the only producer, so the order received
// from the wire is the order applied.
func (b *Bus) PublishUpstream(u Upstream) {
	b.upstream <- u
}

// PublishCommand queues one client command.
func (b *Bus) PublishCommand(c Command) {
	b.commands <- c
}

// PublishSession queues a client attach/detach notification.
func (b *Bus) PublishSession(s Session) {
	b.sessions <- s
}

// Upstream returns the upstream stream for the pipeline to select on.
func (b *Bus) Upstream() <-chan Upstream { return b.upstream }

// Commands returns the client command stream.
func (b *Bus) Commands() <-chan Command { return b.commands }

// Sessions returns the session lifecycle stream.
func (b *Bus) Sessions() <-chan Session { return b.sessions }
