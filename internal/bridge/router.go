package bridge

import (
	"encoding/json"

	"github.com/agentmesh/meshbridge/internal/bus"
	"github.com/agentmesh/meshbridge/internal/dashboard"
	"github.com/agentmesh/meshbridge/internal/metrics"
	"github.com/agentmesh/meshbridge/internal/protocol"
	"github.com/agentmesh/meshbridge/internal/state"
)

// participateOnly lists commands that mutate shared state and are
// therefore denied to lurk-mode sessions.
var participateOnly = map[string]bool{
	dashboard.TypeJoinChannel:    true,
	dashboard.TypeSendMessage:    true,
	dashboard.TypeAcceptProposal: true,
	dashboard.TypeSetAgentName:   true,
}

// needsUpstream lists commands that translate into upstream protocol
// messages and so require a live connection.
var needsUpstream = map[string]bool{
	dashboard.TypeJoinChannel:     true,
	dashboard.TypeSendMessage:     true,
	dashboard.TypeRefreshChannels: true,
	dashboard.TypeSearchSkills:    true,
	dashboard.TypeAcceptProposal:  true,
}

// handleCommand validates one client frame and either forwards it
// upstream or applies the local mutation. Validation order: shape,
// mode, connectivity, rate limit. Every rejection is a typed error to
// the offending client only.
func (b *Bridge) handleCommand(cmd bus.Command) {
	sess, ok := b.hub.Get(cmd.SessionID)
	if !ok {
		return // client already gone
	}

	var f dashboard.ClientFrame
	if err := json.Unmarshal(cmd.Raw, &f); err != nil || f.Type == "" {
		b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "malformed command")
		return
	}

	// Heartbeat acks bypass validation entirely.
	if f.Type == dashboard.TypePong {
		sess.MarkPong(b.now())
		return
	}

	if participateOnly[f.Type] && sess.Mode() != dashboard.ModeParticipate {
		b.reject(sess, f.Type, dashboard.CodeLurkMode, "command requires participate mode")
		return
	}
	if needsUpstream[f.Type] && !b.upstream.Connected() {
		b.reject(sess, f.Type, dashboard.CodeNotConnected, "no upstream connection")
		return
	}
	if !sess.Allow() {
		b.reject(sess, f.Type, dashboard.CodeRateLimited, "too many commands")
		return
	}

	switch f.Type {
	case dashboard.TypeSetMode:
		mode := dashboard.Mode(f.Mode)
		if !dashboard.ValidMode(mode) {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "unknown mode")
			return
		}
		sess.SetMode(mode)
		sess.SetFilter(f.Channels)

	case dashboard.TypeJoinChannel:
		if f.Channel == "" {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "missing channel")
			return
		}
		b.upstream.Join(f.Channel)

	case dashboard.TypeSendMessage:
		if f.To == "" || f.Content == "" {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "missing recipient or content")
			return
		}
		// At-most-once: sent exactly here, never retried locally.
		b.upstream.Send(protocol.NewMsg(f.To, f.Content))

	case dashboard.TypeRefreshChannels:
		b.upstream.Send(protocol.NewListChannels())

	case dashboard.TypeSearchSkills:
		if f.Query == "" {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "missing query")
			return
		}
		b.upstream.Send(protocol.NewSearchSkills(f.Query))

	case dashboard.TypeAcceptProposal:
		if f.ProposalID == "" {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "missing proposalId")
			return
		}
		b.upstream.Send(protocol.NewAccept(f.ProposalID))

	case dashboard.TypeSetAgentName:
		if f.AgentID == "" || f.Name == "" {
			b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "missing agentId or name")
			return
		}
		b.setAgentName(f.AgentID, f.Name)

	default:
		b.reject(sess, f.Type, dashboard.CodeInvalidMessage, "unknown command")
		return
	}

	metrics.CommandsHandled.WithLabelValues(f.Type, "ok").Inc()
}

// setAgentName applies the local display-name override: mutate the
// projection, persist to the override store, broadcast the change.
func (b *Bridge) setAgentName(agentID, name string) {
	delta, ok := b.projector.SetAlias(agentID, name)
	if !ok {
		return
	}
	if b.aliases != nil {
		if err := b.aliases.Set(agentID, name); err != nil {
			b.log.Error().Err(err).Str("agent", agentID).Msg("persist alias")
		}
	}
	b.broadcastDeltas([]state.Delta{delta})
}

func (b *Bridge) reject(sess *dashboard.Session, cmdType, code, message string) {
	if cmdType == "" {
		cmdType = "unknown"
	}
	sess.Send(dashboard.NewError(code, message))
	metrics.CommandsHandled.WithLabelValues(cmdType, "rejected").Inc()
}
