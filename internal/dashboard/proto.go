// Package dashboard is the downstream side of the bridge: the client
// registry, the broadcaster and the simplified JSON-over-WebSocket
// protocol spoken with locally connected dashboard clients.
package dashboard

import "github.com/agentmesh/meshbridge/internal/state"

// Server → client frame types.
const (
	TypeStateSync      = "state_sync"
	TypeMessage        = "message"
	TypeAgentUpdate    = "agent_update"
	TypeProposalUpdate = "proposal_update"
	TypeChannelUpdate  = "channel_update"
	TypeSkillsUpdate   = "skills_update"
	TypeConnected      = "connected"
	TypeDisconnected   = "disconnected"
	TypePing           = "ping"
	TypeError          = "error"
)

// Client → server frame types.
const (
	TypeSetMode         = "set_mode"
	TypeJoinChannel     = "join_channel"
	TypeSendMessage     = "send_message"
	TypeRefreshChannels = "refresh_channels"
	TypeSearchSkills    = "search_skills"
	TypeAcceptProposal  = "accept_proposal"
	TypeSetAgentName    = "set_agent_name"
	TypePong            = "pong"
)

// Error codes surfaced to the offending client.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeLurkMode       = "LURK_MODE"
	CodeNotConnected   = "NOT_CONNECTED"
	CodeServerFull     = "SERVER_FULL"
	CodeRateLimited    = "RATE_LIMITED"
)

// StateSync is the one-time full snapshot sent on connect, before any
// delta.
type StateSync struct {
	Type string `json:"type"`
	state.Snapshot
}

// MessageFrame carries one new chat message.
type MessageFrame struct {
	Type    string            `json:"type"`
	Message state.MessageView `json:"message"`
}

// AgentUpdate carries one changed agent.
type AgentUpdate struct {
	Type  string          `json:"type"`
	Agent state.AgentView `json:"agent"`
}

// ProposalUpdate carries one changed proposal.
type ProposalUpdate struct {
	Type     string             `json:"type"`
	Proposal state.ProposalView `json:"proposal"`
}

// ChannelUpdate carries one changed channel.
type ChannelUpdate struct {
	Type    string            `json:"type"`
	Channel state.ChannelView `json:"channel"`
}

// SkillsUpdate replaces the client's skill listing wholesale.
type SkillsUpdate struct {
	Type   string            `json:"type"`
	Skills []state.SkillView `json:"skills"`
}

// StatusFrame reports upstream connectivity (connected/disconnected).
type StatusFrame struct {
	Type string `json:"type"`
}

// PingFrame is the application-level heartbeat.
type PingFrame struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// ErrorFrame is a structured error delivered to exactly the client
// that caused it.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// ClientFrame is the decoded shape of every client → server frame; the
// Type tag decides which fields are meaningful.
type ClientFrame struct {
	Type       string   `json:"type"`
	Mode       string   `json:"mode,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	To         string   `json:"to,omitempty"`
	Content    string   `json:"content,omitempty"`
	Query      string   `json:"query,omitempty"`
	ProposalID string   `json:"proposalId,omitempty"`
	AgentID    string   `json:"agentId,omitempty"`
	Name       string   `json:"name,omitempty"`
	Channels   []string `json:"channels,omitempty"`
}

// FrameForDelta maps a projector delta onto its downstream frame.
func FrameForDelta(d state.Delta) (any, bool) {
	switch d.Kind {
	case state.DeltaMessage:
		if v, ok := d.Payload.(state.MessageView); ok {
			return MessageFrame{Type: TypeMessage, Message: v}, true
		}
	case state.DeltaAgent:
		if v, ok := d.Payload.(state.AgentView); ok {
			return AgentUpdate{Type: TypeAgentUpdate, Agent: v}, true
		}
	case state.DeltaProposal:
		if v, ok := d.Payload.(state.ProposalView); ok {
			return ProposalUpdate{Type: TypeProposalUpdate, Proposal: v}, true
		}
	case state.DeltaChannel:
		if v, ok := d.Payload.(state.ChannelView); ok {
			return ChannelUpdate{Type: TypeChannelUpdate, Channel: v}, true
		}
	case state.DeltaSkills:
		if v, ok := d.Payload.([]state.SkillView); ok {
			return SkillsUpdate{Type: TypeSkillsUpdate, Skills: v}, true
		}
	}
	return nil, false
}
