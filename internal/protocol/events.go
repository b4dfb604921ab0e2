// Package protocol defines the wire format spoken with the upstream
// agent-mesh server: one JSON object per frame, discriminated by a
// "type" field. Decoding is a closed step: frames with an unknown or
// missing type never reach the state pipeline.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type tags sent by the upstream server.
const (
	TypeWelcome       = "WELCOME"
	TypeMsg           = "MSG"
	TypeChannels      = "CHANNELS"
	TypeJoined        = "JOINED"
	TypeAgents        = "AGENTS"
	TypeAgentJoined   = "AGENT_JOINED"
	TypeAgentLeft     = "AGENT_LEFT"
	TypeProposal      = "PROPOSAL"
	TypeAccept        = "ACCEPT"
	TypeReject        = "REJECT"
	TypeComplete      = "COMPLETE"
	TypeDispute       = "DISPUTE"
	TypeSearchResults = "SEARCH_RESULTS"
	TypeError         = "ERROR"
	TypePong          = "PONG"
)

// ErrUnknownType is returned for frames whose type tag is not recognized.
// Callers log and drop these; they are never fatal.
var ErrUnknownType = errors.New("protocol: unknown frame type")

// Event is implemented by every decoded upstream frame.
type Event interface {
	EventType() string
}

// Welcome is the registration acknowledgement carrying our own identity.
type Welcome struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// ChatMessage is a chat message delivered to a channel. ID may be empty
// for servers that do not assign message ids.
type ChatMessage struct {
	ID      string `json:"id,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// ChannelInfo is one entry in a CHANNELS listing.
type ChannelInfo struct {
	Name   string `json:"name"`
	Agents int    `json:"agents"`
}

// ChannelList is the authoritative listing of public channels.
type ChannelList struct {
	List []ChannelInfo `json:"list"`
}

// Joined confirms that our own join of a channel took effect.
type Joined struct {
	Channel string `json:"channel"`
}

// AgentInfo is one entry in an AGENTS roster.
type AgentInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Presence string `json:"presence,omitempty"`
}

// AgentList is the authoritative roster of a single channel.
type AgentList struct {
	Channel string      `json:"channel"`
	List    []AgentInfo `json:"list"`
}

// AgentJoined announces an agent entering a channel.
type AgentJoined struct {
	Agent   string `json:"agent"`
	Channel string `json:"channel"`
	Name    string `json:"name,omitempty"`
}

// AgentLeft announces an agent leaving a channel.
type AgentLeft struct {
	Agent   string `json:"agent"`
	Channel string `json:"channel"`
}

// Proposal creates or updates a work proposal between two agents.
type Proposal struct {
	ProposalID string  `json:"proposal_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Task       string  `json:"task"`
	Amount     float64 `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Status     string  `json:"status,omitempty"`
	TS         int64   `json:"ts"`
}

// ProposalAction advances a proposal through its lifecycle. Kind is one
// of TypeAccept, TypeReject, TypeComplete or TypeDispute.
type ProposalAction struct {
	Kind       string `json:"-"`
	ProposalID string `json:"proposal_id"`
	TS         int64  `json:"ts,omitempty"`
}

// SkillResult is one hit from a skill search.
type SkillResult struct {
	Agent string  `json:"agent"`
	Name  string  `json:"name,omitempty"`
	Skill string  `json:"skill"`
	Score float64 `json:"score,omitempty"`
}

// SearchResults carries the full result set of a skill search. The
// upstream always returns a complete set, never an incremental diff.
type SearchResults struct {
	Results []SkillResult `json:"results"`
}

// ServerError is a protocol-level error report from the upstream.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pong answers our keepalive ping.
type Pong struct{}

func (Welcome) EventType() string          { return TypeWelcome }
func (ChatMessage) EventType() string      { return TypeMsg }
func (ChannelList) EventType() string      { return TypeChannels }
func (Joined) EventType() string           { return TypeJoined }
func (AgentList) EventType() string        { return TypeAgents }
func (AgentJoined) EventType() string      { return TypeAgentJoined }
func (AgentLeft) EventType() string        { return TypeAgentLeft }
func (Proposal) EventType() string         { return TypeProposal }
func (a ProposalAction) EventType() string { return a.Kind }
func (SearchResults) EventType() string    { return TypeSearchResults }
func (ServerError) EventType() string      { return TypeError }
func (Pong) EventType() string             { return TypePong }

type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses one upstream frame into its typed event. Unknown
// type tags return ErrUnknownType so the caller can drop the frame
// without treating it as corruption.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	decode := func(v Event) (Event, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("protocol: bad %s frame: %w", env.Type, err)
		}
		return v, nil
	}

	switch env.Type {
	case TypeWelcome:
		return decode(&Welcome{})
	case TypeMsg:
		return decode(&ChatMessage{})
	case TypeChannels:
		return decode(&ChannelList{})
	case TypeJoined:
		return decode(&Joined{})
	case TypeAgents:
		return decode(&AgentList{})
	case TypeAgentJoined:
		return decode(&AgentJoined{})
	case TypeAgentLeft:
		return decode(&AgentLeft{})
	case TypeProposal:
		return decode(&Proposal{})
	case TypeAccept, TypeReject, TypeComplete, TypeDispute:
		action := &ProposalAction{Kind: env.Type}
		if err := json.Unmarshal(data, action); err != nil {
			return nil, fmt.Errorf("protocol: bad %s frame: %w", env.Type, err)
		}
		return action, nil
	case TypeSearchResults:
		return decode(&SearchResults{})
	case TypeError:
		return decode(&ServerError{})
	case TypePong:
		return &Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
