// Package state holds the canonical in-memory projection of the
// upstream network: agents, channels, bounded message history,
// proposals, skills and the derived leaderboard. All mutation goes
// through Projector.Apply inside the single bridge pipeline; the rest
// of the process only ever sees immutable snapshots and deltas.
package state

import "time"

// Agent is a participant on the network. Agents are created on first
// reference and never deleted, only marked offline.
type Agent struct {
	ID       string
	Name     string
	Alias    string // local display-name override, wins over Name
	Channels map[string]struct{}
	Online   bool
	LastSeen time.Time
	Presence string
}

// DisplayName returns the alias when one is set, else the upstream name.
func (a *Agent) DisplayName() string {
	if a.Alias != "" {
		return a.Alias
	}
	return a.Name
}

// Channel is a chat room with its bounded message history.
type Channel struct {
	Name       string
	Members    map[string]struct{}
	AgentCount int // upstream hint; may exceed len(Members) before a roster arrives
	History    *MessageRing
}

// Message is one stored chat message. Immutable once stored; eviction
// is FIFO through the channel ring.
type Message struct {
	Key     string // dedup key: server id, or synthesized
	ID      string
	From    string
	Channel string
	Content string
	TS      int64
}

// ProposalStatus enumerates the proposal/dispute lifecycle.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusAccepted  ProposalStatus = "accepted"
	StatusRejected  ProposalStatus = "rejected"
	StatusCompleted ProposalStatus = "completed"
	StatusDisputed  ProposalStatus = "disputed"
)

// ValidStatus reports whether s names a known lifecycle state.
func ValidStatus(s ProposalStatus) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCompleted, StatusDisputed:
		return true
	}
	return false
}

// CanTransition reports whether a proposal may move from one status to
// another. Transitions only advance: pending fans out to
// accepted/rejected, accepted settles as completed or disputed.
func CanTransition(from, to ProposalStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected
	case StatusAccepted:
		return to == StatusCompleted || to == StatusDisputed
	case StatusRejected, StatusCompleted, StatusDisputed:
		return false
	default:
		return false
	}
}

// Proposal is a work proposal (or the dispute it turned into) between
// two agents. Updated in place by id, never recreated.
type Proposal struct {
	ID        string
	From      string
	To        string
	Task      string
	Amount    float64
	Currency  string
	Status    ProposalStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Skill is one entry of the last skill-search result set. The listing
// is replaced wholesale on every SEARCH_RESULTS frame.
type Skill struct {
	Agent string
	Name  string
	Skill string
	Score float64
}
