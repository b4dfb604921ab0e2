package state

import "sort"

// AgentView is the client-facing projection of an Agent.
type AgentView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Channels []string `json:"channels"`
	Online   bool     `json:"online"`
	LastSeen int64    `json:"lastSeen,omitempty"`
	Presence string   `json:"presence,omitempty"`
}

// ChannelView is the client-facing projection of a Channel.
type ChannelView struct {
	Name       string   `json:"name"`
	Agents     []string `json:"agents"`
	AgentCount int      `json:"agentCount"`
}

// MessageView is the client-facing projection of a Message.
type MessageView struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Channel string `json:"channel"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

// ProposalView is the client-facing projection of a Proposal.
type ProposalView struct {
	ID        string  `json:"id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Task      string  `json:"task"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	Status    string  `json:"status"`
	UpdatedAt int64   `json:"updatedAt"`
}

// SkillView is the client-facing projection of a Skill.
type SkillView struct {
	Agent string  `json:"agent"`
	Name  string  `json:"name,omitempty"`
	Skill string  `json:"skill"`
	Score float64 `json:"score,omitempty"`
}

// LeaderboardEntry ranks an agent by completed proposals.
type LeaderboardEntry struct {
	Agent     string `json:"agent"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
}

// Snapshot is the full state sent to a freshly connected client. It is
// a deep copy: once published it never changes.
type Snapshot struct {
	DashboardAgent AgentView                `json:"dashboardAgent"`
	Agents         []AgentView              `json:"agents"`
	Channels       []ChannelView            `json:"channels"`
	Messages       map[string][]MessageView `json:"messages"`
	Proposals      []ProposalView           `json:"proposals"`
	Skills         []SkillView              `json:"skills"`
	Leaderboard    []LeaderboardEntry       `json:"leaderboard"`
}

func agentView(a *Agent) AgentView {
	chs := make([]string, 0, len(a.Channels))
	for name := range a.Channels {
		chs = append(chs, name)
	}
	sort.Strings(chs)

	var lastSeen int64
	if !a.LastSeen.IsZero() {
		lastSeen = a.LastSeen.UnixMilli()
	}
	return AgentView{
		ID:       a.ID,
		Name:     a.DisplayName(),
		Channels: chs,
		Online:   a.Online,
		LastSeen: lastSeen,
		Presence: a.Presence,
	}
}

func channelView(c *Channel) ChannelView {
	members := make([]string, 0, len(c.Members))
	for id := range c.Members {
		members = append(members, id)
	}
	sort.Strings(members)

	count := c.AgentCount
	if len(members) > count {
		count = len(members)
	}
	return ChannelView{Name: c.Name, Agents: members, AgentCount: count}
}

func messageView(m Message) MessageView {
	return MessageView{
		ID:      m.Key,
		From:    m.From,
		Channel: m.Channel,
		Content: m.Content,
		TS:      m.TS,
	}
}

func proposalView(p *Proposal) ProposalView {
	return ProposalView{
		ID:        p.ID,
		From:      p.From,
		To:        p.To,
		Task:      p.Task,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		UpdatedAt: p.UpdatedAt.UnixMilli(),
	}
}

func skillView(s Skill) SkillView {
	return SkillView{Agent: s.Agent, Name: s.Name, Skill: s.Skill, Score: s.Score}
}
