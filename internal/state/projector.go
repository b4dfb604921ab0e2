package state

import (
	"sort"
	"time"

	"github.com/agentmesh/meshbridge/internal/dedup"
	"github.com/agentmesh/meshbridge/internal/protocol"
)

// DeltaKind names the downstream frame a delta maps to.
type DeltaKind string

const (
	DeltaMessage  DeltaKind = "message"
	DeltaAgent    DeltaKind = "agent_update"
	DeltaChannel  DeltaKind = "channel_update"
	DeltaProposal DeltaKind = "proposal_update"
	DeltaSkills   DeltaKind = "skills_update"
)

// Delta is one incremental state change to broadcast. Channel scopes
// message deltas for subscription filtering; empty means all clients.
type Delta struct {
	Kind    DeltaKind
	Channel string
	Payload any
}

// Projector owns the canonical model and applies upstream events to it.
// It is not safe for concurrent use: every call must come from the one
// pipeline goroutine.
type Projector struct {
	selfID   string
	selfName string

	agents    map[string]*Agent
	channels  map[string]*Channel
	proposals map[string]*Proposal
	skills    []Skill
	completed map[string]int

	window  *dedup.Window
	history int
	now     func() time.Time
}

// NewProjector creates an empty projection. overrides seeds local
// display-name aliases loaded from the override store; it may be nil.
func NewProjector(history int, overrides map[string]string) *Projector {
	if history <= 0 {
		history = DefaultHistory
	}
	p := &Projector{
		agents:    make(map[string]*Agent),
		channels:  make(map[string]*Channel),
		proposals: make(map[string]*Proposal),
		completed: make(map[string]int),
		window:    dedup.NewWindow(dedup.DefaultCapacity),
		history:   history,
		now:       time.Now,
	}
	for id, alias := range overrides {
		p.agent(id).Alias = alias
	}
	return p
}

// Apply folds one upstream event into the model and returns the deltas
// to broadcast. It is total: events already applied, referencing unknown
// ids, or of unhandled types produce no deltas and never panic.
func (p *Projector) Apply(ev protocol.Event) []Delta {
	switch e := ev.(type) {
	case *protocol.Welcome:
		return p.applyWelcome(e)
	case *protocol.ChatMessage:
		return p.applyMessage(e)
	case *protocol.ChannelList:
		return p.applyChannelList(e)
	case *protocol.Joined:
		return p.applyJoined(e)
	case *protocol.AgentList:
		return p.applyAgentList(e)
	case *protocol.AgentJoined:
		return p.applyAgentJoined(e)
	case *protocol.AgentLeft:
		return p.applyAgentLeft(e)
	case *protocol.Proposal:
		return p.applyProposal(e)
	case *protocol.ProposalAction:
		return p.applyProposalAction(e)
	case *protocol.SearchResults:
		return p.applySearchResults(e)
	default:
		// ERROR and PONG frames carry no state; anything else is a
		// protocol extension we do not know about yet.
		return nil
	}
}

func (p *Projector) applyWelcome(e *protocol.Welcome) []Delta {
	p.selfID = e.AgentID
	p.selfName = e.Name

	a := p.agent(e.AgentID)
	if e.Name != "" {
		a.Name = e.Name
	}
	a.Online = true
	a.LastSeen = p.now()
	return []Delta{{Kind: DeltaAgent, Payload: agentView(a)}}
}

func (p *Projector) applyMessage(e *protocol.ChatMessage) []Delta {
	key := dedup.Key(e.ID, e.TS, e.From, e.Content)
	if p.window.Seen(key) {
		return nil
	}

	ch := p.channel(e.To)
	if ch.History.Has(key) {
		return nil
	}

	sender := p.agent(e.From)
	sender.Online = true
	sender.LastSeen = p.now()

	msg := Message{
		Key:     key,
		ID:      e.ID,
		From:    e.From,
		Channel: e.To,
		Content: e.Content,
		TS:      e.TS,
	}
	ch.History.Push(msg)

	return []Delta{{Kind: DeltaMessage, Channel: e.To, Payload: messageView(msg)}}
}

func (p *Projector) applyChannelList(e *protocol.ChannelList) []Delta {
	var deltas []Delta
	for _, info := range e.List {
		if info.Name == "" {
			continue
		}
		ch := p.channel(info.Name)
		ch.AgentCount = info.Agents
		deltas = append(deltas, Delta{Kind: DeltaChannel, Payload: channelView(ch)})
	}
	return deltas
}

func (p *Projector) applyJoined(e *protocol.Joined) []Delta {
	if e.Channel == "" {
		return nil
	}
	ch := p.channel(e.Channel)
	return []Delta{{Kind: DeltaChannel, Payload: channelView(ch)}}
}

func (p *Projector) applyAgentList(e *protocol.AgentList) []Delta {
	if e.Channel == "" {
		return nil
	}
	ch := p.channel(e.Channel)

	roster := make(map[string]struct{}, len(e.List))
	var deltas []Delta

	for _, info := range e.List {
		if info.ID == "" {
			continue
		}
		roster[info.ID] = struct{}{}

		a := p.agent(info.ID)
		if info.Name != "" {
			a.Name = info.Name
		}
		a.Presence = info.Presence
		a.Online = true
		a.LastSeen = p.now()

		if _, member := ch.Members[info.ID]; !member {
			ch.Members[info.ID] = struct{}{}
			a.Channels[ch.Name] = struct{}{}
			deltas = append(deltas, Delta{Kind: DeltaAgent, Payload: agentView(a)})
		}
	}

	// The roster is authoritative: drop members it no longer lists.
	for id := range ch.Members {
		if _, ok := roster[id]; ok {
			continue
		}
		delete(ch.Members, id)
		a := p.agent(id)
		delete(a.Channels, ch.Name)
		if len(a.Channels) == 0 {
			a.Online = false
		}
		deltas = append(deltas, Delta{Kind: DeltaAgent, Payload: agentView(a)})
	}

	deltas = append(deltas, Delta{Kind: DeltaChannel, Payload: channelView(ch)})
	return deltas
}

func (p *Projector) applyAgentJoined(e *protocol.AgentJoined) []Delta {
	if e.Agent == "" || e.Channel == "" {
		return nil
	}
	a := p.agent(e.Agent)
	if e.Name != "" {
		a.Name = e.Name
	}
	a.Online = true
	a.LastSeen = p.now()

	ch := p.channel(e.Channel)
	ch.Members[e.Agent] = struct{}{}
	a.Channels[e.Channel] = struct{}{}

	return []Delta{
		{Kind: DeltaAgent, Payload: agentView(a)},
		{Kind: DeltaChannel, Payload: channelView(ch)},
	}
}

func (p *Projector) applyAgentLeft(e *protocol.AgentLeft) []Delta {
	if e.Agent == "" || e.Channel == "" {
		return nil
	}
	a := p.agent(e.Agent)
	ch := p.channel(e.Channel)

	delete(ch.Members, e.Agent)
	delete(a.Channels, e.Channel)
	if len(a.Channels) == 0 {
		// Never deleted, only marked offline.
		a.Online = false
	}
	a.LastSeen = p.now()

	return []Delta{
		{Kind: DeltaAgent, Payload: agentView(a)},
		{Kind: DeltaChannel, Payload: channelView(ch)},
	}
}

func (p *Projector) applyProposal(e *protocol.Proposal) []Delta {
	if e.ProposalID == "" {
		return nil
	}
	ts := p.eventTime(e.TS)

	prop, ok := p.proposals[e.ProposalID]
	if !ok {
		status := ProposalStatus(e.Status)
		if !ValidStatus(status) {
			status = StatusPending
		}
		prop = &Proposal{
			ID:        e.ProposalID,
			From:      e.From,
			To:        e.To,
			Task:      e.Task,
			Amount:    e.Amount,
			Currency:  e.Currency,
			Status:    status,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		p.proposals[prop.ID] = prop
		if status == StatusCompleted {
			p.completed[prop.To]++
		}
		return []Delta{{Kind: DeltaProposal, Payload: proposalView(prop)}}
	}

	// Out-of-order redelivery across a resync: the later update wins,
	// ties keep what is already applied.
	if !ts.After(prop.UpdatedAt) {
		return nil
	}

	changed := false
	merge := func(dst *string, src string) {
		if src != "" && *dst != src {
			*dst = src
			changed = true
		}
	}
	merge(&prop.From, e.From)
	merge(&prop.To, e.To)
	merge(&prop.Task, e.Task)
	merge(&prop.Currency, e.Currency)
	if e.Amount != 0 && prop.Amount != e.Amount {
		prop.Amount = e.Amount
		changed = true
	}
	if status := ProposalStatus(e.Status); ValidStatus(status) && CanTransition(prop.Status, status) {
		prop.Status = status
		if status == StatusCompleted {
			p.completed[prop.To]++
		}
		changed = true
	}
	if !changed {
		return nil
	}
	prop.UpdatedAt = ts
	return []Delta{{Kind: DeltaProposal, Payload: proposalView(prop)}}
}

var actionStatus = map[string]ProposalStatus{
	protocol.TypeAccept:   StatusAccepted,
	protocol.TypeReject:   StatusRejected,
	protocol.TypeComplete: StatusCompleted,
	protocol.TypeDispute:  StatusDisputed,
}

func (p *Projector) applyProposalAction(e *protocol.ProposalAction) []Delta {
	if e.ProposalID == "" {
		return nil
	}
	target, ok := actionStatus[e.Kind]
	if !ok {
		return nil
	}
	ts := p.eventTime(e.TS)

	prop, exists := p.proposals[e.ProposalID]
	if !exists {
		// Action for a proposal we never saw: record a stub so later
		// PROPOSAL frames update it in place.
		prop = &Proposal{ID: e.ProposalID, Status: StatusPending, CreatedAt: ts, UpdatedAt: ts}
		p.proposals[prop.ID] = prop
	}

	if !CanTransition(prop.Status, target) {
		if !exists {
			return []Delta{{Kind: DeltaProposal, Payload: proposalView(prop)}}
		}
		return nil
	}

	prop.Status = target
	prop.UpdatedAt = ts
	if target == StatusCompleted {
		p.completed[prop.To]++
	}
	return []Delta{{Kind: DeltaProposal, Payload: proposalView(prop)}}
}

func (p *Projector) applySearchResults(e *protocol.SearchResults) []Delta {
	// Last write wins: the upstream always sends a full result set, so
	// the listing is replaced wholesale rather than merged.
	skills := make([]Skill, 0, len(e.Results))
	for _, r := range e.Results {
		skills = append(skills, Skill{Agent: r.Agent, Name: r.Name, Skill: r.Skill, Score: r.Score})
	}
	p.skills = skills

	return []Delta{{Kind: DeltaSkills, Payload: p.skillViews()}}
}

// SetAlias records a local display-name override for an agent and
// returns the agent_update delta to broadcast.
func (p *Projector) SetAlias(agentID, alias string) (Delta, bool) {
	if agentID == "" {
		return Delta{}, false
	}
	a := p.agent(agentID)
	a.Alias = alias
	return Delta{Kind: DeltaAgent, Payload: agentView(a)}, true
}

// SelfID returns our own agent id as assigned by the upstream WELCOME.
func (p *Projector) SelfID() string { return p.selfID }

// Snapshot deep-copies the model into the client-facing view.
func (p *Projector) Snapshot() Snapshot {
	snap := Snapshot{
		Agents:      make([]AgentView, 0, len(p.agents)),
		Channels:    make([]ChannelView, 0, len(p.channels)),
		Messages:    make(map[string][]MessageView, len(p.channels)),
		Proposals:   make([]ProposalView, 0, len(p.proposals)),
		Skills:      p.skillViews(),
		Leaderboard: p.leaderboard(),
	}

	if self, ok := p.agents[p.selfID]; ok {
		snap.DashboardAgent = agentView(self)
	}
	for _, a := range p.agents {
		snap.Agents = append(snap.Agents, agentView(a))
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })

	for _, ch := range p.channels {
		snap.Channels = append(snap.Channels, channelView(ch))
		msgs := ch.History.Messages()
		views := make([]MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, messageView(m))
		}
		snap.Messages[ch.Name] = views
	}
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].Name < snap.Channels[j].Name })

	for _, prop := range p.proposals {
		snap.Proposals = append(snap.Proposals, proposalView(prop))
	}
	sort.Slice(snap.Proposals, func(i, j int) bool { return snap.Proposals[i].ID < snap.Proposals[j].ID })

	return snap
}

func (p *Projector) skillViews() []SkillView {
	views := make([]SkillView, 0, len(p.skills))
	for _, s := range p.skills {
		views = append(views, skillView(s))
	}
	return views
}

func (p *Projector) leaderboard() []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(p.completed))
	for id, n := range p.completed {
		name := id
		if a, ok := p.agents[id]; ok {
			name = a.DisplayName()
		}
		entries = append(entries, LeaderboardEntry{Agent: id, Name: name, Completed: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Completed != entries[j].Completed {
			return entries[i].Completed > entries[j].Completed
		}
		return entries[i].Agent < entries[j].Agent
	})
	return entries
}

// agent returns the record for id, creating it on first reference.
func (p *Projector) agent(id string) *Agent {
	a, ok := p.agents[id]
	if !ok {
		a = &Agent{ID: id, Name: id, Channels: make(map[string]struct{})}
		p.agents[id] = a
	}
	return a
}

// channel returns the record for name, creating it on first reference
// and preserving existing history on re-reference.
func (p *Projector) channel(name string) *Channel {
	ch, ok := p.channels[name]
	if !ok {
		ch = &Channel{
			Name:    name,
			Members: make(map[string]struct{}),
			History: NewMessageRing(p.history),
		}
		p.channels[name] = ch
	}
	return ch
}

func (p *Projector) eventTime(ts int64) time.Time {
	if ts > 0 {
		return time.UnixMilli(ts)
	}
	return p.now()
}
