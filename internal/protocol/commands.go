package protocol

// Command type tags sent to the upstream server.
const (
	CmdIdentify     = "IDENTIFY"
	CmdJoin         = "JOIN"
	CmdListChannels = "LIST_CHANNELS"
	CmdListAgents   = "LIST_AGENTS"
	CmdMsg          = "MSG"
	CmdSearchSkills = "SEARCH_SKILLS"
	CmdAccept       = "ACCEPT"
	CmdPing         = "PING"
)

// Identify registers our identity after every (re)connect.
type Identify struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Pubkey string `json:"pubkey,omitempty"`
}

// Join subscribes us to a channel.
type Join struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// ListChannels requests the full channel listing.
type ListChannels struct {
	Type string `json:"type"`
}

// ListAgents requests the roster of one channel.
type ListAgents struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Msg sends a chat message to a channel or agent.
type Msg struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Content string `json:"content"`
	Sig     string `json:"sig,omitempty"`
}

// SearchSkills queries the network-wide skill index.
type SearchSkills struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// Accept accepts a proposal addressed to us.
type Accept struct {
	Type       string `json:"type"`
	ProposalID string `json:"proposal_id"`
}

// Ping is the connection keepalive; the server answers with PONG.
type Ping struct {
	Type string `json:"type"`
}

func NewIdentify(name, pubkey string) Identify {
	return Identify{Type: CmdIdentify, Name: name, Pubkey: pubkey}
}

func NewJoin(channel string) Join {
	return Join{Type: CmdJoin, Channel: channel}
}

func NewListChannels() ListChannels {
	return ListChannels{Type: CmdListChannels}
}

func NewListAgents(channel string) ListAgents {
	return ListAgents{Type: CmdListAgents, Channel: channel}
}

func NewMsg(to, content string) Msg {
	return Msg{Type: CmdMsg, To: to, Content: content}
}

func NewSearchSkills(query string) SearchSkills {
	return SearchSkills{Type: CmdSearchSkills, Query: query}
}

func NewAccept(proposalID string) Accept {
	return Accept{Type: CmdAccept, ProposalID: proposalID}
}

func NewPing() Ping {
	return Ping{Type: CmdPing}
}
