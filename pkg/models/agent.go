package models

// AgentStatus selects one of the two agent resource categories.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// AgentIPAddresses groups the address families reported for one agent.
// Each field arrives from the API as either a single string or a list.
type AgentIPAddresses struct {
	Public    StringList `json:"public"`
	Private   StringList `json:"private"`
	LinkLocal StringList `json:"link_local"`
}

// AgentTag is a key/value label attached to an agent by a source system.
type AgentTag struct {
	Source string `json:"source,omitempty"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Agent is a raw host agent record as returned by the upstream API.
type Agent struct {
	ID             string            `json:"id"`
	InstanceID     string            `json:"instanceId,omitempty"`
	Status         string            `json:"status"`
	CreatedAt      string            `json:"createdAt"`
	LastReportedAt string            `json:"lastReportedAt"`
	Version        string            `json:"version"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	Hostname       string            `json:"hostname"`
	IPAddresses    *AgentIPAddresses `json:"ipAddresses,omitempty"`
	Tags           []AgentTag        `json:"tags,omitempty"`
	AgentType      string            `json:"agentType"`
	Kernel         string            `json:"kernel,omitempty"`
	OSVersion      string            `json:"osVersion,omitempty"`
}
