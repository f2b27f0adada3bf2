package models

// Vulnerability is a raw open finding record as returned by the upstream API.
type Vulnerability struct {
	CVENumber       string `json:"cveNumber"`
	ReportedPackage string `json:"reportedPackage"`
	SystemPackage   string `json:"systemPackage"`
	VectorType      string `json:"vectorType"`
	Severity        string `json:"severity"`
	IsSuppressed    bool   `json:"isSuppressed"`
}

// VulnerableServer links a vulnerability to one affected agent.
type VulnerableServer struct {
	AgentID  string `json:"agentId"`
	Hostname string `json:"hostname,omitempty"`
}

// VulnerabilityDetail is the composite cached per vulnerability: the raw
// record plus the fully paginated list of affected servers. It is written
// to the cache only once the nested pagination has completed.
type VulnerabilityDetail struct {
	Vulnerability     Vulnerability      `json:"vulnerability"`
	VulnerableServers []VulnerableServer `json:"vulnerableServers"`
}
