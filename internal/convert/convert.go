// Package convert maps raw upstream records into graph entities and
// relationships. Everything here is a pure transform: no I/O, no retries.
// The reconciler depends on the exact key formats for idempotent diffing.
package convert

import (
	"strings"
	"time"

	"stacksync/pkg/models"
)

// ProviderName prefixes every entity key.
const ProviderName = "threatstack"

// Managed entity and relationship types.
const (
	AccountEntityType  = "threatstack_account"
	AccountEntityClass = "Account"

	AgentEntityType  = "threatstack_agent"
	AgentEntityClass = "HostAgent"

	AccountAgentRelationshipType = "threatstack_account_has_agent"
	AgentFindingRelationshipType = "threatstack_agent_identified_vulnerability"

	CVEEntityType  = "cve"
	CVEEntityClass = "Vulnerability"
)

// AccountConfig carries the configuration fields the account entity is
// derived from.
type AccountConfig struct {
	OrgID   string
	OrgName string
}

// AccountEntity builds the account entity deterministically from
// configuration. No network call is involved.
func AccountEntity(cfg AccountConfig) models.Entity {
	return models.Entity{
		Key:   ProviderName + ":account:" + cfg.OrgID,
		Type:  AccountEntityType,
		Class: AccountEntityClass,
		Properties: map[string]interface{}{
			"accountId":   cfg.OrgID,
			"name":        cfg.OrgName,
			"displayName": "Threat Stack - " + cfg.OrgName,
		},
	}
}

// AgentEntities maps raw agent records into graph entities.
func AgentEntities(agents []models.Agent) []models.Entity {
	entities := make([]models.Entity, 0, len(agents))
	for _, item := range agents {
		displayName := item.Name
		if displayName == "" {
			displayName = item.Hostname
		}

		props := map[string]interface{}{
			"displayName":    displayName,
			"id":             item.ID,
			"status":         item.Status,
			"active":         strings.EqualFold(item.Status, "online"),
			"version":        item.Version,
			"name":           item.Name,
			"description":    item.Description,
			"hostname":       NormalizeHostname(item.Hostname),
			"agentType":      item.AgentType,
			"kernel":         item.Kernel,
			"osVersion":      item.OSVersion,
			"createdAt":      epochMillis(item.CreatedAt),
			"lastReportedAt": epochMillis(item.LastReportedAt),
			"createdOn":      epochMillis(item.CreatedAt),
			"function":       []string{"FIM", "activity-monitor", "vulnerability-scan"},
		}
		if item.InstanceID != "" {
			props["instanceId"] = item.InstanceID
		}

		ipAddresses := []string{}
		if item.IPAddresses != nil {
			ipAddresses = append(ipAddresses, item.IPAddresses.Public...)
			ipAddresses = append(ipAddresses, item.IPAddresses.Private...)
			props["publicIpAddress"] = []string(item.IPAddresses.Public)
			props["privateIpAddress"] = []string(item.IPAddresses.Private)
			props["macAddress"] = []string(item.IPAddresses.LinkLocal)
		}
		props["ipAddresses"] = ipAddresses

		entities = append(entities, models.Entity{
			Key:        AgentKey(item.ID),
			Type:       AgentEntityType,
			Class:      AgentEntityClass,
			Properties: props,
		})
	}
	return entities
}

// AgentKey returns the stable entity key for a raw agent ID.
func AgentKey(id string) string {
	return ProviderName + ":agent:" + id
}

// AccountRelationships builds one HAS relationship per (account, agent).
func AccountRelationships(account models.Entity, entities []models.Entity) []models.Relationship {
	relationships := make([]models.Relationship, 0, len(entities))
	for _, entity := range entities {
		relationships = append(relationships, AccountRelationship(account, entity))
	}
	return relationships
}

// AccountRelationship builds a single HAS relationship from the account
// to an entity, keyed `<fromKey>|has|<toKey>`.
func AccountRelationship(account, entity models.Entity) models.Relationship {
	return models.Relationship{
		Key:     account.Key + "|has|" + entity.Key,
		Type:    AccountAgentRelationshipType,
		Class:   "HAS",
		FromKey: account.Key,
		ToKey:   entity.Key,
		Properties: map[string]interface{}{
			"displayName": "HAS",
		},
	}
}

// CVEEntity builds the normalized finding entity for one vulnerability.
// The targets list starts empty; the reconciler appends resolved targets
// while walking the vulnerability's affected servers.
func CVEEntity(vuln models.Vulnerability) models.Entity {
	upper := strings.ToUpper(vuln.CVENumber)
	return models.Entity{
		Key:   strings.ToLower(vuln.CVENumber),
		Type:  CVEEntityType,
		Class: CVEEntityClass,
		Properties: map[string]interface{}{
			"name":        upper,
			"displayName": upper,
			"package":     vuln.ReportedPackage,
			"severity":    vuln.Severity,
			"vector":      vuln.VectorType,
			"finding":     vuln.SystemPackage,
			"open":        !vuln.IsSuppressed,
			"webLink":     "https://nvd.nist.gov/vuln/detail/" + upper,
			"targets":     []string{},
		},
	}
}

// AppendCVETarget records a resolved target on the finding entity.
func AppendCVETarget(cve models.Entity, target string) {
	targets, _ := cve.Properties["targets"].([]string)
	cve.Properties["targets"] = append(targets, target)
}

// AgentFindingMappedRelationship builds the deferred IDENTIFIED
// relationship from an agent to a finding that may not exist in the graph
// yet. The target is selected by filter rule, not by key.
func AgentFindingMappedRelationship(agent, cve models.Entity, finding string, suppressed bool) models.Relationship {
	return models.Relationship{
		Key:   agent.Key + "|identified|" + cve.Key,
		Type:  AgentFindingRelationshipType,
		Class: "IDENTIFIED",
		Properties: map[string]interface{}{
			"displayName": "IDENTIFIED",
			"finding":     finding,
			"suppressed":  suppressed,
		},
		Mapping: &models.Mapping{
			SourceKey:        agent.Key,
			Direction:        models.DirectionForward,
			TargetFilterKeys: [][]string{{"type", "key"}},
			TargetEntity:     cve,
		},
	}
}

// NormalizeHostname reduces a device name to its first DNS label,
// lowercased, with spaces turned into hyphens and anything outside
// [a-z0-9-] dropped.
func NormalizeHostname(deviceName string) string {
	if deviceName == "" {
		return ""
	}
	label := strings.ToLower(strings.Split(deviceName, ".")[0])
	label = strings.ReplaceAll(label, " ", "-")
	var b strings.Builder
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// epochMillis converts an RFC3339 timestamp to unix milliseconds, or nil
// when the value is absent or unparseable.
func epochMillis(value string) interface{} {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return t.UnixMilli()
}
