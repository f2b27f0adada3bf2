// Package reconcile computes and publishes the minimal change-set
// transforming the previously persisted graph into the state described by
// the resource cache.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"stacksync/internal/cache"
	"stacksync/internal/convert"
	"stacksync/internal/graph"
	"stacksync/internal/logger"
	"stacksync/pkg/models"
)

// ErrIncompleteFetch is returned when any resource category's last fetch
// cycle never completed. Partial data must never overwrite a complete
// prior snapshot.
var ErrIncompleteFetch = errors.New("resource fetch incomplete")

// Summary reports the published change-set by operation kind.
type Summary struct {
	EntitiesCreated      int `json:"entitiesCreated"`
	EntitiesUpdated      int `json:"entitiesUpdated"`
	EntitiesDeleted      int `json:"entitiesDeleted"`
	RelationshipsCreated int `json:"relationshipsCreated"`
	RelationshipsUpdated int `json:"relationshipsUpdated"`
	RelationshipsDeleted int `json:"relationshipsDeleted"`
}

// Total returns the number of operations published.
func (s Summary) Total() int {
	return s.EntitiesCreated + s.EntitiesUpdated + s.EntitiesDeleted +
		s.RelationshipsCreated + s.RelationshipsUpdated + s.RelationshipsDeleted
}

// OperationSink receives the computed change-set before it is applied,
// for audit or export.
type OperationSink interface {
	WriteOperations(entityOps []models.EntityOperation, relationshipOps []models.RelationshipOperation) error
}

// Synchronizer reconciles cached raw records into the graph store.
type Synchronizer struct {
	account convert.AccountConfig
	cache   cache.Cache
	store   graph.Store
	sink    OperationSink // optional
}

// New creates a Synchronizer. sink may be nil.
func New(account convert.AccountConfig, c cache.Cache, store graph.Store, sink OperationSink) *Synchronizer {
	return &Synchronizer{account: account, cache: c, store: store, sink: sink}
}

// Run computes and publishes the change-set. It refuses to touch the
// graph while any resource category's fetch is incomplete.
func (s *Synchronizer) Run(ctx context.Context) (*Summary, error) {
	onlineAgents := cache.NewResourceCache(s.cache, cache.CategoryOnlineAgents)
	offlineAgents := cache.NewResourceCache(s.cache, cache.CategoryOfflineAgents)
	vulnerabilities := cache.NewResourceCache(s.cache, cache.CategoryVulnerabilities)

	for _, rc := range []*cache.ResourceCache{onlineAgents, offlineAgents, vulnerabilities} {
		state, err := rc.GetState(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s fetch state: %w", rc.Category(), err)
		}
		if !state.FetchCompleted {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteFetch, rc.Category())
		}
	}

	oldAccounts, err := s.store.FindEntitiesByType(ctx, convert.AccountEntityType)
	if err != nil {
		return nil, fmt.Errorf("load account entities: %w", err)
	}
	oldAgents, err := s.store.FindEntitiesByType(ctx, convert.AgentEntityType)
	if err != nil {
		return nil, fmt.Errorf("load agent entities: %w", err)
	}
	oldAccountAgent, err := s.store.FindRelationshipsByType(ctx, convert.AccountAgentRelationshipType)
	if err != nil {
		return nil, fmt.Errorf("load account-agent relationships: %w", err)
	}
	oldAgentFinding, err := s.store.FindRelationshipsByType(ctx, convert.AgentFindingRelationshipType)
	if err != nil {
		return nil, fmt.Errorf("load agent-finding relationships: %w", err)
	}

	rawAgents, err := loadAgents(ctx, onlineAgents, offlineAgents)
	if err != nil {
		return nil, err
	}
	newAgents := convert.AgentEntities(rawAgents)

	accountEntity := convert.AccountEntity(s.account)
	newAccountAgent := convert.AccountRelationships(accountEntity, newAgents)

	newAgentFinding, err := buildFindingRelationships(ctx, vulnerabilities, rawAgents, newAgents)
	if err != nil {
		return nil, err
	}

	entityOps := append(
		ProcessEntities(oldAccounts, []models.Entity{accountEntity}),
		ProcessEntities(oldAgents, newAgents)...,
	)
	relationshipOps := append(
		ProcessRelationships(oldAccountAgent, newAccountAgent),
		ProcessRelationships(oldAgentFinding, newAgentFinding)...,
	)

	if s.sink != nil {
		if err := s.sink.WriteOperations(entityOps, relationshipOps); err != nil {
			return nil, fmt.Errorf("export operations: %w", err)
		}
	}

	if err := s.store.Publish(ctx, entityOps, relationshipOps); err != nil {
		return nil, err
	}

	summary := summarize(entityOps, relationshipOps)
	logger.Infof("Reconciled graph: %d entity op(s), %d relationship op(s)",
		len(entityOps), len(relationshipOps))
	return &summary, nil
}

// loadAgents reassembles the raw agent records for both categories via
// their ID lists.
func loadAgents(ctx context.Context, categories ...*cache.ResourceCache) ([]models.Agent, error) {
	var agents []models.Agent
	for _, rc := range categories {
		err := rc.GetAll(ctx, func(key string, data json.RawMessage) error {
			var a models.Agent
			if err := json.Unmarshal(data, &a); err != nil {
				return err
			}
			agents = append(agents, a)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", rc.Category(), err)
		}
	}
	return agents, nil
}

// buildFindingRelationships rebuilds the finding entities from cached
// vulnerability composites, resolves their targets against the agent
// index, and emits one mapped relationship per resolvable server.
func buildFindingRelationships(ctx context.Context, rc *cache.ResourceCache, rawAgents []models.Agent, agentEntities []models.Entity) ([]models.Relationship, error) {
	byRawID := make(map[string]models.Entity, len(agentEntities))
	instanceIDs := make(map[string]string, len(rawAgents))
	for i, raw := range rawAgents {
		byRawID[raw.ID] = agentEntities[i]
		instanceIDs[raw.ID] = raw.InstanceID
	}

	var relationships []models.Relationship
	err := rc.GetAll(ctx, func(key string, data json.RawMessage) error {
		var detail models.VulnerabilityDetail
		if err := json.Unmarshal(data, &detail); err != nil {
			return err
		}

		cve := convert.CVEEntity(detail.Vulnerability)
		for _, server := range detail.VulnerableServers {
			agent, ok := byRawID[server.AgentID]
			if !ok {
				// Targets referencing unknown agents are dropped; the agent
				// stream is the source of truth for hosts.
				logger.Debugf("Vulnerability %s references unknown agent %s", detail.Vulnerability.CVENumber, server.AgentID)
				continue
			}
			if instanceID := instanceIDs[server.AgentID]; instanceID != "" {
				convert.AppendCVETarget(cve, instanceID)
			} else {
				// No instance id: target the agent entity's normalized
				// hostname, the same value the entity itself carries.
				hostname, _ := agent.Properties["hostname"].(string)
				convert.AppendCVETarget(cve, hostname)
			}
			relationships = append(relationships, convert.AgentFindingMappedRelationship(
				agent,
				cve,
				detail.Vulnerability.SystemPackage,
				detail.Vulnerability.IsSuppressed,
			))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load vulnerabilities: %w", err)
	}
	return relationships, nil
}

func summarize(entityOps []models.EntityOperation, relationshipOps []models.RelationshipOperation) Summary {
	var s Summary
	for _, op := range entityOps {
		switch op.Kind {
		case models.OpCreate:
			s.EntitiesCreated++
		case models.OpUpdate:
			s.EntitiesUpdated++
		case models.OpDelete:
			s.EntitiesDeleted++
		}
	}
	for _, op := range relationshipOps {
		switch op.Kind {
		case models.OpCreate:
			s.RelationshipsCreated++
		case models.OpUpdate:
			s.RelationshipsUpdated++
		case models.OpDelete:
			s.RelationshipsDeleted++
		}
	}
	return s
}
