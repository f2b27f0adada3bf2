// Package fetch implements the resumable batch fetchers. Each function
// performs one bounded invocation: it pages the upstream up to a page
// budget, stages raw records, flushes entries, ID list and completion
// state to the durable cache, and returns rewritten iteration state for
// the host to persist. Nothing in-process survives between invocations.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"stacksync/internal/cache"
	"stacksync/internal/logger"
	"stacksync/internal/metrics"
	"stacksync/internal/threatstack"
	"stacksync/pkg/models"
)

// AgentClient is the slice of the API client the agent fetcher needs.
type AgentClient interface {
	ServerAgents(ctx context.Context, status models.AgentStatus, token string) (*threatstack.AgentsPage, error)
}

// BatchOfAgents fetches up to batchPages pages of agents with the given
// status, appending to the category's running ID list. The first
// invocation of a cycle (iteration 0) discards the previous cycle's data.
func BatchOfAgents(ctx context.Context, client AgentClient, rc *cache.ResourceCache, state models.IterationState, status models.AgentStatus, batchPages int) (models.IterationState, error) {
	if batchPages <= 0 {
		batchPages = 1
	}

	ids, err := resumeIDs(ctx, rc, state)
	if err != nil {
		return state, err
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	token := state.Token
	pages := 0
	var staged []cache.Entry

	for {
		page, err := client.ServerAgents(ctx, status, token)
		if err != nil {
			return state, fmt.Errorf("fetch %s agents page: %w", status, err)
		}

		for _, agent := range page.Agents {
			raw, err := json.Marshal(agent)
			if err != nil {
				return state, fmt.Errorf("marshal agent %s: %w", agent.ID, err)
			}
			staged = append(staged, cache.Entry{Key: agent.ID, Data: raw})
			if _, ok := seen[agent.ID]; !ok {
				seen[agent.ID] = struct{}{}
				ids = append(ids, agent.ID)
			}
		}

		metrics.PagesFetched.WithLabelValues(rc.Category()).Inc()
		token = page.Token
		pages++
		// An empty page with a token is not completion; keep the token and
		// let the budget decide whether this invocation continues.
		if token == "" || pages >= batchPages {
			break
		}
	}

	if err := flush(ctx, rc, staged, ids, token == ""); err != nil {
		return state, err
	}

	logger.Infof("Fetched %d page(s) of %s agents (total=%d finished=%v)", pages, status, len(ids), token == "")
	return nextState(state, token, pages, len(ids)), nil
}

// resumeIDs loads the running ID list, resetting the category first when
// this is the opening invocation of a new fetch cycle.
func resumeIDs(ctx context.Context, rc *cache.ResourceCache, state models.IterationState) ([]string, error) {
	if state.Iteration == 0 {
		if err := rc.Reset(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	ids, err := rc.GetIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s id list: %w", rc.Category(), err)
	}
	return ids, nil
}

// flush persists staged entries before the ID list that references them,
// then records whether the cycle completed.
func flush(ctx context.Context, rc *cache.ResourceCache, staged []cache.Entry, ids []string, finished bool) error {
	if err := rc.PutEntries(ctx, staged); err != nil {
		return fmt.Errorf("write %s entries: %w", rc.Category(), err)
	}
	metrics.CacheEntriesWritten.WithLabelValues(rc.Category()).Add(float64(len(staged)))
	if err := rc.PutIDs(ctx, ids); err != nil {
		return fmt.Errorf("write %s id list: %w", rc.Category(), err)
	}
	if err := rc.PutState(ctx, models.ResourceState{FetchCompleted: finished}); err != nil {
		return fmt.Errorf("write %s state: %w", rc.Category(), err)
	}
	return nil
}

func nextState(state models.IterationState, token string, pages, count int) models.IterationState {
	return models.IterationState{
		Iteration: state.Iteration,
		Token:     token,
		Pages:     pages,
		Count:     count,
		Limit:     100,
		Finished:  token == "",
	}
}
