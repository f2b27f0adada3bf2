// Package pipeline drives sync cycles: bounded fetch invocations whose
// iteration state is persisted between runs, followed by graph
// reconciliation once every resource cycle has completed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"stacksync/internal/cache"
	"stacksync/internal/fetch"
	"stacksync/internal/logger"
	"stacksync/internal/reconcile"
	"stacksync/pkg/models"
)

// Client is the slice of the API client the fetch steps need.
type Client interface {
	fetch.AgentClient
	fetch.VulnerabilityClient
}

// Config bounds the work of a single fetch invocation per step.
type Config struct {
	AgentsBatchPages int
	VulnsBatchPages  int
}

// Pipeline coordinates the three fetch steps and the reconciler over a
// shared durable cache. Step iteration state lives in the cache too, so a
// restarted process resumes exactly where the previous invocation stopped.
type Pipeline struct {
	client Client
	cache  cache.Cache
	sync   *reconcile.Synchronizer
	cfg    Config
}

type step struct {
	name string
	run  func(ctx context.Context, state models.IterationState) (models.IterationState, error)
}

// New creates a pipeline. The synchronizer may be nil for fetch-only use.
func New(client Client, c cache.Cache, sync *reconcile.Synchronizer, cfg Config) *Pipeline {
	if cfg.AgentsBatchPages <= 0 {
		cfg.AgentsBatchPages = 1
	}
	if cfg.VulnsBatchPages <= 0 {
		cfg.VulnsBatchPages = 1
	}
	return &Pipeline{client: client, cache: c, sync: sync, cfg: cfg}
}

func (p *Pipeline) agentStep(category string, status models.AgentStatus) step {
	rc := cache.NewResourceCache(p.cache, category)
	return step{
		name: "fetch-" + category,
		run: func(ctx context.Context, state models.IterationState) (models.IterationState, error) {
			return fetch.BatchOfAgents(ctx, p.client, rc, state, status, p.cfg.AgentsBatchPages)
		},
	}
}

func (p *Pipeline) vulnerabilityStep() step {
	rc := cache.NewResourceCache(p.cache, cache.CategoryVulnerabilities)
	return step{
		name: "fetch-" + cache.CategoryVulnerabilities,
		run: func(ctx context.Context, state models.IterationState) (models.IterationState, error) {
			return fetch.BatchOfVulnerabilities(ctx, p.client, rc, state, p.cfg.VulnsBatchPages)
		},
	}
}

// RunStep performs one bounded invocation of the named step and persists
// the rewritten iteration state. A step whose previous cycle finished
// starts a new cycle; an unfinished one resumes from its saved token.
func (p *Pipeline) runStep(ctx context.Context, s step) (models.IterationState, error) {
	state, err := p.loadState(ctx, s.name)
	if err != nil {
		return state, err
	}

	invocation := uuid.NewString()
	logger.Infof("Step %s invocation %s starting (iteration=%d)", s.name, invocation, state.Iteration)

	next, err := s.run(ctx, state)
	if err != nil {
		return state, fmt.Errorf("step %s invocation %s: %w", s.name, invocation, err)
	}
	if err := p.cache.PutEntry(ctx, stepStateKey(s.name), next); err != nil {
		return next, fmt.Errorf("persist %s state: %w", s.name, err)
	}

	logger.Infof("Step %s invocation %s done (pages=%d count=%d finished=%v)",
		s.name, invocation, next.Pages, next.Count, next.Finished)
	return next, nil
}

// loadState reads the step's saved iteration state. A finished or absent
// state yields a fresh cycle; an unfinished one advances the iteration.
func (p *Pipeline) loadState(ctx context.Context, name string) (models.IterationState, error) {
	var state models.IterationState
	err := p.cache.GetEntry(ctx, stepStateKey(name), &state)
	if errors.Is(err, cache.ErrMissingEntry) {
		return models.IterationState{}, nil
	}
	if err != nil {
		return models.IterationState{}, fmt.Errorf("load %s state: %w", name, err)
	}
	if state.Finished {
		return models.IterationState{}, nil
	}
	state.Iteration++
	return state, nil
}

// FetchOnce performs one bounded invocation of every fetch step. Both
// agent steps run concurrently; they page independent streams against a
// shared rate limiter.
func (p *Pipeline) FetchOnce(ctx context.Context) error {
	return p.fetchSteps(ctx, false)
}

// FetchAll repeats invocations until every step's fetch cycle completes.
func (p *Pipeline) FetchAll(ctx context.Context) error {
	return p.fetchSteps(ctx, true)
}

func (p *Pipeline) fetchSteps(ctx context.Context, drain bool) error {
	agentSteps := []step{
		p.agentStep(cache.CategoryOnlineAgents, models.AgentOnline),
		p.agentStep(cache.CategoryOfflineAgents, models.AgentOffline),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(agentSteps))
	for i, s := range agentSteps {
		wg.Add(1)
		go func(i int, s step) {
			defer wg.Done()
			errs[i] = p.driveStep(ctx, s, drain)
		}(i, s)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return p.driveStep(ctx, p.vulnerabilityStep(), drain)
}

// driveStep runs one invocation, or repeats until the cycle finishes.
func (p *Pipeline) driveStep(ctx context.Context, s step, drain bool) error {
	for {
		state, err := p.runStep(ctx, s)
		if err != nil {
			return err
		}
		if !drain || state.Finished {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Sync reconciles cached resources into the graph store. It fails without
// touching the graph while any fetch cycle is incomplete.
func (p *Pipeline) Sync(ctx context.Context) (*reconcile.Summary, error) {
	if p.sync == nil {
		return nil, errors.New("pipeline has no synchronizer")
	}
	return p.sync.Run(ctx)
}

// Run drains every fetch step and then reconciles.
func (p *Pipeline) Run(ctx context.Context) (*reconcile.Summary, error) {
	if err := p.FetchAll(ctx); err != nil {
		return nil, err
	}
	return p.Sync(ctx)
}

func stepStateKey(name string) string {
	return "steps/" + name
}
