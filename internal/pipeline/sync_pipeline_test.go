package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/internal/cache"
	"stacksync/internal/convert"
	"stacksync/internal/graph"
	"stacksync/internal/reconcile"
	"stacksync/internal/threatstack"
	"stacksync/pkg/models"
)

// fakeClient scripts both agent streams and the vulnerability stream,
// keyed by continuation token.
type fakeClient struct {
	online  map[string]*threatstack.AgentsPage
	offline map[string]*threatstack.AgentsPage
	vulns   map[string]*threatstack.VulnerabilitiesPage
	servers map[string]map[string]*threatstack.VulnerableServersPage
}

func (f *fakeClient) ServerAgents(ctx context.Context, status models.AgentStatus, token string) (*threatstack.AgentsPage, error) {
	pages := f.online
	if status == models.AgentOffline {
		pages = f.offline
	}
	page, ok := pages[token]
	if !ok {
		return nil, fmt.Errorf("unexpected %s token %q", status, token)
	}
	return page, nil
}

func (f *fakeClient) Vulnerabilities(ctx context.Context, token string) (*threatstack.VulnerabilitiesPage, error) {
	page, ok := f.vulns[token]
	if !ok {
		return nil, fmt.Errorf("unexpected vulnerability token %q", token)
	}
	return page, nil
}

func (f *fakeClient) VulnerableServers(ctx context.Context, cveNumber, token string) (*threatstack.VulnerableServersPage, error) {
	byToken, ok := f.servers[cveNumber]
	if !ok {
		return &threatstack.VulnerableServersPage{}, nil
	}
	page, ok := byToken[token]
	if !ok {
		return nil, fmt.Errorf("unexpected servers token %q for %s", token, cveNumber)
	}
	return page, nil
}

func agent(id, status string) models.Agent {
	return models.Agent{ID: id, Status: status, Hostname: id + ".example.com", InstanceID: "i-" + id}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		online: map[string]*threatstack.AgentsPage{
			"":    {Token: "on2", Agents: []models.Agent{agent("a1", "online")}},
			"on2": {Token: "", Agents: []models.Agent{agent("a2", "online")}},
		},
		offline: map[string]*threatstack.AgentsPage{
			"": {Token: "", Agents: []models.Agent{agent("a3", "offline")}},
		},
		vulns: map[string]*threatstack.VulnerabilitiesPage{
			"":   {Token: "v2", CVEs: []models.Vulnerability{{CVENumber: "CVE-1", Severity: "high"}}},
			"v2": {Token: "", CVEs: []models.Vulnerability{{CVENumber: "CVE-2", Severity: "low"}}},
		},
		servers: map[string]map[string]*threatstack.VulnerableServersPage{
			"CVE-1": {"": {Token: "", Servers: []models.VulnerableServer{{AgentID: "a1"}}}},
			"CVE-2": {"": {Token: "", Servers: []models.VulnerableServer{{AgentID: "a3"}}}},
		},
	}
}

func newPipeline(t *testing.T, client Client) (*Pipeline, *cache.RedisCache, *graph.RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	s, err := graph.NewRedisStore(graph.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = s.Close()
	})

	sync := reconcile.New(convert.AccountConfig{OrgID: "123456", OrgName: "org"}, c, s, nil)
	return New(client, c, sync, Config{AgentsBatchPages: 1, VulnsBatchPages: 1}), c, s
}

func TestRunDrainsAndReconciles(t *testing.T) {
	p, _, s := newPipeline(t, newFakeClient())
	ctx := context.Background()

	summary, err := p.Run(ctx)
	require.NoError(t, err)

	// 1 account + 3 agents + 3 HAS + 2 findings.
	assert.Equal(t, 4, summary.EntitiesCreated)
	assert.Equal(t, 5, summary.RelationshipsCreated)

	agents, err := s.FindEntitiesByType(ctx, convert.AgentEntityType)
	require.NoError(t, err)
	assert.Len(t, agents, 3)
}

func TestFetchOnceResumesAcrossProcesses(t *testing.T) {
	client := newFakeClient()
	p, c, s := newPipeline(t, client)
	ctx := context.Background()

	// First invocation stops at the online stream's page budget.
	require.NoError(t, p.FetchOnce(ctx))

	_, err := p.Sync(ctx)
	assert.ErrorIs(t, err, reconcile.ErrIncompleteFetch)

	// A fresh pipeline over the same cache picks up the saved tokens.
	sync := reconcile.New(convert.AccountConfig{OrgID: "123456", OrgName: "org"}, c, s, nil)
	restarted := New(client, c, sync, Config{AgentsBatchPages: 1, VulnsBatchPages: 1})
	require.NoError(t, restarted.FetchOnce(ctx))

	summary, err := restarted.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.EntitiesCreated)

	ids, err := cache.NewResourceCache(c, cache.CategoryOnlineAgents).GetIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestFinishedCycleStartsFresh(t *testing.T) {
	client := newFakeClient()
	p, c, _ := newPipeline(t, client)
	ctx := context.Background()

	require.NoError(t, p.FetchAll(ctx))

	// The next cycle sees a shrunken fleet; stale agents must not linger.
	client.online = map[string]*threatstack.AgentsPage{
		"": {Token: "", Agents: []models.Agent{agent("a1", "online")}},
	}
	require.NoError(t, p.FetchAll(ctx))

	ids, err := cache.NewResourceCache(c, cache.CategoryOnlineAgents).GetIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)
}

func TestDefaultBudgetIsOnePagePerInvocation(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	p := New(newFakeClient(), c, nil, Config{})
	require.NoError(t, p.FetchOnce(context.Background()))

	// The online stream has two pages; an unconfigured budget fetches one.
	ids, err := cache.NewResourceCache(c, cache.CategoryOnlineAgents).GetIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids)
}

func TestRunSurfacesFetchErrors(t *testing.T) {
	client := newFakeClient()
	client.vulns = map[string]*threatstack.VulnerabilitiesPage{}
	p, _, _ := newPipeline(t, client)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch-vulnerabilities")
}
