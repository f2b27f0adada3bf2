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

// VulnerabilityClient is the slice of the API client the vulnerability
// fetcher needs.
type VulnerabilityClient interface {
	Vulnerabilities(ctx context.Context, token string) (*threatstack.VulnerabilitiesPage, error)
	VulnerableServers(ctx context.Context, cveNumber, token string) (*threatstack.VulnerableServersPage, error)
}

// BatchOfVulnerabilities fetches up to batchPages pages of open findings.
// For every finding on a page it joins in the complete paginated list of
// affected servers before anything is cached, so a cached composite is
// always whole. The nested pagination does not count against the page
// budget.
func BatchOfVulnerabilities(ctx context.Context, client VulnerabilityClient, rc *cache.ResourceCache, state models.IterationState, batchPages int) (models.IterationState, error) {
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
		page, err := client.Vulnerabilities(ctx, token)
		if err != nil {
			return state, fmt.Errorf("fetch vulnerabilities page: %w", err)
		}

		for _, vuln := range page.CVEs {
			servers, err := allVulnerableServers(ctx, client, vuln.CVENumber)
			if err != nil {
				return state, err
			}

			detail := models.VulnerabilityDetail{
				Vulnerability:     vuln,
				VulnerableServers: servers,
			}
			raw, err := json.Marshal(detail)
			if err != nil {
				return state, fmt.Errorf("marshal vulnerability %s: %w", vuln.CVENumber, err)
			}
			staged = append(staged, cache.Entry{Key: vuln.CVENumber, Data: raw})
			if _, ok := seen[vuln.CVENumber]; !ok {
				seen[vuln.CVENumber] = struct{}{}
				ids = append(ids, vuln.CVENumber)
			}
		}

		metrics.PagesFetched.WithLabelValues(rc.Category()).Inc()
		token = page.Token
		pages++
		if token == "" || pages >= batchPages {
			break
		}
	}

	if err := flush(ctx, rc, staged, ids, token == ""); err != nil {
		return state, err
	}

	logger.Infof("Fetched %d page(s) of vulnerabilities (total=%d finished=%v)", pages, len(ids), token == "")
	return nextState(state, token, pages, len(ids)), nil
}

// allVulnerableServers drains the affected-servers stream for one CVE.
func allVulnerableServers(ctx context.Context, client VulnerabilityClient, cveNumber string) ([]models.VulnerableServer, error) {
	var servers []models.VulnerableServer
	token := ""
	for {
		page, err := client.VulnerableServers(ctx, cveNumber, token)
		if err != nil {
			return nil, fmt.Errorf("fetch servers for %s: %w", cveNumber, err)
		}
		servers = append(servers, page.Servers...)
		token = page.Token
		if token == "" {
			return servers, nil
		}
	}
}
