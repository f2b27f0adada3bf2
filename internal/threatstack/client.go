package threatstack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stacksync/internal/logger"
	"stacksync/internal/metrics"
	"stacksync/internal/ratelimit"
	"stacksync/pkg/models"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.threatstack.com/v2"

// Config configures the API client.
type Config struct {
	BaseURL string
	OrgID   string
	UserID  string
	APIKey  string

	// Admission budget for the shared organization-wide rate limit.
	RateRequests int
	RateInterval time.Duration

	// Exponential backoff for transient upstream failures.
	RetryDelay    time.Duration
	RetryFactor   float64
	RetryAttempts int

	Timeout time.Duration
}

// Client issues signed, rate-limited, retrying GET requests against the
// upstream API. All requests made through one client share a single
// admission limiter.
type Client struct {
	baseURL string
	creds   hawkCredentials
	ext     string
	limiter *ratelimit.Limiter
	http    *http.Client

	retryDelay    time.Duration
	retryFactor   float64
	retryAttempts int

	// overridable in tests for deterministic signatures
	now      func() time.Time
	nonce    func() string
	sleepFor func(ctx context.Context, d time.Duration) error
}

// New creates a client. Zero config fields fall back to defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateRequests <= 0 {
		cfg.RateRequests = 10
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.RetryFactor <= 1 {
		cfg.RetryFactor = 1.2
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 15
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		creds:         hawkCredentials{ID: cfg.UserID, Key: cfg.APIKey},
		ext:           cfg.OrgID,
		limiter:       ratelimit.New(cfg.RateRequests, cfg.RateInterval),
		http:          &http.Client{Timeout: cfg.Timeout},
		retryDelay:    cfg.RetryDelay,
		retryFactor:   cfg.RetryFactor,
		retryAttempts: cfg.RetryAttempts,
		now:           time.Now,
		nonce:         newNonce,
		sleepFor:      sleepCtx,
	}
}

// AgentsPage is one page of the agents stream.
type AgentsPage struct {
	Token  string         `json:"token"`
	Agents []models.Agent `json:"agents"`
}

// VulnerabilitiesPage is one page of the open findings stream.
type VulnerabilitiesPage struct {
	Token string                 `json:"token"`
	CVEs  []models.Vulnerability `json:"cves"`
}

// VulnerableServersPage is one page of affected servers for a single CVE.
type VulnerableServersPage struct {
	Token   string                    `json:"token"`
	Servers []models.VulnerableServer `json:"servers"`
}

// ServerAgents fetches one page of agents with the given status.
func (c *Client) ServerAgents(ctx context.Context, status models.AgentStatus, token string) (*AgentsPage, error) {
	return getPage[AgentsPage](ctx, c, "agents?status="+url.QueryEscape(string(status)), token)
}

// Vulnerabilities fetches one page of open findings.
func (c *Client) Vulnerabilities(ctx context.Context, token string) (*VulnerabilitiesPage, error) {
	return getPage[VulnerabilitiesPage](ctx, c, "vulnerabilities", token)
}

// VulnerableServers fetches one page of servers affected by a CVE.
func (c *Client) VulnerableServers(ctx context.Context, cveNumber, token string) (*VulnerableServersPage, error) {
	return getPage[VulnerableServersPage](ctx, c, "vulnerabilities/"+url.PathEscape(cveNumber)+"/servers", token)
}

// getPage runs one paginated GET, appending the continuation token to the
// resource URL before signing.
func getPage[T any](ctx context.Context, c *Client, resource, token string) (*T, error) {
	u, err := url.Parse(c.baseURL + "/" + resource)
	if err != nil {
		return nil, fmt.Errorf("build request url for %s: %w", resource, err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	var out T
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			metrics.APIRetries.WithLabelValues(metricResource(u.Path)).Inc()
			if err := c.sleepFor(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * c.retryFactor)
		}

		lastErr = c.doOnce(ctx, u, out)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(lastErr, &apiErr) || !apiErr.Retryable() {
			return lastErr
		}
		logger.Warnf("Transient failure on %s (status %d), attempt %d/%d", u.Path, apiErr.StatusCode, attempt, c.retryAttempts)
	}

	return fmt.Errorf("retry budget exhausted for %s: %w", u.Path, lastErr)
}

func (c *Client) doOnce(ctx context.Context, u *url.URL, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// The signature covers the exact URL, continuation token included.
	header, err := hawkHeader(c.creds, c.ext, http.MethodGet, u.String(), c.now().Unix(), c.nonce())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", u.Path, err)
	}
	defer resp.Body.Close()

	metrics.APIRequests.WithLabelValues(metricResource(u.Path), strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Resource:   u.Path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", u.Path, err)
	}
	logger.Debugf("Fetch completed: %s (rate limit remaining %s)", u.Path, resp.Header.Get("x-rate-limit-remaining"))
	return nil
}

// metricResource collapses per-CVE paths into a bounded label set.
func metricResource(path string) string {
	if strings.HasSuffix(path, "/servers") {
		return "servers"
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
