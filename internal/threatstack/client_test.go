package threatstack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stacksync/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:       srv.URL + "/v2",
		OrgID:         "org-1",
		UserID:        "user-1",
		APIKey:        "secret",
		RateRequests:  100,
		RateInterval:  10 * time.Millisecond,
		RetryDelay:    time.Millisecond,
		RetryAttempts: 3,
	})
	c.sleepFor = func(ctx context.Context, d time.Duration) error { return nil }
	return c, srv
}

func TestServerAgentsPaginates(t *testing.T) {
	var gotTokens []string
	var gotAuth []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/agents", r.URL.Path)
		require.Equal(t, "online", r.URL.Query().Get("status"))
		gotTokens = append(gotTokens, r.URL.Query().Get("token"))
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))

		if r.URL.Query().Get("token") == "" {
			fmt.Fprint(w, `{"token":"t2","agents":[{"id":"a1","status":"online"}]}`)
		} else {
			fmt.Fprint(w, `{"token":null,"agents":[{"id":"a2","status":"online"}]}`)
		}
	})
	c, _ := newTestClient(t, handler)
	ctx := context.Background()

	first, err := c.ServerAgents(ctx, models.AgentOnline, "")
	require.NoError(t, err)
	assert.Equal(t, "t2", first.Token)
	require.Len(t, first.Agents, 1)
	assert.Equal(t, "a1", first.Agents[0].ID)

	second, err := c.ServerAgents(ctx, models.AgentOnline, first.Token)
	require.NoError(t, err)
	assert.Empty(t, second.Token)
	assert.Equal(t, "a2", second.Agents[0].ID)

	assert.Equal(t, []string{"", "t2"}, gotTokens)
	for _, auth := range gotAuth {
		assert.True(t, strings.HasPrefix(auth, `Hawk id="user-1"`), "unexpected authorization header: %s", auth)
	}
}

func TestSignatureRecomputedPerPage(t *testing.T) {
	var auth []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"token":null,"agents":[]}`)
	})
	c, _ := newTestClient(t, handler)
	// Pin timestamp and nonce so the only varying signing input is the URL.
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	c.nonce = func() string { return "abc123" }

	ctx := context.Background()
	_, err := c.ServerAgents(ctx, models.AgentOnline, "")
	require.NoError(t, err)
	_, err = c.ServerAgents(ctx, models.AgentOnline, "t2")
	require.NoError(t, err)

	require.Len(t, auth, 2)
	assert.NotEqual(t, auth[0], auth[1])
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"token":null,"cves":[{"cveNumber":"CVE-2018-19932"}]}`)
	})
	c, _ := newTestClient(t, handler)

	page, err := c.Vulnerabilities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, page.CVEs, 1)
	assert.Equal(t, "CVE-2018-19932", page.CVEs[0].CVENumber)
}

func TestRetriesRateLimitedResponses(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"token":null,"agents":[]}`)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.ServerAgents(context.Background(), models.AgentOffline, "")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestAuthorizationFailureAbortsImmediately(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.VulnerableServers(context.Background(), "CVE-2018-19932", "")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "403 must not be retried")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Authorization())
	assert.False(t, apiErr.Authentication())
	assert.Contains(t, apiErr.Resource, "/vulnerabilities/CVE-2018-19932/servers")
}

func TestAuthenticationFailureAbortsImmediately(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.ServerAgents(context.Background(), models.AgentOnline, "")
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Authentication())
}

func TestRetryBudgetExhausts(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.Vulnerabilities(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "retry budget exhausted")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
