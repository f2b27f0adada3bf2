package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
stacksync:
  threatstack:
    org_id: "123456"
    org_name: "my-ts-org"
    user_id: "user-1"
    api_key: "secret"
  fetch:
    agents_batch_pages: 3
    rate_limit:
      requests: 10
      interval: 5s
    retry:
      delay: 5s
      factor: 1.2
      attempts: 15
  cache:
    addr: "127.0.0.1:6379"
    key_prefix: "stacksync:cache"
  export:
    mode: http
    http:
      url: "https://graph.example.com/ingest"
      timeout: 10s
      headers:
        Authorization: "Bearer token"
  logging:
    enabled: true
    level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stacksync.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	ts := cfg.StackSync.ThreatStack
	assert.Equal(t, "123456", ts.OrgID)
	assert.Equal(t, "my-ts-org", ts.OrgName)
	require.NoError(t, ts.Validate())

	assert.Equal(t, 3, cfg.StackSync.Fetch.AgentsBatchPages)
	assert.Equal(t, 5*time.Second, cfg.StackSync.Fetch.RateLimit.Interval)
	assert.Equal(t, 1.2, cfg.StackSync.Fetch.Retry.Factor)
	assert.Equal(t, "http", cfg.StackSync.Export.Mode)
	assert.Equal(t, "Bearer token", cfg.StackSync.Export.HTTP.Headers["Authorization"])
	assert.Equal(t, "debug", cfg.StackSync.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestValidateNamesEveryMissingField(t *testing.T) {
	cfg := ThreatStackConfig{OrgID: "123456"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org_name")
	assert.Contains(t, err.Error(), "user_id")
	assert.Contains(t, err.Error(), "api_key")
	assert.NotContains(t, err.Error(), "org_id")
}

func TestValidateComplete(t *testing.T) {
	cfg := ThreatStackConfig{OrgID: "a", OrgName: "b", UserID: "c", APIKey: "d"}
	require.NoError(t, cfg.Validate())
}
