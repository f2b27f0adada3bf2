package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	StackSync StackSyncConfig `yaml:"stacksync"`
}

// StackSyncConfig is the project configuration.
type StackSyncConfig struct {
	ThreatStack ThreatStackConfig `yaml:"threatstack"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Cache       RedisConfig       `yaml:"cache"`
	Graph       RedisConfig       `yaml:"graph"`
	Export      ExportConfig      `yaml:"export"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ThreatStackConfig holds upstream API credentials and endpoint.
type ThreatStackConfig struct {
	BaseURL string `yaml:"base_url"`
	OrgID   string `yaml:"org_id"`
	OrgName string `yaml:"org_name"`
	UserID  string `yaml:"user_id"`
	APIKey  string `yaml:"api_key"`
}

// FetchConfig bounds fetch invocations and upstream request pacing.
type FetchConfig struct {
	AgentsBatchPages int           `yaml:"agents_batch_pages"`
	VulnsBatchPages  int           `yaml:"vulns_batch_pages"`
	RateLimit        RateConfig    `yaml:"rate_limit"`
	Retry            RetryConfig   `yaml:"retry"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RateConfig caps requests per rolling interval.
type RateConfig struct {
	Requests int           `yaml:"requests"`
	Interval time.Duration `yaml:"interval"`
}

// RetryConfig controls backoff for retryable upstream failures.
type RetryConfig struct {
	Delay    time.Duration `yaml:"delay"`
	Factor   float64       `yaml:"factor"`
	Attempts int           `yaml:"attempts"`
}

// RedisConfig locates a Redis keyspace.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ExportConfig controls the optional operation export sink.
type ExportConfig struct {
	Mode string           `yaml:"mode"` // none|file|http
	File FileOutputConfig `yaml:"file"`
	HTTP HTTPOutputConfig `yaml:"http"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the upstream credentials are complete. All four
// fields are required together; naming the missing ones beats a signed
// request bouncing with a bare 401 later.
func (c *ThreatStackConfig) Validate() error {
	missing := []string{}
	if c.OrgID == "" {
		missing = append(missing, "org_id")
	}
	if c.OrgName == "" {
		missing = append(missing, "org_name")
	}
	if c.UserID == "" {
		missing = append(missing, "user_id")
	}
	if c.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("threatstack config missing required fields: %v", missing)
	}
	return nil
}
