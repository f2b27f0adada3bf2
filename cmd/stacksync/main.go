package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stacksync/config"
	"stacksync/internal/cache"
	"stacksync/internal/convert"
	"stacksync/internal/graph"
	"stacksync/internal/logger"
	"stacksync/internal/output/opshttp"
	"stacksync/internal/output/opsjson"
	"stacksync/internal/pipeline"
	"stacksync/internal/reconcile"
	"stacksync/internal/threatstack"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("stacksync.yml"); err == nil {
		return "stacksync.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "stacksync.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "stacksync.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.StackSync.ThreatStack.BaseURL == "" {
		cfg.StackSync.ThreatStack.BaseURL = "https://api.threatstack.com/v2"
	}

	if cfg.StackSync.Fetch.AgentsBatchPages <= 0 {
		cfg.StackSync.Fetch.AgentsBatchPages = 1
	}
	if cfg.StackSync.Fetch.VulnsBatchPages <= 0 {
		cfg.StackSync.Fetch.VulnsBatchPages = 1
	}
	if v := envInt("TS_AGENTS_BATCH_PAGES"); v > 0 {
		cfg.StackSync.Fetch.AgentsBatchPages = v
	}
	if v := envInt("TS_VULNS_BATCH_PAGES"); v > 0 {
		cfg.StackSync.Fetch.VulnsBatchPages = v
	}
	if cfg.StackSync.Fetch.RateLimit.Requests <= 0 {
		cfg.StackSync.Fetch.RateLimit.Requests = 10
	}
	if cfg.StackSync.Fetch.RateLimit.Interval <= 0 {
		cfg.StackSync.Fetch.RateLimit.Interval = 5 * time.Second
	}
	if cfg.StackSync.Fetch.Retry.Delay <= 0 {
		cfg.StackSync.Fetch.Retry.Delay = 5 * time.Second
	}
	if cfg.StackSync.Fetch.Retry.Factor <= 1 {
		cfg.StackSync.Fetch.Retry.Factor = 1.2
	}
	if cfg.StackSync.Fetch.Retry.Attempts <= 0 {
		cfg.StackSync.Fetch.Retry.Attempts = 15
	}
	if cfg.StackSync.Fetch.Timeout <= 0 {
		cfg.StackSync.Fetch.Timeout = 30 * time.Second
	}

	if cfg.StackSync.Cache.Addr == "" {
		cfg.StackSync.Cache.Addr = "127.0.0.1:6379"
	}
	if cfg.StackSync.Cache.KeyPrefix == "" {
		cfg.StackSync.Cache.KeyPrefix = "stacksync:cache"
	}
	if cfg.StackSync.Graph.Addr == "" {
		cfg.StackSync.Graph.Addr = cfg.StackSync.Cache.Addr
	}
	if cfg.StackSync.Graph.KeyPrefix == "" {
		cfg.StackSync.Graph.KeyPrefix = "stacksync:graph"
	}

	if cfg.StackSync.Export.Mode == "" {
		cfg.StackSync.Export.Mode = "none"
	}
	if cfg.StackSync.Export.File.Path == "" {
		cfg.StackSync.Export.File.Path = "output/operations.jsonl"
	}

	if cfg.StackSync.Metrics.Listen == "" {
		cfg.StackSync.Metrics.Listen = ":9469"
	}

	if cfg.StackSync.Logging.Level == "" {
		cfg.StackSync.Logging.Level = "info"
	}
}

func envInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: ignoring %s=%q: %v", name, raw, err)
		return 0
	}
	return v
}

// exportSink is an operation sink that owns an underlying resource.
type exportSink interface {
	reconcile.OperationSink
	Close() error
}

func buildSink(cfg config.ExportConfig) (exportSink, error) {
	switch cfg.Mode {
	case "none":
		return nil, nil
	case "file":
		w, err := opsjson.NewWriter(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("create operation file writer: %w", err)
		}
		logger.Infof("Export mode: file (%s)", cfg.File.Path)
		return w, nil
	case "http":
		w, err := opshttp.NewWriter(opshttp.Config{
			URL:     cfg.HTTP.URL,
			Timeout: cfg.HTTP.Timeout,
			Headers: cfg.HTTP.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("create operation HTTP writer: %w", err)
		}
		logger.Infof("Export mode: http (%s)", cfg.HTTP.URL)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown export mode: %s", cfg.Mode)
	}
}

func runCommand(mode string, args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.StackSync.Logging.Enabled, cfg.StackSync.Logging.Level, cfg.StackSync.Logging.File, cfg.StackSync.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("StackSync starting (%s)", mode)
	logger.Infof("Config loaded from: %s", configPath)

	if err := cfg.StackSync.ThreatStack.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	client := threatstack.New(threatstack.Config{
		BaseURL:       cfg.StackSync.ThreatStack.BaseURL,
		OrgID:         cfg.StackSync.ThreatStack.OrgID,
		UserID:        cfg.StackSync.ThreatStack.UserID,
		APIKey:        cfg.StackSync.ThreatStack.APIKey,
		RateRequests:  cfg.StackSync.Fetch.RateLimit.Requests,
		RateInterval:  cfg.StackSync.Fetch.RateLimit.Interval,
		RetryDelay:    cfg.StackSync.Fetch.Retry.Delay,
		RetryFactor:   cfg.StackSync.Fetch.Retry.Factor,
		RetryAttempts: cfg.StackSync.Fetch.Retry.Attempts,
		Timeout:       cfg.StackSync.Fetch.Timeout,
	})

	resourceCache, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:      cfg.StackSync.Cache.Addr,
		Password:  cfg.StackSync.Cache.Password,
		DB:        cfg.StackSync.Cache.DB,
		KeyPrefix: cfg.StackSync.Cache.KeyPrefix,
	})
	if err != nil {
		logger.Fatalf("Failed to connect resource cache: %v", err)
	}
	defer resourceCache.Close()

	store, err := graph.NewRedisStore(graph.RedisConfig{
		Addr:      cfg.StackSync.Graph.Addr,
		Password:  cfg.StackSync.Graph.Password,
		DB:        cfg.StackSync.Graph.DB,
		KeyPrefix: cfg.StackSync.Graph.KeyPrefix,
	})
	if err != nil {
		logger.Fatalf("Failed to connect graph store: %v", err)
	}
	defer store.Close()

	sink, err := buildSink(cfg.StackSync.Export)
	if err != nil {
		logger.Fatalf("Failed to create export sink: %v", err)
	}
	if sink != nil {
		defer sink.Close()
	}

	account := convert.AccountConfig{
		OrgID:   cfg.StackSync.ThreatStack.OrgID,
		OrgName: cfg.StackSync.ThreatStack.OrgName,
	}
	var opSink reconcile.OperationSink
	if sink != nil {
		opSink = sink
	}
	sync := reconcile.New(account, resourceCache, store, opSink)
	pipe := pipeline.New(client, resourceCache, sync, pipeline.Config{
		AgentsBatchPages: cfg.StackSync.Fetch.AgentsBatchPages,
		VulnsBatchPages:  cfg.StackSync.Fetch.VulnsBatchPages,
	})

	if cfg.StackSync.Metrics.Enabled {
		go serveMetrics(cfg.StackSync.Metrics.Listen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("Shutting down")
		cancel()
	}()

	switch mode {
	case "fetch":
		if err := pipe.FetchOnce(ctx); err != nil {
			logger.Fatalf("Fetch failed: %v", err)
		}
	case "sync":
		summary, err := pipe.Sync(ctx)
		if err != nil {
			logger.Fatalf("Sync failed: %v", err)
		}
		logSummary(summary)
	case "run":
		summary, err := pipe.Run(ctx)
		if err != nil {
			logger.Fatalf("Run failed: %v", err)
		}
		logSummary(summary)
	}

	logger.Infof("StackSync finished")
}

func serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Infof("Metrics listening on %s", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Errorf("Metrics listener stopped: %v", err)
	}
}

func logSummary(summary *reconcile.Summary) {
	logger.Infof("Graph reconciled: entities created=%d updated=%d deleted=%d, relationships created=%d updated=%d deleted=%d",
		summary.EntitiesCreated, summary.EntitiesUpdated, summary.EntitiesDeleted,
		summary.RelationshipsCreated, summary.RelationshipsUpdated, summary.RelationshipsDeleted)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [fetch|sync|run] [config.yml]\n", filepath.Base(os.Args[0]))
	os.Exit(2)
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "fetch", "sync", "run":
			runCommand(os.Args[1], os.Args[2:])
			return
		case "-h", "--help", "help":
			usage()
		default:
			// Backward-compatible mode: first arg is config path.
			runCommand("run", os.Args[1:])
			return
		}
	}

	runCommand("run", nil)
}
