package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  per_job_concurrency: 3
  user_agent: docs-agent
  allowed_hosts: ["api.example.com"]
  fetch_timeout_seconds: 45
  fatal_error_ratio: 0.5
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 70
sink:
  kind: kafka
  kafka_brokers: ["localhost:9092"]
  kafka_topic: entities
registry:
  retention: 30m
archive:
  kind: local
  base_dir: /tmp/pages
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.PerJobConcurrency != 3 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.AllowedHosts) != 1 || cfg.Crawler.AllowedHosts[0] != "api.example.com" {
		t.Fatalf("expected allowed hosts to load: %v", cfg.Crawler.AllowedHosts)
	}
	if cfg.Sink.Kind != SinkKafka || cfg.Sink.KafkaTopic != "entities" {
		t.Fatalf("expected kafka sink: %+v", cfg.Sink)
	}
	if cfg.Registry.Retention != 30*time.Minute {
		t.Fatalf("expected 30m retention, got %v", cfg.Registry.Retention)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	// Untouched keys keep their defaults.
	if cfg.Crawler.MaxDepthDefault != 1 || cfg.Sink.MaxAttempts != 3 {
		t.Fatalf("expected defaults to survive: %+v %+v", cfg.Crawler, cfg.Sink)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("EXTRACTOR_CRAWLER_CONCURRENCY", "12")
	t.Setenv("EXTRACTOR_SINK_KIND", "memory")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 12 {
		t.Fatalf("expected env concurrency 12, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Sink.Kind != SinkMemory {
		t.Fatalf("expected memory sink, got %q", cfg.Sink.Kind)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected PORT override 7070, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "PORT") {
		t.Fatalf("expected PORT parse error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{
			Concurrency:         1,
			PerJobConcurrency:   1,
			MaxActiveJobs:       1,
			QueueDepth:          1,
			FetchTimeoutSeconds: 10,
		},
		Sink:      SinkConfig{Kind: SinkNone},
		Archive:   ArchiveConfig{Kind: ArchiveNone},
		Publisher: PublisherConfig{Kind: PublisherNone},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Crawler.Concurrency = 0 }, "crawler.concurrency"},
		{"invalid per job", func(c *Config) { c.Crawler.PerJobConcurrency = 0 }, "crawler.per_job_concurrency"},
		{"invalid timeout", func(c *Config) { c.Crawler.FetchTimeoutSeconds = 0 }, "crawler.fetch_timeout_seconds"},
		{"negative depth", func(c *Config) { c.Crawler.MaxDepthDefault = -1 }, "crawler.max_depth_default"},
		{"ratio above one", func(c *Config) { c.Crawler.FatalErrorRatio = 1.5 }, "crawler.fatal_error_ratio"},
		{"headless missing max parallel", func(c *Config) {
			c.Headless.Enabled = true
			c.Headless.MaxParallel = 0
		}, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"http sink without url", func(c *Config) { c.Sink.Kind = SinkHTTP }, "sink.base_url"},
		{"neo4j sink without uri", func(c *Config) { c.Sink.Kind = SinkNeo4j }, "sink.neo4j_uri"},
		{"kafka sink without brokers", func(c *Config) { c.Sink.Kind = SinkKafka }, "sink.kafka_brokers"},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "carrier-pigeon" }, "sink.kind"},
		{"local archive without dir", func(c *Config) { c.Archive.Kind = ArchiveLocal }, "archive.base_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Kind = ArchiveGCS }, "archive.gcs_bucket"},
		{"two snapshot stores", func(c *Config) {
			c.Registry.RedisAddr = "localhost:6379"
			c.Registry.PostgresDSN = "postgres://localhost/extractor"
		}, "mutually exclusive"},
		{"pubsub without project", func(c *Config) { c.Publisher.Kind = PublisherPubSub }, "publisher.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
