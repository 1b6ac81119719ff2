// Package config loads and validates extractor configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs dispatcher and crawl pipeline behavior.
type CrawlerConfig struct {
	Concurrency           int      `mapstructure:"concurrency"`
	PerJobConcurrency     int      `mapstructure:"per_job_concurrency"`
	MaxActiveJobs         int      `mapstructure:"max_active_jobs"`
	QueueDepth            int      `mapstructure:"queue_depth"`
	FetchTimeoutSeconds   int      `mapstructure:"fetch_timeout_seconds"`
	FetchAttempts         int      `mapstructure:"fetch_attempts"`
	UserAgent             string   `mapstructure:"user_agent"`
	KeepQuery             bool     `mapstructure:"keep_query"`
	ExpectedURLs          uint     `mapstructure:"expected_urls"`
	AllowedHosts          []string `mapstructure:"allowed_hosts"`
	DomainRPS             float64  `mapstructure:"domain_rps"`
	DomainBurst           int      `mapstructure:"domain_burst"`
	FatalErrorRatio       float64  `mapstructure:"fatal_error_ratio"`
	FatalErrorMinAttempts int      `mapstructure:"fatal_error_min_attempts"`
	MaxDepthDefault       int      `mapstructure:"max_depth_default"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Always          bool   `mapstructure:"always"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int    `mapstructure:"promotion_threshold"`
	WaitSelector    string `mapstructure:"wait_selector"`
}

// SinkConfig selects and tunes the graph sink.
type SinkConfig struct {
	Kind             string   `mapstructure:"kind"`
	BaseURL          string   `mapstructure:"base_url"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	BackoffInitialMs int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int      `mapstructure:"backoff_max_ms"`
	Buffer           int      `mapstructure:"buffer"`
	Workers          int      `mapstructure:"workers"`
	Neo4jURI         string   `mapstructure:"neo4j_uri"`
	Neo4jUser        string   `mapstructure:"neo4j_user"`
	Neo4jPassword    string   `mapstructure:"neo4j_password"`
	Neo4jDatabase    string   `mapstructure:"neo4j_database"`
	KafkaBrokers     []string `mapstructure:"kafka_brokers"`
	KafkaTopic       string   `mapstructure:"kafka_topic"`
}

// RegistryConfig controls job retention and the optional snapshot store.
type RegistryConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	PostgresTable   string        `mapstructure:"postgres_table"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
	SnapshotTTL     time.Duration `mapstructure:"snapshot_ttl"`
}

// ArchiveConfig sets where raw page bodies are kept.
type ArchiveConfig struct {
	Kind        string `mapstructure:"kind"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for completion notifications.
type PublisherConfig struct {
	Kind      string `mapstructure:"kind"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Sink kinds.
const (
	SinkHTTP   = "http"
	SinkNeo4j  = "neo4j"
	SinkKafka  = "kafka"
	SinkMemory = "memory"
	SinkNone   = "none"
)

// Archive kinds.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Publisher kinds.
const (
	PublisherNone   = "none"
	PublisherMemory = "memory"
	PublisherPubSub = "pubsub"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXTRACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Hosting platforms hand the listen port over in PORT.
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 15)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.per_job_concurrency", 4)
	v.SetDefault("crawler.max_active_jobs", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.fetch_timeout_seconds", 30)
	v.SetDefault("crawler.fetch_attempts", 2)
	v.SetDefault("crawler.user_agent", "doc-extractor/0.1")
	v.SetDefault("crawler.keep_query", false)
	v.SetDefault("crawler.expected_urls", 10000)
	v.SetDefault("crawler.domain_rps", 2.0)
	v.SetDefault("crawler.domain_burst", 2)
	v.SetDefault("crawler.fatal_error_ratio", 0.0)
	v.SetDefault("crawler.fatal_error_min_attempts", 10)
	v.SetDefault("crawler.max_depth_default", 1)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.always", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 512)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("sink.kind", SinkNone)
	v.SetDefault("sink.timeout_seconds", 10)
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.backoff_initial_ms", 250)
	v.SetDefault("sink.backoff_max_ms", 5000)
	v.SetDefault("sink.buffer", 256)
	v.SetDefault("sink.workers", 2)
	v.SetDefault("sink.kafka_topic", "extracted-entities")
	v.SetDefault("registry.retention", time.Hour)
	v.SetDefault("registry.janitor_interval", time.Minute)
	v.SetDefault("registry.redis_prefix", "docextractor:job:")
	v.SetDefault("registry.snapshot_ttl", 24*time.Hour)
	v.SetDefault("registry.postgres_table", "extraction_snapshots")
	v.SetDefault("archive.kind", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("publisher.kind", PublisherNone)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerJobConcurrency <= 0 {
		return fmt.Errorf("crawler.per_job_concurrency must be > 0")
	}
	if c.Crawler.MaxActiveJobs <= 0 {
		return fmt.Errorf("crawler.max_active_jobs must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 0 {
		return fmt.Errorf("crawler.max_depth_default must be >= 0")
	}
	if c.Crawler.FatalErrorRatio < 0 || c.Crawler.FatalErrorRatio > 1 {
		return fmt.Errorf("crawler.fatal_error_ratio must be within [0,1]")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Sink.Kind {
	case SinkNone, SinkMemory:
	case SinkHTTP:
		if c.Sink.BaseURL == "" {
			return fmt.Errorf("sink.base_url must be set for the http sink")
		}
	case SinkNeo4j:
		if c.Sink.Neo4jURI == "" {
			return fmt.Errorf("sink.neo4j_uri must be set for the neo4j sink")
		}
	case SinkKafka:
		if len(c.Sink.KafkaBrokers) == 0 || c.Sink.KafkaTopic == "" {
			return fmt.Errorf("sink.kafka_brokers and sink.kafka_topic must be set for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}
	if c.Registry.RedisAddr != "" && c.Registry.PostgresDSN != "" {
		return fmt.Errorf("registry.redis_addr and registry.postgres_dsn are mutually exclusive")
	}
	switch c.Archive.Kind {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.kind %q", c.Archive.Kind)
	}
	switch c.Publisher.Kind {
	case PublisherNone, PublisherMemory:
	case PublisherPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.kind %q", c.Publisher.Kind)
	}
	return nil
}

// FetchTimeout returns the per-page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
