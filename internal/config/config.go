// Package config defines the service configuration and how it is loaded.
package config

import (
	"os"
	"runtime"
	"time"

	"github.com/okian/talentmatch/internal/domain/scoring"
)

// Kinds accepted by the pluggable components.
const (
	ProviderNone    = "none"
	ProviderLexical = "lexical"
	ProviderGemini  = "gemini"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"

	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"

	PublisherMemory = "memory"
	PublisherLog    = "log"
	PublisherRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds each shard queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount is the number of shards, one worker each.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the publish idempotency guard.
	DedupeSize int `koanf:"dedupe_size"`
	// MaxMatchesLimit caps GET /matches/{jobId}?limit.
	MaxMatchesLimit int `koanf:"max_matches_limit"`

	ModelVersion                string          `koanf:"model_version"`
	CorrelationTimeoutSeconds   int             `koanf:"correlation_timeout_seconds"`
	SweepIntervalMS             int             `koanf:"sweep_interval_ms"`
	RetentionSeconds            int             `koanf:"retention_seconds"`
	SimilarityProviderTimeoutMS int             `koanf:"similarity_provider_timeout_ms"`
	GapPenaltyCapPoints         float64         `koanf:"gap_penalty_cap_points"`
	Weights                     scoring.Weights `koanf:"weights"`

	Retry      RetryConfig      `koanf:"retry"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Storage    StorageConfig    `koanf:"storage"`
	Publisher  PublisherConfig  `koanf:"publisher"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

// RetryConfig bounds re-scoring after transient failures.
type RetryConfig struct {
	MaxAttempts int     `koanf:"max_attempts"`
	BaseDelayMS int     `koanf:"base_delay_ms"`
	Factor      float64 `koanf:"factor"`
	Jitter      float64 `koanf:"jitter"`
}

// SimilarityConfig selects and guards the semantic skill provider.
type SimilarityConfig struct {
	Provider      string        `koanf:"provider"`
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Cache         string        `koanf:"cache"`
	CacheSize     int           `koanf:"cache_size"`
	CacheTTLSecs  int           `koanf:"cache_ttl_seconds"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	MaxRequests     uint32  `koanf:"max_requests"`
	IntervalSeconds int     `koanf:"interval_seconds"`
	TimeoutSeconds  int     `koanf:"timeout_seconds"`
	MinRequests     uint32  `koanf:"min_requests"`
	FailureRatio    float64 `koanf:"failure_ratio"`
}

// StorageConfig selects the correlation and result store.
type StorageConfig struct {
	Kind          string `koanf:"kind"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	PostgresURL   string `koanf:"postgres_url"`
}

// PublisherConfig selects where match events go.
type PublisherConfig struct {
	Kind   string `koanf:"kind"`
	Stream string `koanf:"stream"`
}

// IngestConfig controls the ingest paths. HTTP is always on; the Redis
// stream consumer is optional.
type IngestConfig struct {
	RedisStream   bool    `koanf:"redis_stream"`
	Stream        string  `koanf:"stream"`
	Group         string  `koanf:"group"`
	Consumer      string  `koanf:"consumer"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Exporter   string  `koanf:"exporter"`
	SampleRate float64 `koanf:"sample_rate"`
}

// New returns a Config holding the defaults.
func New() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "talentmatch"
	}
	return &Config{
		LogLevel:                    "info",
		LogFormat:                   "text",
		Addr:                        ":9080",
		QueueSize:                   10_000,
		WorkerCount:                 runtime.NumCPU() * 2,
		DedupeSize:                  100_000,
		MaxMatchesLimit:             100,
		ModelVersion:                scoring.DefaultModelVersion,
		CorrelationTimeoutSeconds:   600,
		SweepIntervalMS:             5000,
		RetentionSeconds:            86400,
		SimilarityProviderTimeoutMS: 5000,
		GapPenaltyCapPoints:         scoring.DefaultGapPenaltyCap,
		Weights:                     scoring.DefaultWeights(),
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 1000,
			Factor:      2,
			Jitter:      0.2,
		},
		Similarity: SimilarityConfig{
			Provider:      ProviderNone,
			Model:         "gemini-2.5-flash",
			RatePerSecond: 5,
			Burst:         5,
			Cache:         CacheMemory,
			CacheSize:     50_000,
			CacheTTLSecs:  7 * 24 * 3600,
			Breaker: BreakerConfig{
				MaxRequests:     1,
				IntervalSeconds: 60,
				TimeoutSeconds:  30,
				MinRequests:     5,
				FailureRatio:    0.6,
			},
		},
		Storage: StorageConfig{
			Kind:      StorageMemory,
			RedisAddr: "localhost:6379",
		},
		Publisher: PublisherConfig{
			Kind:   PublisherLog,
			Stream: "talentmatch.matches",
		},
		Ingest: IngestConfig{
			Stream:   "talentmatch.events",
			Group:    "talentmatch",
			Consumer: host,
			Burst:    100,
		},
		Tracing: TracingConfig{
			Exporter:   "stdout",
			SampleRate: 1.0,
		},
	}
}

// Window is the correlation window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.CorrelationTimeoutSeconds) * time.Second
}

// SweepInterval is the sweeper tick.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// Retention is how long settled records are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

// ProviderTimeout is the deadline for one scoring run's provider calls.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.SimilarityProviderTimeoutMS) * time.Millisecond
}

// RetryBaseDelay is the first retry delay.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}
