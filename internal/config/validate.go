package config

import (
	"fmt"
	"slices"
)

// Validate checks the loaded values. Every failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	positive := map[string]int{
		"queue_size":                     c.QueueSize,
		"worker_count":                   c.WorkerCount,
		"dedupe_size":                    c.DedupeSize,
		"max_matches_limit":              c.MaxMatchesLimit,
		"correlation_timeout_seconds":    c.CorrelationTimeoutSeconds,
		"sweep_interval_ms":              c.SweepIntervalMS,
		"retention_seconds":              c.RetentionSeconds,
		"similarity_provider_timeout_ms": c.SimilarityProviderTimeoutMS,
		"retry.base_delay_ms":            c.Retry.BaseDelayMS,
	}
	for _, name := range sortedKeys(positive) {
		if positive[name] <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, name, positive[name])
		}
	}

	if c.GapPenaltyCapPoints < 0 {
		return fmt.Errorf("%w: gap_penalty_cap_points must not be negative", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry.max_attempts must not be negative", ErrInvalidConfig)
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("%w: retry.factor must be >= 1, got %v", ErrInvalidConfig, c.Retry.Factor)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("%w: retry.jitter must be in [0,1), got %v", ErrInvalidConfig, c.Retry.Jitter)
	}

	if err := oneOf("similarity.provider", c.Similarity.Provider, ProviderNone, ProviderLexical, ProviderGemini); err != nil {
		return err
	}
	if err := oneOf("similarity.cache", c.Similarity.Cache, CacheNone, CacheMemory, CacheRedis); err != nil {
		return err
	}
	if c.Similarity.Provider == ProviderGemini && c.Similarity.APIKey == "" {
		return fmt.Errorf("%w: similarity.api_key is required for the gemini provider", ErrInvalidConfig)
	}
	if b := c.Similarity.Breaker; b.FailureRatio <= 0 || b.FailureRatio > 1 {
		return fmt.Errorf("%w: similarity.breaker.failure_ratio must be in (0,1]", ErrInvalidConfig)
	}

	if err := oneOf("storage.kind", c.Storage.Kind, StorageMemory, StorageRedis, StoragePostgres); err != nil {
		return err
	}
	if c.Storage.Kind == StoragePostgres && c.Storage.PostgresURL == "" {
		return fmt.Errorf("%w: storage.postgres_url is required for the postgres store", ErrInvalidConfig)
	}
	if err := oneOf("publisher.kind", c.Publisher.Kind, PublisherMemory, PublisherLog, PublisherRedis); err != nil {
		return err
	}
	if err := oneOf("tracing.exporter", c.Tracing.Exporter, "stdout", "none"); err != nil {
		return err
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// NeedsRedis reports whether any component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Storage.Kind == StorageRedis ||
		c.Publisher.Kind == PublisherRedis ||
		c.Ingest.RedisStream ||
		(c.Similarity.Provider != ProviderNone && c.Similarity.Cache == CacheRedis)
}

func oneOf(name, got string, allowed ...string) error {
	if slices.Contains(allowed, got) {
		return nil
	}
	return fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidConfig, name, allowed, got)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
