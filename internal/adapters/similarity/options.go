package similarity

import (
	"time"

	"github.com/okian/talentmatch/pkg/logger"
)

type guardConfig struct {
	breaker       BreakerSettings
	ratePerSecond float64
	burst         int
	log           logger.Logger
}

// GuardOption configures a Guarded provider.
type GuardOption func(*guardConfig)

// WithBreaker replaces the breaker settings. Zero fields keep their defaults.
func WithBreaker(s BreakerSettings) GuardOption {
	return func(c *guardConfig) {
		if s.MaxRequests > 0 {
			c.breaker.MaxRequests = s.MaxRequests
		}
		if s.Interval > 0 {
			c.breaker.Interval = s.Interval
		}
		if s.Timeout > 0 {
			c.breaker.Timeout = s.Timeout
		}
		if s.MinRequests > 0 {
			c.breaker.MinRequests = s.MinRequests
		}
		if s.FailureRatio > 0 {
			c.breaker.FailureRatio = s.FailureRatio
		}
	}
}

// WithRateLimit caps outgoing calls. A rate of zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) GuardOption {
	return func(c *guardConfig) {
		c.ratePerSecond = perSecond
		c.burst = burst
	}
}

// WithGuardLogger sets the logger for breaker state changes.
func WithGuardLogger(l logger.Logger) GuardOption {
	return func(c *guardConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// CacheOption configures a Cached provider.
type CacheOption func(*Cached)

// WithCacheLogger sets the logger used when the cache backend fails.
func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *Cached) {
		if l != nil {
			c.log = l
		}
	}
}

// WithKeyVersion sets the version prefix of cache keys, normally the
// scorer's full model version.
func WithKeyVersion(v string) CacheOption {
	return func(c *Cached) {
		if v != "" {
			c.keyVersion = v
		}
	}
}

// WithTTL sets the Redis entry lifetime. Zero keeps entries forever.
func WithTTL(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if d >= 0 {
			c.ttl = d
		}
	}
}

// WithCachePrefix sets the Redis key prefix.
func WithCachePrefix(p string) RedisCacheOption {
	return func(c *RedisCache) {
		if p != "" {
			c.prefix = p
		}
	}
}
