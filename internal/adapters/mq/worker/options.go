package worker

import (
	"github.com/okian/talentmatch/pkg/logger"
)

type poolConfig struct {
	shards int
}

// Option applies a configuration option to the Pool.
type Option func(*Pool, *poolConfig)

// WithShards sets the number of shards. Values below one keep the default
// of twice the CPU count.
func WithShards(n int) Option {
	return func(_ *Pool, c *poolConfig) {
		if n > 0 {
			c.shards = n
		}
	}
}

// WithQueueSize sets the capacity of each shard queue.
func WithQueueSize(n int) Option {
	return func(p *Pool, _ *poolConfig) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool, _ *poolConfig) {
		if l != nil {
			p.logger = l
		}
	}
}
