package stream

import (
	"time"

	"github.com/okian/talentmatch/pkg/logger"
)

// Option configures a Consumer.
type Option func(*Consumer)

// WithStream sets the stream name.
func WithStream(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.stream = name
		}
	}
}

// WithGroup sets the consumer group.
func WithGroup(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.group = name
		}
	}
}

// WithConsumerName sets this member's name within the group.
func WithConsumerName(name string) Option {
	return func(c *Consumer) {
		if name != "" {
			c.consumer = name
		}
	}
}

// WithBatch sets how many entries are read per call.
func WithBatch(n int64) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithBlock sets how long a read waits for new entries.
func WithBlock(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.block = d
		}
	}
}

// WithClaimIdle sets how long an entry must sit unacknowledged before it is
// reclaimed, and how often reclaiming runs.
func WithClaimIdle(idle, every time.Duration) Option {
	return func(c *Consumer) {
		if idle > 0 {
			c.claimIdle = idle
		}
		if every > 0 {
			c.claimEvery = every
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.log = l
		}
	}
}
