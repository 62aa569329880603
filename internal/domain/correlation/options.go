package correlation

import (
	"time"

	"github.com/okian/talentmatch/pkg/logger"
)

// Option applies a configuration option to the Correlator.
type Option func(*Correlator)

// WithWindow sets how long a pair waits for its partner event.
func WithWindow(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithRetention sets how long settled records are kept for redelivery
// detection.
func WithRetention(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMaxRetries sets the number of scoring retries before scoring_error.
func WithMaxRetries(n int) Option {
	return func(c *Correlator) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithBackoff(b *Backoff) Option {
	return func(c *Correlator) {
		if b != nil {
			c.backoff = b
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAfterFunc replaces the retry timer, mostly so tests can fire retries
// synchronously.
func WithAfterFunc(after func(time.Duration, func())) Option {
	return func(c *Correlator) {
		if after != nil {
			c.after = after
		}
	}
}

func WithDispatcher(d Dispatcher) Option {
	return func(c *Correlator) {
		c.dispatcher = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.log = l
		}
	}
}
