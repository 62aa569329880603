// Package replay resubmits recorded events to a running service, or
// generates synthetic job/resume traffic, and optionally checks that every
// pair reached a terminal correlation state.
package replay

import "time"

const (
	defaultWorkers       = 8
	defaultTimeout       = 10 * time.Second
	defaultVerifyTimeout = 2 * time.Minute
	defaultPollInterval  = 500 * time.Millisecond
	defaultMaxRetries    = 20
	resumesPerJob        = 10
)

// Config holds the replay settings.
type Config struct {
	BaseURL string
	// File is a JSON Lines file of raw events; ignored when Synthetic > 0.
	File string
	// Synthetic is the number of job/resume pairs to generate.
	Synthetic int
	Seed      uint64
	Workers   int
	Timeout   time.Duration
	// MaxRetries bounds resubmission of a 429-refused event.
	MaxRetries int

	Verify        bool
	VerifyTimeout time.Duration
	PollInterval  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.VerifyTimeout <= 0 {
		out.VerifyTimeout = defaultVerifyTimeout
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	return out
}

// Stats summarises one replay.
type Stats struct {
	Events   int `json:"events"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
	Retried  int `json:"retried"`

	Pairs     int `json:"pairs"`
	Scored    int `json:"scored"`
	MatchFail int `json:"matchFailed"`
	Unsettled int `json:"unsettled"`

	Duration time.Duration `json:"duration"`
}
