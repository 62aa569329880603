package scoring

import "errors"

var (
	// ErrScoring marks a sub-scorer or aggregation failure. The correlator
	// treats it as transient and retries with backoff.
	ErrScoring = errors.New("scoring failed")

	// ErrInvalidWeights is returned for negative weights or an empty
	// mandatory weight sum.
	ErrInvalidWeights = errors.New("invalid scoring weights")
)
