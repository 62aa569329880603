package scoring

import "time"

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights sets the aggregation weights.
func WithWeights(w Weights) Option {
	return func(s *Scorer) {
		s.weights = w
	}
}

// WithSimilarity plugs in a semantic similarity provider for skill matching.
func WithSimilarity(p SimilarityProvider) Option {
	return func(s *Scorer) {
		s.provider = p
	}
}

// WithProviderTimeout bounds all provider calls of one scoring run.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithGapPenaltyCap sets the maximum gap penalty in points.
func WithGapPenaltyCap(points float64) Option {
	return func(s *Scorer) {
		if points >= 0 {
			s.gapCap = points
		}
	}
}

// WithModelVersion sets the version stamped on every result.
func WithModelVersion(v string) Option {
	return func(s *Scorer) {
		if v != "" {
			s.modelVersion = v
		}
	}
}

// WithClock overrides time.Now, used for computedAt and open-ended positions.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}
