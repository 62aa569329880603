package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/okian/talentmatch/internal/adapters/similarity"

// BreakerSettings tunes when the breaker opens. The breaker trips once at
// least MinRequests calls were made in the current interval and the share of
// failures reaches FailureRatio.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings returns the settings used when none are given.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// Guarded puts a rate limiter and a circuit breaker in front of a provider.
// Every failure, including a rejected call, comes back wrapping
// ErrProviderUnavailable.
type Guarded struct {
	next    Provider
	cb      *gobreaker.CircuitBreaker[float64]
	limiter *rate.Limiter
	tracer  trace.Tracer
	log     logger.Logger
}

// NewGuarded wraps next.
func NewGuarded(next Provider, opts ...GuardOption) *Guarded {
	cfg := guardConfig{breaker: DefaultBreakerSettings(), log: logger.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &Guarded{next: next, tracer: otel.Tracer(tracerName), log: cfg.log}
	if cfg.ratePerSecond > 0 {
		burst := cfg.burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.ratePerSecond), burst)
	}

	bs := cfg.breaker
	g.cb = gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:        "similarity",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bs.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bs.FailureRatio
		},
		// A call cancelled because a sibling call failed says nothing about
		// the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(int(to))
			g.log.Warn(context.Background(), "similarity breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	metrics.UpdateBreakerState(int(gobreaker.StateClosed))
	return g
}

func (g *Guarded) Version() string { return g.next.Version() }

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) Score(ctx context.Context, a, b string) (float64, error) {
	ctx, span := g.tracer.Start(ctx, "similarity.score", trace.WithAttributes(
		attribute.String("provider.version", g.next.Version()),
	))
	defer span.End()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, g.fail(span, "rejected", fmt.Errorf("rate limited: %w", err))
		}
	}

	start := time.Now()
	s, err := g.cb.Execute(func() (float64, error) {
		return g.next.Score(ctx, a, b)
	})
	metrics.RecordSimilarityLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return 0, g.fail(span, "rejected", err)
		case errors.Is(err, context.DeadlineExceeded):
			return 0, g.fail(span, "timeout", err)
		default:
			return 0, g.fail(span, "error", err)
		}
	}
	metrics.RecordSimilarityRequest("ok")
	span.SetAttributes(attribute.Float64("similarity.score", s))
	return s, nil
}

func (g *Guarded) fail(span trace.Span, outcome string, err error) error {
	metrics.RecordSimilarityRequest(outcome)
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}
