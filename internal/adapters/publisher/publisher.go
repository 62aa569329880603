// Package publisher puts match.scored and match.failed envelopes on the bus.
package publisher

import (
	"context"

	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/internal/domain/model"
)

// Publisher is the bus contract the correlator publishes through.
type Publisher = correlation.Publisher

var (
	_ Publisher = (*Memory)(nil)
	_ Publisher = (*Log)(nil)
	_ Publisher = (*RedisStream)(nil)
	_ Publisher = (*Idempotent)(nil)
)

// Func adapts a function to Publisher.
type Func func(ctx context.Context, env model.Envelope) error

func (f Func) Publish(ctx context.Context, env model.Envelope) error { return f(ctx, env) }
