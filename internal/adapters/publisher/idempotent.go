package publisher

import (
	"context"

	"github.com/okian/talentmatch/internal/domain/dedupe"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/okian/talentmatch/internal/adapters/publisher"

// Idempotent drops envelopes whose id this process already published. A
// failed publish forgets the id again so the retry goes out.
type Idempotent struct {
	next   Publisher
	seen   dedupe.Deduper
	log    logger.Logger
	tracer trace.Tracer
}

// NewIdempotent wraps next.
func NewIdempotent(next Publisher, seen dedupe.Deduper, l logger.Logger) *Idempotent {
	if l == nil {
		l = logger.NewNop()
	}
	return &Idempotent{next: next, seen: seen, log: l, tracer: otel.Tracer(tracerName)}
}

func (p *Idempotent) Publish(ctx context.Context, env model.Envelope) error {
	ctx, span := p.tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("envelope.id", env.ID),
		attribute.String("envelope.type", string(env.Type)),
	))
	defer span.End()

	if env.ID == "" {
		span.SetStatus(codes.Error, ErrEmptyID.Error())
		return ErrEmptyID
	}
	if p.seen.SeenAndRecord(ctx, env.ID) {
		span.SetAttributes(attribute.Bool("duplicate", true))
		p.log.Debug(ctx, "duplicate envelope dropped", logger.String("id", env.ID))
		return nil
	}
	if err := p.next.Publish(ctx, env); err != nil {
		p.seen.Unrecord(ctx, env.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
