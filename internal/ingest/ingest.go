// Package ingest is the single entry point for upstream events, shared by
// the HTTP handler and the Redis stream consumer.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/okian/talentmatch/internal/domain/correlation"
	"github.com/okian/talentmatch/internal/domain/event"
	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
)

var (
	// ErrBackpressure means the owning shard is full. Nothing was recorded
	// and the caller should retry later.
	ErrBackpressure = errors.New("backpressure")

	// ErrRejectNotPublished means an invalid event could not be answered
	// with match.failed. The caller should redeliver it.
	ErrRejectNotPublished = errors.New("rejection not published")
)

// Ingestor decodes raw events and routes them to the correlator shards.
type Ingestor struct {
	codec      *event.Codec
	dispatcher correlation.Dispatcher
	publisher  correlation.Publisher
	now        func() time.Time
	log        logger.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClock overrides time.Now for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

// New returns an Ingestor.
func New(codec *event.Codec, dispatcher correlation.Dispatcher, publisher correlation.Publisher, opts ...Option) *Ingestor {
	i := &Ingestor{
		codec:      codec,
		dispatcher: dispatcher,
		publisher:  publisher,
		now:        time.Now,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Accept decodes raw and hands it to the shard owning its key.
//
// Errors:
//   - event.ErrMalformed: unreadable input or an unknown type; dropped.
//   - *event.ValidationError: invalid payload; match.failed was published
//     when the ids could be read.
//   - ErrRejectNotPublished: as above, but publishing failed.
//   - ErrBackpressure: the shard is full.
func (i *Ingestor) Accept(ctx context.Context, raw []byte) (model.Event, error) {
	ev, err := i.codec.Decode(raw)
	if err != nil {
		return model.Event{}, i.reject(ctx, raw, err)
	}
	metrics.RecordEventReceived(string(ev.Type))

	t := model.Task{Kind: model.TaskEvent, Key: model.Key{JobID: ev.JobID(), ResumeID: ev.ResumeID()}, Event: &ev, EnqueuedAt: i.now()}
	if ev.Job != nil || ev.JobFailed != nil {
		t.RouteKey = model.JobRoute(ev.JobID())
	} else {
		t.RouteKey = model.PairRoute(t.Key)
	}
	if !i.dispatcher.Dispatch(ctx, t) {
		metrics.RecordEventRejected(string(ev.Type), "backpressure")
		return ev, ErrBackpressure
	}
	return ev, nil
}

// reject answers an invalid event with match.failed. The envelope id is
// derived from the raw bytes, so a redelivered copy is suppressed while a
// different invalid event for the same key is still reported.
func (i *Ingestor) reject(ctx context.Context, raw []byte, err error) error {
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		metrics.RecordEventRejected("unknown", "malformed")
		i.log.Debug(ctx, "malformed event dropped", logger.Error(err))
		return err
	}

	metrics.RecordEventRejected(string(verr.Type), "invalid")
	if !verr.Addressable() {
		i.log.Warn(ctx, "invalid event without ids dropped",
			logger.String("type", string(verr.Type)),
			logger.Error(err),
		)
		return err
	}

	key := model.Key{JobID: verr.JobID, ResumeID: verr.ResumeID}
	if verr.Type == model.EventJobRequirementsExtracted || verr.Type == model.EventJobRequirementsFailed {
		key.ResumeID = ""
	}
	sum := sha256.Sum256(raw)
	env := correlation.FailedEnvelope(key, verr.Cause(), verr.Error(), "rejected:"+hex.EncodeToString(sum[:8]), i.now().UTC())
	if perr := i.publisher.Publish(ctx, env); perr != nil {
		metrics.RecordPublishError()
		i.log.Error(ctx, "publishing rejection failed",
			logger.String("jobId", key.JobID),
			logger.String("resumeId", key.ResumeID),
			logger.Error(perr),
		)
		return fmt.Errorf("%w: %w", ErrRejectNotPublished, errors.Join(err, perr))
	}
	metrics.RecordPublished(string(env.Type))
	metrics.RecordMatchFailed(string(verr.Cause()))
	i.log.Info(ctx, "invalid event rejected",
		logger.String("type", string(verr.Type)),
		logger.String("jobId", key.JobID),
		logger.String("resumeId", key.ResumeID),
		logger.String("cause", string(verr.Cause())),
	)
	return err
}
