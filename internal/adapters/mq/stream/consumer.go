// Package stream consumes upstream events from a Redis stream through a
// consumer group. Delivery is at-least-once: an entry is acknowledged once it
// was accepted or permanently rejected, and anything left pending is
// reclaimed from idle consumers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/internal/ingest"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream carries upstream events, one JSON envelope per entry in
	// the "event" field.
	DefaultStream = "talentmatch.events"
	// DefaultGroup is the consumer group name.
	DefaultGroup = "talentmatch"

	eventField          = "event"
	defaultBatch        = 100
	defaultBlock        = 2 * time.Second
	defaultClaimIdle    = 30 * time.Second
	defaultClaimEvery   = 10 * time.Second
	backpressurePause   = 100 * time.Millisecond
	readErrorPause      = time.Second
	consumerErrorSource = "stream"
)

// Acceptor takes one raw event.
type Acceptor interface {
	Accept(ctx context.Context, raw []byte) (model.Event, error)
}

// Consumer reads a stream as one member of a consumer group.
type Consumer struct {
	client   redis.UniversalClient
	acceptor Acceptor

	stream     string
	group      string
	consumer   string
	batch      int64
	block      time.Duration
	claimIdle  time.Duration
	claimEvery time.Duration

	log logger.Logger
}

// NewConsumer returns a consumer. The client is not closed by the consumer.
func NewConsumer(client redis.UniversalClient, acceptor Acceptor, opts ...Option) *Consumer {
	c := &Consumer{
		client:     client,
		acceptor:   acceptor,
		stream:     DefaultStream,
		group:      DefaultGroup,
		consumer:   "consumer-1",
		batch:      defaultBatch,
		block:      defaultBlock,
		claimIdle:  defaultClaimIdle,
		claimEvery: defaultClaimEvery,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureGroup creates the stream and group when missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.log.Info(ctx, "stream consumer started",
		logger.String("stream", c.stream),
		logger.String("group", c.group),
		logger.String("consumer", c.consumer),
	)

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastClaim) >= c.claimEvery {
			if err := c.Reclaim(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn(ctx, "reclaim failed", logger.Error(err))
			}
			lastClaim = time.Now()
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.RecordErrorByComponent(consumerErrorSource, "read")
			c.log.Error(ctx, "stream read failed", logger.Error(err))
			sleep(ctx, readErrorPause)
		}
	}
}

// Poll reads one batch of new entries and handles it. It returns how many
// entries were acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batch,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("xreadgroup: %w", err)
	}
	acked := 0
	for _, s := range res {
		n, err := c.handle(ctx, s.Messages)
		acked += n
		if err != nil {
			return acked, err
		}
	}
	return acked, nil
}

// Reclaim takes over entries another consumer left pending for longer than
// the idle threshold and handles them again.
func (c *Consumer) Reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimIdle,
			Start:    start,
			Count:    c.batch,
		}).Result()
		if err != nil {
			return fmt.Errorf("xautoclaim: %w", err)
		}
		if len(msgs) > 0 {
			c.log.Info(ctx, "reclaimed pending entries", logger.Int("count", len(msgs)))
			if _, err := c.handle(ctx, msgs); err != nil {
				return err
			}
		}
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return nil
		}
		start = next
	}
}

func (c *Consumer) handle(ctx context.Context, msgs []redis.XMessage) (int, error) {
	var ids []string
	for _, m := range msgs {
		if c.process(ctx, m) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return 0, fmt.Errorf("xack: %w", err)
	}
	return len(ids), nil
}

// process reports whether the entry is done with and can be acknowledged.
func (c *Consumer) process(ctx context.Context, m redis.XMessage) bool {
	raw, ok := m.Values[eventField].(string)
	if !ok {
		c.log.Warn(ctx, "stream entry without event field dropped", logger.String("entry", m.ID))
		metrics.RecordEventRejected("unknown", "malformed")
		return true
	}
	_, err := c.acceptor.Accept(ctx, []byte(raw))
	switch {
	case err == nil:
		return true
	case errors.Is(err, ingest.ErrBackpressure), errors.Is(err, ingest.ErrRejectNotPublished):
		c.log.Debug(ctx, "entry left pending", logger.String("entry", m.ID), logger.Error(err))
		sleep(ctx, backpressurePause)
		return false
	default:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
