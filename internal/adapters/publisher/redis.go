package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream is the stream match events are appended to.
	DefaultStream = "talentmatch.matches"

	defaultMaxLen = 100000
)

// RedisStream appends envelopes to a Redis stream. Consumers dedupe on the
// "id" field; the entry id itself is assigned by Redis.
type RedisStream struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// RedisOption configures a RedisStream.
type RedisOption func(*RedisStream)

// WithStream sets the stream name.
func WithStream(name string) RedisOption {
	return func(p *RedisStream) {
		if name != "" {
			p.stream = name
		}
	}
}

// WithMaxLen caps the stream length, trimmed approximately. Zero disables
// trimming.
func WithMaxLen(n int64) RedisOption {
	return func(p *RedisStream) {
		if n >= 0 {
			p.maxLen = n
		}
	}
}

// NewRedisStream uses client without taking ownership of it.
func NewRedisStream(client redis.UniversalClient, opts ...RedisOption) *RedisStream {
	p := &RedisStream{client: client, stream: DefaultStream, maxLen: defaultMaxLen}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisStream) Publish(ctx context.Context, env model.Envelope) error {
	if env.ID == "" {
		return ErrEmptyID
	}
	data, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("encode envelope data: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"id":         env.ID,
			"type":       string(env.Type),
			"occurredAt": env.OccurredAt.UTC().Format(time.RFC3339Nano),
			"data":       string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
