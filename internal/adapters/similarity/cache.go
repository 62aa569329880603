package similarity

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/talentmatch/internal/domain/scoring"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheSize   = 50000
	defaultCachePrefix = "talentmatch:sim"
)

// Cache stores scores by key.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, score float64) error
}

// Cached answers repeated pairs from a cache. Keys are
// "<version>|<a>|<b>" over normalized names, so a score stays pinned for as
// long as the version does.
type Cached struct {
	next       Provider
	cache      Cache
	keyVersion string
	log        logger.Logger
}

// NewCached wraps next with cache.
func NewCached(next Provider, cache Cache, opts ...CacheOption) *Cached {
	c := &Cached{next: next, cache: cache, keyVersion: next.Version(), log: logger.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) Version() string { return c.next.Version() }

func (c *Cached) Score(ctx context.Context, a, b string) (float64, error) {
	key := c.keyVersion + "|" + scoring.NormalizeSkill(a) + "|" + scoring.NormalizeSkill(b)
	s, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn(ctx, "similarity cache read failed", logger.Error(err))
	}
	if ok {
		metrics.RecordSimilarityRequest("cached")
		return s, nil
	}
	s, err = c.next.Score(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(ctx, key, s); err != nil {
		c.log.Warn(ctx, "similarity cache write failed", logger.Error(err))
	}
	return s, nil
}

// MemoryCache is a bounded LRU.
type MemoryCache struct {
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
	maxSize int
}

type cacheEntry struct {
	key   string
	score float64
}

// NewMemoryCache returns an LRU holding at most maxSize scores. A size of
// zero or less uses the default.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &MemoryCache{order: list.New(), entries: make(map[string]*list.Element), maxSize: maxSize}
}

func (c *MemoryCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return 0, false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).score, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, score float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).score = score
		c.order.MoveToFront(el)
		return nil
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, score: score})
	return nil
}

// Len reports the number of cached scores.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// RedisCache shares scores between replicas.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache uses client without taking ownership of it.
func NewRedisCache(client redis.UniversalClient, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{client: client, prefix: defaultCachePrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	s, err := c.client.Get(ctx, c.prefix+":"+key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis get: %w", err)
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, score float64) error {
	if err := c.client.Set(ctx, c.prefix+":"+key, score, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
