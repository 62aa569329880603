package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	storeRedis         = "redis"
	defaultRedisPrefix = "talentmatch"
	scanCount          = 500
)

// RedisStore keeps every record as a JSON string. Per-job indexes are sets,
// rankings are sorted sets scored by -overallScore so ZRANGE returns the
// best first and ties fall back to member order, i.e. resume id asc.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. The store owns the client and
// closes it on Close.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) pairKey(k model.Key) string    { return s.key("pair", k.JobID, k.ResumeID) }
func (s *RedisStore) pairIndex(jobID string) string { return s.key("pairs", jobID) }
func (s *RedisStore) jobKey(jobID string) string    { return s.key("job", jobID) }
func (s *RedisStore) resultKey(k model.Key) string  { return s.key("result", k.JobID, k.ResumeID) }
func (s *RedisStore) rankKey(jobID string) string   { return s.key("rank", jobID) }
func (s *RedisStore) resultIndex() string           { return s.key("results") }

func (s *RedisStore) fail(op string, err error) error {
	metrics.RecordStoreError(storeRedis, op)
	return fmt.Errorf("redis %s: %w", op, err)
}

func (s *RedisStore) getJSON(ctx context.Context, op, key string, out any) (bool, error) {
	defer observeStore(storeRedis, op, time.Now())
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, s.fail(op, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrCorrupt, key, err)
	}
	return true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetPending(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error) {
	var p model.PendingCorrelation
	ok, err := s.getJSON(ctx, "get_pending", s.pairKey(key), &p)
	return p, ok, err
}

func (s *RedisStore) UpsertPending(ctx context.Context, p model.PendingCorrelation) error {
	defer observeStore(storeRedis, "upsert_pending", time.Now())
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.pairKey(p.Key), b, 0)
		pipe.SAdd(ctx, s.pairIndex(p.Key.JobID), p.Key.ResumeID)
		return nil
	})
	if err != nil {
		return s.fail("upsert_pending", err)
	}
	return nil
}

func (s *RedisStore) DeletePending(ctx context.Context, key model.Key) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.pairKey(key))
		pipe.SRem(ctx, s.pairIndex(key.JobID), key.ResumeID)
		return nil
	})
	if err != nil {
		return s.fail("delete_pending", err)
	}
	return nil
}

func (s *RedisStore) ListPendingByJob(ctx context.Context, jobID string) ([]model.Key, error) {
	ids, err := s.client.SMembers(ctx, s.pairIndex(jobID)).Result()
	if err != nil {
		return nil, s.fail("list_pending", err)
	}
	sort.Strings(ids)
	keys := make([]model.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, model.Key{JobID: jobID, ResumeID: id})
	}
	return keys, nil
}

// ScanPending walks the pair keys with SCAN. Records written during the scan
// may or may not be visited.
func (s *RedisStore) ScanPending(ctx context.Context, fn func(model.PendingCorrelation) bool) error {
	return scanJSON(ctx, s, s.key("pair", "*"), "scan_pending", fn)
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (model.JobEntry, bool, error) {
	var j model.JobEntry
	ok, err := s.getJSON(ctx, "get_job", s.jobKey(jobID), &j)
	return j, ok, err
}

func (s *RedisStore) UpsertJob(ctx context.Context, j model.JobEntry) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.jobKey(j.JobID), b, 0).Err(); err != nil {
		return s.fail("upsert_job", err)
	}
	return nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.jobKey(jobID)).Err(); err != nil {
		return s.fail("delete_job", err)
	}
	return nil
}

func (s *RedisStore) ScanJobs(ctx context.Context, fn func(model.JobEntry) bool) error {
	return scanJSON(ctx, s, s.key("job", "*"), "scan_jobs", fn)
}

func (s *RedisStore) GetResult(ctx context.Context, key model.Key) (model.StoredResult, bool, error) {
	var r model.StoredResult
	ok, err := s.getJSON(ctx, "get_result", s.resultKey(key), &r)
	return r, ok, err
}

func (s *RedisStore) UpsertResult(ctx context.Context, r model.StoredResult) error {
	defer observeStore(storeRedis, "upsert_result", time.Now())
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := r.Result.Key()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.resultKey(key), b, 0)
		pipe.ZAdd(ctx, s.rankKey(key.JobID), redis.Z{Score: -float64(r.Result.OverallScore), Member: key.ResumeID})
		pipe.SAdd(ctx, s.resultIndex(), key.String())
		return nil
	})
	if err != nil {
		return s.fail("upsert_result", err)
	}
	return nil
}

func (s *RedisStore) ListByJob(ctx context.Context, jobID string, limit int) ([]model.MatchResult, error) {
	defer observeStore(storeRedis, "list_by_job", time.Now())
	if limit < 1 {
		metrics.RecordStoreError(storeRedis, "invalid_limit")
		return nil, ErrInvalidLimit
	}
	ids, err := s.client.ZRange(ctx, s.rankKey(jobID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, s.fail("list_by_job", err)
	}
	if len(ids) == 0 {
		return []model.MatchResult{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.resultKey(model.Key{JobID: jobID, ResumeID: id})
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.fail("list_by_job", err)
	}
	out := make([]model.MatchResult, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r model.StoredResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, keys[i], err)
		}
		out = append(out, r.Result)
	}
	return out, nil
}

func (s *RedisStore) Rank(ctx context.Context, key model.Key) (int, int, error) {
	total, err := s.client.ZCard(ctx, s.rankKey(key.JobID)).Result()
	if err != nil {
		return 0, 0, s.fail("rank", err)
	}
	pos, err := s.client.ZRank(ctx, s.rankKey(key.JobID), key.ResumeID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, int(total), nil
		}
		return 0, 0, s.fail("rank", err)
	}
	return int(pos) + 1, int(total), nil
}

func (s *RedisStore) CountResults(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.resultIndex()).Result()
	if err != nil {
		return 0, s.fail("count_results", err)
	}
	return int(n), nil
}

func scanJSON[T any](ctx context.Context, s *RedisStore, match, op string, fn func(T) bool) error {
	iter := s.client.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		var v T
		ok, err := s.getJSON(ctx, op, iter.Val(), &v)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !fn(v) {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return s.fail(op, err)
	}
	return nil
}
