package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/metrics"
)

const storeMemory = "memory"

// MemoryStore keeps correlation records, the job registry and results in
// process. Each job's results sit in a treap so ranked reads do not sort.
type MemoryStore struct {
	mu      sync.RWMutex
	pending map[model.Key]model.PendingCorrelation
	byJob   map[string]map[string]struct{}
	jobs    map[string]model.JobEntry

	rmu     sync.RWMutex
	results map[model.Key]model.StoredResult
	ranks   map[string]*ranking
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending: make(map[model.Key]model.PendingCorrelation),
		byJob:   make(map[string]map[string]struct{}),
		jobs:    make(map[string]model.JobEntry),
		results: make(map[model.Key]model.StoredResult),
		ranks:   make(map[string]*ranking),
	}
}

func (s *MemoryStore) GetPending(_ context.Context, key model.Key) (model.PendingCorrelation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[key]
	return p, ok, nil
}

func (s *MemoryStore) UpsertPending(_ context.Context, p model.PendingCorrelation) error {
	defer observeStore(storeMemory, "upsert_pending", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Key] = p
	idx, ok := s.byJob[p.Key.JobID]
	if !ok {
		idx = make(map[string]struct{})
		s.byJob[p.Key.JobID] = idx
	}
	idx[p.Key.ResumeID] = struct{}{}
	return nil
}

func (s *MemoryStore) DeletePending(_ context.Context, key model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	if idx, ok := s.byJob[key.JobID]; ok {
		delete(idx, key.ResumeID)
		if len(idx) == 0 {
			delete(s.byJob, key.JobID)
		}
	}
	return nil
}

// ListPendingByJob returns the job's keys ordered by resume id.
func (s *MemoryStore) ListPendingByJob(_ context.Context, jobID string) ([]model.Key, error) {
	s.mu.RLock()
	idx := s.byJob[jobID]
	keys := make([]model.Key, 0, len(idx))
	for rid := range idx {
		keys = append(keys, model.Key{JobID: jobID, ResumeID: rid})
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].ResumeID < keys[j].ResumeID })
	return keys, nil
}

// ScanPending visits a copy of the records, so fn may call back into the
// store.
func (s *MemoryStore) ScanPending(ctx context.Context, fn func(model.PendingCorrelation) bool) error {
	s.mu.RLock()
	all := make([]model.PendingCorrelation, 0, len(s.pending))
	for _, p := range s.pending {
		all = append(all, p)
	}
	s.mu.RUnlock()
	for _, p := range all {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !fn(p) {
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (model.JobEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok, nil
}

func (s *MemoryStore) UpsertJob(_ context.Context, j model.JobEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.JobID] = j
	return nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *MemoryStore) ScanJobs(ctx context.Context, fn func(model.JobEntry) bool) error {
	s.mu.RLock()
	all := make([]model.JobEntry, 0, len(s.jobs))
	for _, j := range s.jobs {
		all = append(all, j)
	}
	s.mu.RUnlock()
	for _, j := range all {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !fn(j) {
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, key model.Key) (model.StoredResult, bool, error) {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	r, ok := s.results[key]
	return r, ok, nil
}

// UpsertResult replaces the key's result and moves it in the job ranking.
func (s *MemoryStore) UpsertResult(_ context.Context, r model.StoredResult) error {
	defer observeStore(storeMemory, "upsert_result", time.Now())
	key := r.Result.Key()
	s.rmu.Lock()
	s.results[key] = r
	rk, ok := s.ranks[key.JobID]
	if !ok {
		rk = newRanking()
		s.ranks[key.JobID] = rk
	}
	rk.set(key.ResumeID, r.Result.OverallScore)
	n := len(s.results)
	s.rmu.Unlock()
	metrics.UpdateResultsStored(n)
	return nil
}

// ListByJob returns up to limit results ranked by overallScore desc, then
// resumeId asc.
func (s *MemoryStore) ListByJob(_ context.Context, jobID string, limit int) ([]model.MatchResult, error) {
	defer observeStore(storeMemory, "list_by_job", time.Now())
	if limit < 1 {
		metrics.RecordStoreError(storeMemory, "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	rk, ok := s.ranks[jobID]
	if !ok {
		return []model.MatchResult{}, nil
	}
	ids := rk.top(limit)
	out := make([]model.MatchResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.results[model.Key{JobID: jobID, ResumeID: id}].Result)
	}
	return out, nil
}

func (s *MemoryStore) Rank(_ context.Context, key model.Key) (int, int, error) {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	rk, ok := s.ranks[key.JobID]
	if !ok {
		return 0, 0, nil
	}
	return rk.position(key.ResumeID), rk.len(), nil
}

func (s *MemoryStore) CountResults(_ context.Context) (int, error) {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return len(s.results), nil
}

// Close is a no-op; it lets MemoryStore stand in wherever a closable store
// is expected.
func (s *MemoryStore) Close() error { return nil }
