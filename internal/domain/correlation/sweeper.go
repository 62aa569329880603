package correlation

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"github.com/okian/talentmatch/pkg/logger"
	"github.com/okian/talentmatch/pkg/metrics"
)

const DefaultSweepInterval = 5 * time.Second

// SweepStats summarizes the last sweep.
type SweepStats struct {
	At         time.Time           `json:"at"`
	Pairs      int                 `json:"pairs"`
	Open       int                 `json:"open"`
	Jobs       int                 `json:"jobs"`
	ByState    map[model.State]int `json:"byState"`
	Dispatched int                 `json:"dispatched"`
	Rejected   int                 `json:"rejected"`
}

// Sweeper periodically scans the store and routes timer-driven work to the
// shards: window expiry, stuck retries, missed fan-outs, republishing and
// purging. It never mutates records itself.
type Sweeper struct {
	store      CorrelationStore
	dispatcher Dispatcher
	window     time.Duration
	retention  time.Duration
	interval   time.Duration
	now        func() time.Time
	log        logger.Logger

	mu   sync.RWMutex
	last SweepStats
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithSweepWindow(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithSweepRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweepLogger(l logger.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

func NewSweeper(store CorrelationStore, dispatcher Dispatcher, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		window:     DefaultWindow,
		retention:  DefaultRetention,
		interval:   DefaultSweepInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("sweeper")
	}
	return s
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Error(ctx, "sweep failed", logger.Error(err))
			}
		}
	}
}

// Stats returns the summary of the last completed sweep.
func (s *Sweeper) Stats() SweepStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.last
	st.ByState = maps.Clone(s.last.ByState)
	return st
}

// Sweep runs one pass and returns what it did.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	now := s.now()
	st := SweepStats{At: now, ByState: make(map[model.State]int)}

	// Records are collected first; stores may hold locks while scanning.
	var pairs []model.PendingCorrelation
	if err := s.store.ScanPending(ctx, func(p model.PendingCorrelation) bool {
		pairs = append(pairs, p)
		return ctx.Err() == nil
	}); err != nil {
		return st, fmt.Errorf("%w: scan pending: %w", ErrStore, err)
	}
	var jobIDs []string
	if err := s.store.ScanJobs(ctx, func(j model.JobEntry) bool {
		jobIDs = append(jobIDs, j.JobID)
		return ctx.Err() == nil
	}); err != nil {
		return st, fmt.Errorf("%w: scan jobs: %w", ErrStore, err)
	}

	jobs := make(map[string]*model.JobEntry)
	lookup := func(jobID string) (*model.JobEntry, error) {
		if e, ok := jobs[jobID]; ok {
			return e, nil
		}
		e, ok, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("%w: get job: %w", ErrStore, err)
		}
		if !ok {
			jobs[jobID] = nil
			return nil, nil
		}
		jobs[jobID] = &e
		return &e, nil
	}

	for _, p := range pairs {
		st.Pairs++
		st.ByState[p.State]++
		if !p.State.Terminal() {
			st.Open++
		}
		entry, err := lookup(p.Key.JobID)
		if err != nil {
			return st, err
		}
		kind, ok := s.taskFor(p, entry, now)
		if !ok {
			continue
		}
		s.send(ctx, &st, model.Task{RouteKey: model.PairRoute(p.Key), Kind: kind, Key: p.Key, Generation: p.Generation, EnqueuedAt: now})
	}
	for _, id := range jobIDs {
		st.Jobs++
		s.send(ctx, &st, model.Task{RouteKey: model.JobRoute(id), Kind: model.TaskJobSweep, Key: model.Key{JobID: id}, EnqueuedAt: now})
	}

	metrics.UpdateCorrelationsPending(st.Open)
	metrics.UpdateJobsTracked(st.Jobs)
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	if st.Rejected > 0 {
		s.log.Warn(ctx, "sweep dispatch rejected", logger.Int("rejected", st.Rejected), logger.Int("dispatched", st.Dispatched))
	}
	return st, nil
}

// taskFor picks the one task a record needs, if any. A missed job fan-out
// takes precedence so a new job version can reopen a settled pair before
// it is purged.
func (s *Sweeper) taskFor(p model.PendingCorrelation, entry *model.JobEntry, now time.Time) (model.TaskKind, bool) {
	if entry != nil {
		if entry.Failed() && !p.State.Terminal() {
			return model.TaskJobAvailable, true
		}
		if entry.Available() && newerJob(p, *entry) {
			return model.TaskJobAvailable, true
		}
	}
	switch {
	case p.State.Awaiting() && p.Expired(now, s.window):
		return model.TaskWindowElapsed, true
	case rescoring(p) && !now.Before(p.UpdatedAt.Add(s.window)):
		return model.TaskRetry, true
	case p.State.Terminal() && !p.Notified:
		return model.TaskRepublish, true
	case p.State.Terminal() && p.SettledAt != nil && !now.Before(p.SettledAt.Add(s.retention)):
		return model.TaskPurge, true
	}
	return "", false
}

// rescoring reports a pair with a score run still owed: Ready, or Scored
// with a failed rescore waiting on its retry.
func rescoring(p model.PendingCorrelation) bool {
	return p.State == model.StateReady || (p.State == model.StateScored && p.Attempts > 0)
}

func (s *Sweeper) send(ctx context.Context, st *SweepStats, t model.Task) {
	if s.dispatcher != nil && s.dispatcher.Dispatch(ctx, t) {
		st.Dispatched++
		return
	}
	st.Rejected++
}
