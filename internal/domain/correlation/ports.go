package correlation

import (
	"context"

	"github.com/okian/talentmatch/internal/domain/model"
)

// CorrelationStore persists pair records and the job registry. Every write
// is a key-scoped upsert.
type CorrelationStore interface {
	GetPending(ctx context.Context, key model.Key) (model.PendingCorrelation, bool, error)
	UpsertPending(ctx context.Context, p model.PendingCorrelation) error
	DeletePending(ctx context.Context, key model.Key) error
	ListPendingByJob(ctx context.Context, jobID string) ([]model.Key, error)
	// ScanPending calls fn for every record until fn returns false.
	ScanPending(ctx context.Context, fn func(model.PendingCorrelation) bool) error

	GetJob(ctx context.Context, jobID string) (model.JobEntry, bool, error)
	UpsertJob(ctx context.Context, j model.JobEntry) error
	DeleteJob(ctx context.Context, jobID string) error
	ScanJobs(ctx context.Context, fn func(model.JobEntry) bool) error
}

// ResultStore persists the latest MatchResult per key.
type ResultStore interface {
	GetResult(ctx context.Context, key model.Key) (model.StoredResult, bool, error)
	UpsertResult(ctx context.Context, r model.StoredResult) error
	// ListByJob ranks a job's results by overallScore desc, resumeId asc.
	ListByJob(ctx context.Context, jobID string, limit int) ([]model.MatchResult, error)
	// Rank returns the 1-based position of key within its job and the number
	// of results the job has. Position is 0 when key has no result.
	Rank(ctx context.Context, key model.Key) (int, int, error)
	CountResults(ctx context.Context) (int, error)
}

// Publisher puts an envelope on the bus.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) error
}

// Scorer computes a match result.
type Scorer interface {
	Score(ctx context.Context, job model.JobRequirementProfile, c model.CandidateProfile) (model.MatchResult, error)
}

// Dispatcher routes a task to the shard owning its route key. It returns
// false when the shard cannot take more work.
type Dispatcher interface {
	Dispatch(ctx context.Context, t model.Task) bool
}
