package model

import "time"

// Key identifies one candidate-job evaluation.
type Key struct {
	JobID    string `json:"jobId"`
	ResumeID string `json:"resumeId"`
}

func (k Key) String() string { return k.JobID + "/" + k.ResumeID }

// State of a correlation key.
type State string

const (
	StateAwaitingBoth   State = "AwaitingBoth"
	StateAwaitingJob    State = "AwaitingJob"
	StateAwaitingResume State = "AwaitingResume"
	StateReady          State = "Ready"
	StateScored         State = "Scored"
	StateFailed         State = "Failed"
)

// Terminal reports whether the state has produced its bus event.
func (s State) Terminal() bool { return s == StateScored || s == StateFailed }

// Awaiting reports whether the key is waiting on a partner event.
func (s State) Awaiting() bool {
	return s == StateAwaitingBoth || s == StateAwaitingJob || s == StateAwaitingResume
}

// Cause of a match.failed event.
type Cause string

const (
	CauseMissingJobData    Cause = "missing_job_data"
	CauseMissingResumeData Cause = "missing_resume_data"
	CauseUpstreamFailed    Cause = "upstream_failed"
	CauseScoringError      Cause = "scoring_error"
)

// PendingCorrelation is the per-key correlation record. It outlives the
// terminal transition for the retention period so that redeliveries can be
// told apart from new work.
type PendingCorrelation struct {
	Key              Key                    `json:"key"`
	State            State                  `json:"state"`
	Job              *JobRequirementProfile `json:"job,omitempty"`
	Candidate        *CandidateProfile      `json:"candidate,omitempty"`
	JobReceivedAt    *time.Time             `json:"jobReceivedAt,omitempty"`
	ResumeReceivedAt *time.Time             `json:"resumeReceivedAt,omitempty"`
	WindowStart      time.Time              `json:"windowStart"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	SettledAt        *time.Time             `json:"settledAt,omitempty"`
	Attempts         int                    `json:"attempts"`
	Generation       int                    `json:"generation"`
	Cause            Cause                  `json:"cause,omitempty"`
	Detail           string                 `json:"detail,omitempty"`
	Notified         bool                   `json:"notified"`
}

// NewPending returns an empty record for key.
func NewPending(key Key, now time.Time) PendingCorrelation {
	return PendingCorrelation{Key: key, State: StateAwaitingBoth, WindowStart: now, UpdatedAt: now}
}

// Expired reports whether the correlation window has elapsed.
func (p PendingCorrelation) Expired(now time.Time, window time.Duration) bool {
	return !now.Before(p.WindowStart.Add(window))
}

// JobEntry is the job registry record. Job events carry no resume id, so the
// profile is held here and fanned out to every pair of the job.
type JobEntry struct {
	JobID           string                 `json:"jobId"`
	Profile         *JobRequirementProfile `json:"profile,omitempty"`
	ReceivedAt      *time.Time             `json:"receivedAt,omitempty"`
	FailedReason    string                 `json:"failedReason,omitempty"`
	FailedAt        *time.Time             `json:"failedAt,omitempty"`
	FailureReported bool                   `json:"failureReported"`
	OrphanReported  bool                   `json:"orphanReported"`
	// Claimed is set once any pair for the job has been seen.
	Claimed   bool      `json:"claimed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Failed reports whether the latest upstream word on the job is a failure.
func (j JobEntry) Failed() bool {
	if j.FailedAt == nil {
		return false
	}
	return j.ReceivedAt == nil || j.FailedAt.After(*j.ReceivedAt)
}

// Available reports whether a usable profile is held.
func (j JobEntry) Available() bool {
	return j.Profile != nil && !j.Failed()
}
