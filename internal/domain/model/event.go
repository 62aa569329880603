package model

import "time"

// EventType names consumed and published bus events.
type EventType string

const (
	EventJobRequirementsExtracted EventType = "job.requirements.extracted"
	EventResumeParsed             EventType = "resume.parsed"
	EventJobRequirementsFailed    EventType = "job.requirements.failed"
	EventResumeParseFailed        EventType = "resume.parse.failed"
	EventMatchScored              EventType = "match.scored"
	EventMatchFailed              EventType = "match.failed"
)

// JobRequirementsExtracted is the typed payload of job.requirements.extracted.
type JobRequirementsExtracted struct {
	JobID        string
	Requirements JobRequirementProfile
}

// ResumeParsed is the typed payload of resume.parsed.
type ResumeParsed struct {
	JobID    string
	ResumeID string
	Profile  CandidateProfile
}

// JobRequirementsFailed is the typed payload of job.requirements.failed.
type JobRequirementsFailed struct {
	JobID  string
	Reason string
}

// ResumeParseFailed is the typed payload of resume.parse.failed.
type ResumeParseFailed struct {
	JobID    string
	ResumeID string
	Reason   string
}

// Event is a decoded upstream event. Exactly one payload pointer is set,
// matching Type.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time

	Job          *JobRequirementsExtracted
	Resume       *ResumeParsed
	JobFailed    *JobRequirementsFailed
	ResumeFailed *ResumeParseFailed
}

// JobID returns the job id of whichever payload is set.
func (e Event) JobID() string {
	switch {
	case e.Job != nil:
		return e.Job.JobID
	case e.Resume != nil:
		return e.Resume.JobID
	case e.JobFailed != nil:
		return e.JobFailed.JobID
	case e.ResumeFailed != nil:
		return e.ResumeFailed.JobID
	}
	return ""
}

// ResumeID returns the resume id, empty for job-level events.
func (e Event) ResumeID() string {
	switch {
	case e.Resume != nil:
		return e.Resume.ResumeID
	case e.ResumeFailed != nil:
		return e.ResumeFailed.ResumeID
	}
	return ""
}

// MatchScored is the data of a match.scored event.
type MatchScored struct {
	JobID    string      `json:"jobId"`
	ResumeID string      `json:"resumeId"`
	Result   MatchResult `json:"result"`
}

// MatchFailed is the data of a match.failed event. ResumeID is empty for
// job-level failures.
type MatchFailed struct {
	JobID    string `json:"jobId"`
	ResumeID string `json:"resumeId"`
	Cause    Cause  `json:"cause"`
	Detail   string `json:"detail,omitempty"`
}

// Envelope wraps every published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// TaskKind tells a shard worker what to do with a key.
type TaskKind string

const (
	TaskEvent          TaskKind = "event"
	TaskJobAvailable   TaskKind = "job_available"
	TaskUpstreamFailed TaskKind = "upstream_failed"
	TaskRetry          TaskKind = "retry"
	TaskWindowElapsed  TaskKind = "window_elapsed"
	TaskRepublish      TaskKind = "republish"
	TaskPurge          TaskKind = "purge"
	TaskJobSweep       TaskKind = "job_sweep"
)

// Task is the unit routed to a shard. RouteKey decides the shard, so every
// task touching the same pair or job is handled by one goroutine.
type Task struct {
	RouteKey   string
	Kind       TaskKind
	Key        Key
	Event      *Event
	Generation int
	Detail     string
	EnqueuedAt time.Time
}

// PairRoute is the route key for pair-scoped tasks.
func PairRoute(k Key) string { return "pair:" + k.String() }

// JobRoute is the route key for job-scoped tasks.
func JobRoute(jobID string) string { return "job:" + jobID }
