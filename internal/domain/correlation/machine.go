// Package correlation joins job and resume events per (jobId, resumeId) and
// drives each pair to exactly one terminal bus event.
package correlation

import (
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
)

// Signal is an input to the per-key state machine.
type Signal int

const (
	SignalJobReceived Signal = iota
	SignalResumeReceived
	SignalUpstreamFailed
	SignalWindowElapsed
	SignalScoreSucceeded
	SignalScoreFailed
	SignalRetryDue
)

func (s Signal) String() string {
	switch s {
	case SignalJobReceived:
		return "job_received"
	case SignalResumeReceived:
		return "resume_received"
	case SignalUpstreamFailed:
		return "upstream_failed"
	case SignalWindowElapsed:
		return "window_elapsed"
	case SignalScoreSucceeded:
		return "score_succeeded"
	case SignalScoreFailed:
		return "score_failed"
	case SignalRetryDue:
		return "retry_due"
	}
	return "unknown"
}

// Action is the side effect the caller must run after a transition.
type Action int

const (
	ActionNone Action = iota
	// ActionScore runs the aggregator on the held payloads.
	ActionScore
	// ActionRetry schedules a RetryDue after backoff.
	ActionRetry
	// ActionFail publishes match.failed with the record's cause.
	ActionFail
	// ActionKeep gives up on a rescore whose retries are spent; the pair
	// stays Scored with its last stored result.
	ActionKeep
)

func (a Action) String() string {
	switch a {
	case ActionScore:
		return "score"
	case ActionRetry:
		return "retry"
	case ActionFail:
		return "fail"
	case ActionKeep:
		return "keep"
	}
	return "none"
}

// Input carries the signal and whatever it needs.
type Input struct {
	Signal     Signal
	Job        *model.JobRequirementProfile
	JobAt      *time.Time
	Candidate  *model.CandidateProfile
	Detail     string
	Generation int
	MaxRetries int
	// HasResult reports a stored MatchResult for the key, consulted when
	// the window elapses.
	HasResult bool
}

// Apply is the pure transition function. It never performs I/O; the
// returned Action tells the caller what to do next.
func Apply(p model.PendingCorrelation, in Input, now time.Time) (model.PendingCorrelation, Action) {
	prev := p
	p.UpdatedAt = now

	switch in.Signal {
	case SignalJobReceived, SignalResumeReceived:
		if p.State == model.StateFailed {
			p = reopen(p, now)
		}
		if in.Signal == SignalJobReceived {
			if in.Job == nil {
				return prev, ActionNone
			}
			p.Job = in.Job
			at := now
			if in.JobAt != nil {
				at = *in.JobAt
			}
			p.JobReceivedAt = &at
		} else {
			if in.Candidate == nil {
				return prev, ActionNone
			}
			p.Candidate = in.Candidate
			at := now
			p.ResumeReceivedAt = &at
		}

		switch {
		case p.State == model.StateScored:
			p.Attempts = 0
			p.Generation++
			return p, ActionScore
		case p.Job != nil && p.Candidate != nil:
			p.State = model.StateReady
			p.Attempts = 0
			p.Generation++
			return p, ActionScore
		case p.Job != nil:
			p.State = model.StateAwaitingResume
		default:
			p.State = model.StateAwaitingJob
		}
		return p, ActionNone

	case SignalUpstreamFailed:
		if p.State.Terminal() {
			return prev, ActionNone
		}
		return settleFailed(p, model.CauseUpstreamFailed, in.Detail, now), ActionFail

	case SignalWindowElapsed:
		if !p.State.Awaiting() {
			return prev, ActionNone
		}
		if in.HasResult {
			p.State = model.StateScored
			p.SettledAt = &now
			p.Notified = true
			return p, ActionNone
		}
		cause := model.CauseMissingJobData
		if p.Candidate == nil {
			cause = model.CauseMissingResumeData
		}
		return settleFailed(p, cause, in.Detail, now), ActionFail

	case SignalScoreSucceeded:
		if !scoring(p.State) || in.Generation != p.Generation {
			return prev, ActionNone
		}
		p.State = model.StateScored
		p.Attempts = 0
		p.Cause = ""
		p.Detail = ""
		p.SettledAt = &now
		return p, ActionNone

	case SignalScoreFailed:
		if !scoring(p.State) || in.Generation != p.Generation {
			return prev, ActionNone
		}
		p.Attempts++
		p.Detail = in.Detail
		if p.Attempts <= in.MaxRetries {
			return p, ActionRetry
		}
		if p.State == model.StateScored {
			// A rescore never takes back a published result.
			p.Attempts = 0
			return p, ActionKeep
		}
		return settleFailed(p, model.CauseScoringError, in.Detail, now), ActionFail

	case SignalRetryDue:
		if !scoring(p.State) || in.Generation != p.Generation {
			return prev, ActionNone
		}
		return p, ActionScore
	}
	return prev, ActionNone
}

// scoring reports whether a score run may be in flight: a first score from
// Ready, or a rescore of a Scored pair.
func scoring(s model.State) bool {
	return s == model.StateReady || s == model.StateScored
}

// reopen starts a new cycle on a failed record, keeping held payloads.
func reopen(p model.PendingCorrelation, now time.Time) model.PendingCorrelation {
	p.State = model.StateAwaitingBoth
	p.Cause = ""
	p.Detail = ""
	p.Attempts = 0
	p.SettledAt = nil
	p.Notified = false
	p.WindowStart = now
	return p
}

func settleFailed(p model.PendingCorrelation, cause model.Cause, detail string, now time.Time) model.PendingCorrelation {
	p.State = model.StateFailed
	p.Cause = cause
	p.Detail = detail
	p.SettledAt = &now
	p.Notified = false
	return p
}
