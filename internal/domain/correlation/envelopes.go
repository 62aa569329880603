package correlation

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/okian/talentmatch/internal/domain/model"
)

// envelopeSpace namespaces the deterministic envelope ids.
var envelopeSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:talentmatch:envelope"))

// ScoredEnvelope wraps a result. The id depends on the key, the scoring
// generation and the content fingerprint: republishing one delivery reuses
// it, while a later generation always gets a fresh id even when its content
// matches an earlier one.
func ScoredEnvelope(res model.MatchResult, fingerprint string, generation int, now time.Time) model.Envelope {
	name := string(model.EventMatchScored) + "|" + res.JobID + "|" + res.ResumeID + "|" + strconv.Itoa(generation) + "|" + fingerprint
	return model.Envelope{
		ID:         uuid.NewSHA1(envelopeSpace, []byte(name)).String(),
		Type:       model.EventMatchScored,
		OccurredAt: now,
		Data:       model.MatchScored{JobID: res.JobID, ResumeID: res.ResumeID, Result: res},
	}
}

// FailedEnvelope wraps a failure. ResumeID is empty for job-level failures.
// cycle identifies the settlement being reported and must change whenever
// the same key settles again.
func FailedEnvelope(key model.Key, cause model.Cause, detail, cycle string, now time.Time) model.Envelope {
	name := string(model.EventMatchFailed) + "|" + key.JobID + "|" + key.ResumeID + "|" + cycle + "|" + string(cause)
	return model.Envelope{
		ID:         uuid.NewSHA1(envelopeSpace, []byte(name)).String(),
		Type:       model.EventMatchFailed,
		OccurredAt: now,
		Data:       model.MatchFailed{JobID: key.JobID, ResumeID: key.ResumeID, Cause: cause, Detail: detail},
	}
}

// settlementCycle names one settlement of a pair: the generation plus the
// time it settled, both stable across republishing.
func settlementCycle(p model.PendingCorrelation) string {
	cycle := strconv.Itoa(p.Generation)
	if p.SettledAt != nil {
		cycle += "@" + strconv.FormatInt(p.SettledAt.UnixNano(), 10)
	}
	return cycle
}

// timeCycle names a job-level settlement by the registry time it refers to.
func timeCycle(t *time.Time) string {
	if t == nil {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}
