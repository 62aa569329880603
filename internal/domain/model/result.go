package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Match modes reported by the skill matcher.
const (
	MatchModeSemantic        = "semantic"
	MatchModeLexical         = "lexical"
	MatchModeLexicalFallback = "lexical_fallback"
)

// Progression trends reported by the experience analyzer.
const (
	ProgressionAscending  = "ascending"
	ProgressionStable     = "stable"
	ProgressionDescending = "descending"
)

// Breakdown holds the normalized sub-scores, each in [0,1].
type Breakdown struct {
	SkillScore       float64  `json:"skillScore"`
	ExperienceScore  float64  `json:"experienceScore"`
	EducationScore   float64  `json:"educationScore"`
	CulturalFitScore *float64 `json:"culturalFitScore,omitempty"`
}

// SkillMatch explains the best candidate skill found for one requirement.
type SkillMatch struct {
	Requirement  string  `json:"requirement"`
	MatchedSkill string  `json:"matchedSkill,omitempty"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Required     bool    `json:"required"`
}

type ExperienceDetail struct {
	TotalYears    float64 `json:"totalYears"`
	RelevantYears float64 `json:"relevantYears"`
	GapMonths     int     `json:"gapMonths"`
	PenaltyPoints float64 `json:"penaltyPoints"`
	Progression   string  `json:"progression"`
}

type EducationDetail struct {
	HighestLevel  EducationLevel `json:"highestLevel"`
	RequiredLevel EducationLevel `json:"requiredLevel"`
	MajorBonus    float64        `json:"majorBonus"`
}

type CultureDetail struct {
	Matched []string `json:"matched"`
	Total   int      `json:"total"`
}

// Details is the human-readable evidence behind the breakdown.
type Details struct {
	Skills     []SkillMatch     `json:"skills"`
	Experience ExperienceDetail `json:"experience"`
	Education  EducationDetail  `json:"education"`
	Culture    *CultureDetail   `json:"culture,omitempty"`
}

// MatchResult is the published outcome for one correlation key.
type MatchResult struct {
	JobID              string    `json:"jobId"`
	ResumeID           string    `json:"resumeId"`
	OverallScore       int       `json:"overallScore"`
	Confidence         float64   `json:"confidence"`
	Breakdown          Breakdown `json:"breakdown"`
	Strengths          []string  `json:"strengths"`
	Gaps               []string  `json:"gaps"`
	AdditionalSkills   []string  `json:"additionalSkills"`
	Degraded           bool      `json:"degraded"`
	DegradedComponents []string  `json:"degradedComponents,omitempty"`
	MatchMode          string    `json:"matchMode"`
	Details            Details   `json:"details"`
	ComputedAt         time.Time `json:"computedAt"`
	ModelVersion       string    `json:"modelVersion"`
}

// Key returns the correlation key of the result.
func (r MatchResult) Key() Key { return Key{JobID: r.JobID, ResumeID: r.ResumeID} }

// Fingerprint hashes everything except ComputedAt, so two runs over the same
// inputs and provider responses yield the same value.
func (r MatchResult) Fingerprint() string {
	r.ComputedAt = time.Time{}
	b, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StoredResult is what the result store persists per key.
type StoredResult struct {
	Result      MatchResult `json:"result"`
	Fingerprint string      `json:"fingerprint"`
	Published   bool        `json:"published"`
	// Generation is the pair generation that produced Result; it pins the
	// envelope id so a republish reuses it.
	Generation  int         `json:"generation"`
}
