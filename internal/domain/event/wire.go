package event

import (
	"encoding/json"
	"time"
)

// Envelope is the inbound wire envelope.
type Envelope struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// JobRequirementsPayload is the data of job.requirements.extracted.
type JobRequirementsPayload struct {
	JobID        string  `json:"jobId" validate:"required"`
	Requirements JobWire `json:"requirements"`
}

// JobWire is the wire form of a job requirement profile.
type JobWire struct {
	JobID           string       `json:"jobId,omitempty"`
	Skills          []SkillWire  `json:"skills" validate:"dive"`
	ExperienceYears YearsWire    `json:"experienceYears"`
	EducationLevel  string       `json:"educationLevel,omitempty"`
	DomainKeywords  []string     `json:"domainKeywords,omitempty"`
	CompanyProfile  *CompanyWire `json:"companyProfile,omitempty"`
	Seniority       string       `json:"seniority,omitempty"`
}

type SkillWire struct {
	Name     string   `json:"name" validate:"required"`
	Weight   *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=1"`
	Required bool     `json:"required"`
}

type YearsWire struct {
	Min float64 `json:"min" validate:"gte=0"`
	Max float64 `json:"max,omitempty" validate:"gte=0"`
}

type CompanyWire struct {
	Descriptors []string `json:"descriptors"`
}

// ResumeParsedPayload is the data of resume.parsed.
type ResumeParsedPayload struct {
	JobID    string        `json:"jobId" validate:"required"`
	ResumeID string        `json:"resumeId" validate:"required"`
	Profile  CandidateWire `json:"profile"`
}

// CandidateWire is the wire form of a candidate profile.
type CandidateWire struct {
	ResumeID       string          `json:"resumeId,omitempty"`
	Name           string          `json:"name,omitempty"`
	ParsedAt       string          `json:"parsedAt,omitempty"`
	Skills         []string        `json:"skills"`
	WorkExperience []WorkWire      `json:"workExperience" validate:"dive"`
	Education      []EducationWire `json:"education"`
}

// WorkWire dates are YYYY-MM, YYYY-MM-DD or RFC3339. End may be "present".
type WorkWire struct {
	Company  string `json:"company"`
	Position string `json:"position"`
	Start    string `json:"start" validate:"required"`
	End      string `json:"end,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

type EducationWire struct {
	School string `json:"school,omitempty"`
	Degree string `json:"degree"`
	Major  string `json:"major,omitempty"`
}

// JobFailedPayload is the data of job.requirements.failed.
type JobFailedPayload struct {
	JobID  string `json:"jobId" validate:"required"`
	Reason string `json:"reason"`
}

// ResumeFailedPayload is the data of resume.parse.failed.
type ResumeFailedPayload struct {
	JobID    string `json:"jobId" validate:"required"`
	ResumeID string `json:"resumeId" validate:"required"`
	Reason   string `json:"reason"`
}
