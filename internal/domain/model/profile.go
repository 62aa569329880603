// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EducationLevel is the ordinal degree level used by the education scorer.
type EducationLevel int

const (
	EducationNone EducationLevel = iota
	EducationBachelor
	EducationMaster
	EducationPhD
)

var educationNames = [...]string{"none", "bachelor", "master", "phd"}

func (l EducationLevel) String() string {
	if l < EducationNone || l > EducationPhD {
		return fmt.Sprintf("EducationLevel(%d)", int(l))
	}
	return educationNames[l]
}

// degreeSynonyms maps normalized degree wording to a level. Checked in order
// so that "master of science" does not fall through to "science".
var degreeSynonyms = []struct {
	token string
	level EducationLevel
}{
	{"phd", EducationPhD},
	{"ph.d", EducationPhD},
	{"doctor", EducationPhD},
	{"dphil", EducationPhD},
	{"master", EducationMaster},
	{"msc", EducationMaster},
	{"m.sc", EducationMaster},
	{"mba", EducationMaster},
	{"meng", EducationMaster},
	{"ms", EducationMaster},
	{"ma", EducationMaster},
	{"bachelor", EducationBachelor},
	{"bsc", EducationBachelor},
	{"b.sc", EducationBachelor},
	{"beng", EducationBachelor},
	{"btech", EducationBachelor},
	{"bs", EducationBachelor},
	{"ba", EducationBachelor},
	{"undergraduate", EducationBachelor},
	{"none", EducationNone},
	{"high school", EducationNone},
	{"diploma", EducationNone},
}

// ParseEducationLevel maps free-form degree text to a level. The second
// return is false when nothing recognizable was found.
func ParseEducationLevel(s string) (EducationLevel, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return EducationNone, false
	}
	words := strings.FieldsFunc(norm, func(r rune) bool {
		return r == ' ' || r == ',' || r == '(' || r == ')' || r == '/' || r == '-'
	})
	for _, syn := range degreeSynonyms {
		if strings.Contains(syn.token, " ") || strings.Contains(syn.token, ".") {
			if strings.Contains(norm, syn.token) {
				return syn.level, true
			}
			continue
		}
		for _, w := range words {
			w = strings.Trim(w, ".")
			if w == syn.token || (len(syn.token) > 3 && strings.HasPrefix(w, syn.token)) {
				return syn.level, true
			}
		}
	}
	return EducationNone, false
}

func (l EducationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *EducationLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("education level: %w", err)
	}
	lvl, ok := ParseEducationLevel(s)
	if !ok {
		return fmt.Errorf("unknown education level %q", s)
	}
	*l = lvl
	return nil
}

// RequiredSkill is one weighted skill requirement of a job.
type RequiredSkill struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Required bool    `json:"required"`
}

// YearsRange bounds the requested years of experience. Max of 0 means open.
type YearsRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max,omitempty"`
}

// CompanyProfile carries culture descriptors for the optional fit analysis.
type CompanyProfile struct {
	Descriptors []string `json:"descriptors"`
}

// Active reports whether cultural fit should be scored at all.
func (c *CompanyProfile) Active() bool {
	if c == nil {
		return false
	}
	for _, d := range c.Descriptors {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}

// JobRequirementProfile is immutable once received.
type JobRequirementProfile struct {
	JobID           string          `json:"jobId"`
	Skills          []RequiredSkill `json:"skills"`
	ExperienceYears YearsRange      `json:"experienceYears"`
	EducationLevel  EducationLevel  `json:"educationLevel"`
	DomainKeywords  []string        `json:"domainKeywords,omitempty"`
	CompanyProfile  *CompanyProfile `json:"companyProfile,omitempty"`
	Seniority       string          `json:"seniority,omitempty"`
}

// WorkExperience is one employment interval at month granularity.
// A nil End means the position is current.
type WorkExperience struct {
	Company  string     `json:"company"`
	Position string     `json:"position"`
	Start    time.Time  `json:"start"`
	End      *time.Time `json:"end,omitempty"`
	Summary  string     `json:"summary,omitempty"`
}

// Education is one degree entry. School is carried for display only.
type Education struct {
	School string         `json:"school,omitempty"`
	Degree string         `json:"degree"`
	Major  string         `json:"major,omitempty"`
	Level  EducationLevel `json:"level"`
}

// CandidateProfile is immutable once received. Name is never a scoring input.
type CandidateProfile struct {
	ResumeID       string           `json:"resumeId"`
	Name           string           `json:"name,omitempty"`
	ParsedAt       *time.Time       `json:"parsedAt,omitempty"`
	Skills         []string         `json:"skills"`
	WorkExperience []WorkExperience `json:"workExperience"`
	Education      []Education      `json:"education"`
}
