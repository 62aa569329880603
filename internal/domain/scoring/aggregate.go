package scoring

import (
	"fmt"
	"math"

	"github.com/okian/talentmatch/internal/domain/model"
)

// DegradedPenalty is subtracted from confidence per degraded component.
const DegradedPenalty = 0.15

// Weights are the relative importance of each sub-score. They need not sum
// to 1; aggregation normalizes over the active components.
type Weights struct {
	Skill      float64 `koanf:"skill"`
	Experience float64 `koanf:"experience"`
	Education  float64 `koanf:"education"`
	Cultural   float64 `koanf:"cultural"`
}

// DefaultWeights returns 0.4/0.3/0.15/0.15.
func DefaultWeights() Weights {
	return Weights{Skill: 0.4, Experience: 0.3, Education: 0.15, Cultural: 0.15}
}

// Validate rejects negative or NaN weights and an all-zero mandatory set.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"skill": w.Skill, "experience": w.Experience, "education": w.Education, "cultural": w.Cultural} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeights, name, v)
		}
	}
	if w.Skill+w.Experience+w.Education == 0 {
		return fmt.Errorf("%w: mandatory weights sum to zero", ErrInvalidWeights)
	}
	return nil
}

type component struct {
	name          string
	score, weight float64
}

// Aggregate computes round(100 × Σw·s / Σw) over the active components. The
// cultural component is active only when the breakdown carries a culture
// score, so its weight is redistributed proportionally when absent.
func Aggregate(b model.Breakdown, w Weights) (int, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	parts := []component{
		{"skill", b.SkillScore, w.Skill},
		{"experience", b.ExperienceScore, w.Experience},
		{"education", b.EducationScore, w.Education},
	}
	if b.CulturalFitScore != nil {
		parts = append(parts, component{"cultural", *b.CulturalFitScore, w.Cultural})
	}

	sum, wsum := 0.0, 0.0
	for _, p := range parts {
		if math.IsNaN(p.score) || p.score < 0 || p.score > 1 {
			return 0, fmt.Errorf("%w: %s score %v outside [0,1]", ErrScoring, p.name, p.score)
		}
		sum += p.weight * p.score
		wsum += p.weight
	}
	overall := int(math.Round(100 * sum / wsum))
	if overall < 0 || overall > 100 {
		return 0, fmt.Errorf("%w: overall score %d outside [0,100]", ErrScoring, overall)
	}
	return overall, nil
}

// Completeness is the fraction of checklist inputs present.
func Completeness(job model.JobRequirementProfile, c model.CandidateProfile, cultureActive bool) float64 {
	checks := []bool{
		len(job.Skills) > 0,
		len(c.Skills) > 0,
		len(c.WorkExperience) > 0,
		len(c.Education) > 0,
	}
	if cultureActive {
		summaries := false
		for _, w := range c.WorkExperience {
			if w.Summary != "" {
				summaries = true
				break
			}
		}
		checks = append(checks, summaries)
	}
	present := 0
	for _, ok := range checks {
		if ok {
			present++
		}
	}
	return float64(present) / float64(len(checks))
}

// Confidence is max(0, completeness - 0.15 × degraded), rounded to three
// decimals.
func Confidence(completeness float64, degraded int) float64 {
	c := math.Max(0, completeness-DegradedPenalty*float64(degraded))
	return math.Round(c*1000) / 1000
}
