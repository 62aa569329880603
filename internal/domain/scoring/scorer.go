// Package scoring turns a job requirement profile and a candidate profile
// into a MatchResult. Sub-scorers are deterministic functions of their
// inputs; the only I/O is the optional similarity provider.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultModelVersion tags results when no version is configured.
	DefaultModelVersion = "match-v1"

	degradedSkills = "skills"
	tracerName     = "github.com/okian/talentmatch/internal/domain/scoring"
)

// versioned is implemented by providers whose scores are pinned per version.
type versioned interface {
	Version() string
}

// Scorer runs the sub-scorers and aggregates them.
type Scorer struct {
	weights         Weights
	provider        SimilarityProvider
	providerTimeout time.Duration
	gapCap          float64
	modelVersion    string
	now             func() time.Time
	tracer          trace.Tracer
}

// New creates a Scorer with the default weights and lexical skill matching.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		weights:         DefaultWeights(),
		providerTimeout: defaultProviderCall,
		gapCap:          DefaultGapPenaltyCap,
		modelVersion:    DefaultModelVersion,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracer = otel.Tracer(tracerName)
	return s
}

// ModelVersion is the base version plus the provider version, if any.
func (s *Scorer) ModelVersion() string {
	if v, ok := s.provider.(versioned); ok && v.Version() != "" {
		return s.modelVersion + "+" + v.Version()
	}
	return s.modelVersion
}

// Score computes the match result. Errors wrap ErrScoring or
// ErrInvalidWeights and are meant to be retried by the caller.
func (s *Scorer) Score(ctx context.Context, job model.JobRequirementProfile, c model.CandidateProfile) (model.MatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "scoring.score", trace.WithAttributes(
		attribute.String("job_id", job.JobID),
		attribute.String("resume_id", c.ResumeID),
	))
	defer span.End()

	now := s.now().UTC()
	asOf := now
	if c.ParsedAt != nil {
		asOf = c.ParsedAt.UTC()
	}

	res := model.MatchResult{
		JobID:            job.JobID,
		ResumeID:         c.ResumeID,
		Strengths:        []string{},
		Gaps:             []string{},
		AdditionalSkills: []string{},
		ComputedAt:       now,
		ModelVersion:     s.ModelVersion(),
	}

	skillCtx, skillSpan := s.tracer.Start(ctx, "scoring.skills")
	skills, err := NewSkillMatcher(s.provider, s.providerTimeout).Match(skillCtx, c.Skills, job.Skills)
	if skills.Degraded {
		skillSpan.SetAttributes(attribute.Bool("degraded", true))
		skillSpan.RecordError(skills.ProviderErr)
	}
	skillSpan.End()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.MatchResult{}, fmt.Errorf("skills: %w", err)
	}

	_, expSpan := s.tracer.Start(ctx, "scoring.experience")
	exp := AnalyzeExperience(c.WorkExperience, job, asOf, s.gapCap)
	expSpan.End()

	_, eduSpan := s.tracer.Start(ctx, "scoring.education")
	edu := ScoreEducation(c.Education, job)
	eduSpan.End()

	_, cultureSpan := s.tracer.Start(ctx, "scoring.culture")
	culture, cultureActive := ScoreCulture(job.CompanyProfile, c)
	cultureSpan.SetAttributes(attribute.Bool("active", cultureActive))
	cultureSpan.End()

	res.Breakdown = model.Breakdown{
		SkillScore:      skills.Score,
		ExperienceScore: exp.Score,
		EducationScore:  edu.Score,
	}
	if cultureActive {
		cs := culture.Score
		res.Breakdown.CulturalFitScore = &cs
		res.Details.Culture = &culture.Detail
	}

	overall, err := Aggregate(res.Breakdown, s.weights)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return model.MatchResult{}, err
	}
	res.OverallScore = overall

	res.MatchMode = skills.Mode
	if skills.Degraded {
		res.Degraded = true
		res.DegradedComponents = append(res.DegradedComponents, degradedSkills)
	}
	res.Confidence = Confidence(Completeness(job, c, cultureActive), len(res.DegradedComponents))

	res.Strengths = append(res.Strengths, skills.Strengths...)
	res.Strengths = append(res.Strengths, exp.Strengths...)
	res.Strengths = append(res.Strengths, edu.Strengths...)
	res.Strengths = append(res.Strengths, culture.Strengths...)
	res.Gaps = append(res.Gaps, skills.Gaps...)
	res.Gaps = append(res.Gaps, exp.Gaps...)
	res.Gaps = append(res.Gaps, edu.Gaps...)
	res.AdditionalSkills = append(res.AdditionalSkills, skills.Additional...)

	res.Details.Skills = skills.Matches
	if res.Details.Skills == nil {
		res.Details.Skills = []model.SkillMatch{}
	}
	res.Details.Experience = exp.Detail
	res.Details.Education = edu.Detail

	span.SetAttributes(
		attribute.Int("overall_score", res.OverallScore),
		attribute.Bool("degraded", res.Degraded),
	)
	return res, nil
}
