package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
)

const (
	// DefaultGapPenaltyCap is the most points a gap history can cost.
	DefaultGapPenaltyCap = 15.0

	gapMinMonths     = 2
	gapPenaltyAfter  = 6
	relevantCapYears = 10.0
	noExperience     = "no_experience"
)

// ExperienceOutcome is the experience sub-score and its evidence.
type ExperienceOutcome struct {
	Score     float64
	Detail    model.ExperienceDetail
	Strengths []string
	Gaps      []string
}

// seniorityKeywords map title words onto an ordinal. The highest hit wins.
var seniorityKeywords = map[string]int{
	"intern":    0,
	"trainee":   0,
	"junior":    1,
	"jr":        1,
	"associate": 1,
	"senior":    3,
	"sr":        3,
	"lead":      4,
	"staff":     4,
	"principal": 4,
	"architect": 4,
	"manager":   5,
	"head":      5,
	"director":  5,
	"vp":        6,
	"vice":      6,
	"chief":     6,
	"cto":       6,
	"ceo":       6,
}

const defaultSeniority = 2

// SeniorityOrdinal ranks a job title. Titles without a keyword are mid level.
func SeniorityOrdinal(title string) int {
	best := -1
	for _, w := range tokenize(title) {
		if o, ok := seniorityKeywords[w]; ok && o > best {
			best = o
		}
	}
	if best < 0 {
		return defaultSeniority
	}
	return best
}

type span struct {
	start, end int // month index, end exclusive
	label      string
	seniority  int
	relevant   bool
}

func monthIndex(t time.Time) int {
	t = t.UTC()
	return t.Year()*12 + int(t.Month()) - 1
}

// AnalyzeExperience scores a work history against the job. asOf resolves
// positions without an end date.
func AnalyzeExperience(history []model.WorkExperience, job model.JobRequirementProfile, asOf time.Time, capPoints float64) ExperienceOutcome {
	if capPoints < 0 {
		capPoints = 0
	}
	terms := relevanceTerms(job)

	spans := make([]span, 0, len(history))
	for _, w := range history {
		end := asOf
		if w.End != nil {
			end = *w.End
		}
		s := span{start: monthIndex(w.Start), end: monthIndex(end), seniority: SeniorityOrdinal(w.Position)}
		if s.end < s.start {
			s.end = s.start
		}
		s.label = w.Company
		if s.label == "" {
			s.label = w.Position
		}
		text := tokenize(w.Position + " " + w.Summary)
		s.relevant = len(terms) == 0
		for _, t := range terms {
			if containsPhrase(text, t) {
				s.relevant = true
				break
			}
		}
		spans = append(spans, s)
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	totalMonths := unionMonths(spans, func(span) bool { return true })
	if totalMonths == 0 {
		return ExperienceOutcome{
			Detail: model.ExperienceDetail{Progression: model.ProgressionStable},
			Gaps:   []string{noExperience},
		}
	}
	relevantMonths := unionMonths(spans, func(s span) bool { return s.relevant })

	out := ExperienceOutcome{}
	gapMonths := 0
	maxEnd := spans[0].end
	for i := 1; i < len(spans); i++ {
		if g := spans[i].start - maxEnd; g > gapMinMonths {
			gapMonths += g
			out.Gaps = append(out.Gaps, fmt.Sprintf("%d-month gap between %s and %s", g, spans[i-1].label, spans[i].label))
		}
		if spans[i].end > maxEnd {
			maxEnd = spans[i].end
		}
	}

	total := float64(totalMonths) / 12
	relevant := float64(relevantMonths) / 12
	minYears := job.ExperienceYears.Min

	points := 0.0
	switch {
	case minYears <= 0:
		points += 50
	default:
		points += 50 * math.Min(1, relevant/minYears)
	}
	points += 20 * relevant / total
	points += 20 * math.Min(1, relevant/relevantCapYears)

	progression := progressionOf(spans)
	switch progression {
	case model.ProgressionAscending:
		points += 10
		out.Strengths = append(out.Strengths, "ascending career progression")
	case model.ProgressionStable:
		points += 5
	}

	penalty := 0.0
	if gapMonths > gapPenaltyAfter {
		penalty = math.Min(capPoints, float64(gapMonths))
		points -= penalty
	}

	if minYears > 0 && relevant < minYears {
		out.Gaps = append(out.Gaps, fmt.Sprintf("experience below minimum (%sy < %sy)", years(relevant), years(minYears)))
	} else if relevant > 0 {
		out.Strengths = append(out.Strengths, fmt.Sprintf("%sy relevant experience", years(relevant)))
	}

	out.Score = round4(math.Max(0, math.Min(100, points)) / 100)
	out.Detail = model.ExperienceDetail{
		TotalYears:    round4(total),
		RelevantYears: round4(relevant),
		GapMonths:     gapMonths,
		PenaltyPoints: penalty,
		Progression:   progression,
	}
	return out
}

// relevanceTerms are the job skills and domain keywords, as word runs.
func relevanceTerms(job model.JobRequirementProfile) [][]string {
	var terms [][]string
	for _, s := range job.Skills {
		if t := tokenize(NormalizeSkill(s.Name)); len(t) > 0 {
			terms = append(terms, t)
		}
	}
	for _, k := range job.DomainKeywords {
		if t := tokenize(k); len(t) > 0 {
			terms = append(terms, t)
		}
	}
	return terms
}

// unionMonths counts months covered by the selected spans, overlaps once.
// spans must be sorted by start.
func unionMonths(spans []span, keep func(span) bool) int {
	total, curStart, curEnd := 0, 0, 0
	open := false
	for _, s := range spans {
		if !keep(s) || s.end == s.start {
			continue
		}
		if !open || s.start > curEnd {
			if open {
				total += curEnd - curStart
			}
			curStart, curEnd, open = s.start, s.end, true
			continue
		}
		if s.end > curEnd {
			curEnd = s.end
		}
	}
	if open {
		total += curEnd - curStart
	}
	return total
}

func progressionOf(spans []span) string {
	up, down := 0, 0
	for i := 1; i < len(spans); i++ {
		switch d := spans[i].seniority - spans[i-1].seniority; {
		case d > 0:
			up++
		case d < 0:
			down++
		}
	}
	switch {
	case up > down:
		return model.ProgressionAscending
	case down > up:
		return model.ProgressionDescending
	default:
		return model.ProgressionStable
	}
}

func years(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}

// lowerAll is shared by the education and culture scorers.
func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
