package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/talentmatch/internal/domain/model"
)

const (
	educationMet   = 1.0
	educationShort = 0.5
	majorBonus     = 0.1
	relatedBonus   = 0.05
)

// relatedFields lists majors that count as adjacent to a keyword.
var relatedFields = map[string][]string{
	"computer science":       {"software engineering", "computer engineering", "information technology", "informatics", "cs"},
	"software engineering":   {"computer science", "computer engineering", "cs"},
	"software":               {"computer science", "software engineering", "computer engineering"},
	"data science":           {"statistics", "mathematics", "computer science", "machine learning"},
	"machine learning":       {"computer science", "statistics", "data science", "mathematics"},
	"statistics":             {"mathematics", "data science", "economics"},
	"mathematics":            {"statistics", "physics", "computer science"},
	"electrical engineering": {"computer engineering", "electronics"},
	"finance":                {"economics", "accounting", "business"},
	"marketing":              {"business", "communications"},
	"design":                 {"human computer interaction", "visual arts", "graphic design"},
}

// EducationOutcome is the education sub-score and its evidence.
type EducationOutcome struct {
	Score     float64
	Detail    model.EducationDetail
	Strengths []string
	Gaps      []string
}

// ScoreEducation compares the highest degree held against the required
// level. Only Degree, Level and Major are read.
func ScoreEducation(entries []model.Education, job model.JobRequirementProfile) EducationOutcome {
	highest := model.EducationNone
	var majors []string
	for _, e := range entries {
		lvl := e.Level
		if parsed, ok := model.ParseEducationLevel(e.Degree); ok && parsed > lvl {
			lvl = parsed
		}
		if lvl > highest {
			highest = lvl
		}
		if m := strings.TrimSpace(e.Major); m != "" {
			majors = append(majors, m)
		}
	}

	out := EducationOutcome{Detail: model.EducationDetail{HighestLevel: highest, RequiredLevel: job.EducationLevel}}
	score := educationShort
	if highest >= job.EducationLevel {
		score = educationMet
		if job.EducationLevel > model.EducationNone {
			out.Strengths = append(out.Strengths, fmt.Sprintf("%s degree meets %s requirement", highest, job.EducationLevel))
		}
	} else {
		out.Gaps = append(out.Gaps, fmt.Sprintf("education below required level (%s < %s)", highest, job.EducationLevel))
	}

	bonus, major := majorRelevance(majors, job.DomainKeywords)
	if bonus > 0 {
		out.Strengths = append(out.Strengths, "relevant major: "+major)
	}
	out.Detail.MajorBonus = bonus
	out.Score = round4(math.Min(1, score+bonus))
	return out
}

func majorRelevance(majors, keywords []string) (float64, string) {
	kws := lowerAll(keywords)
	if len(kws) == 0 {
		return 0, ""
	}
	var related string
	for _, m := range majors {
		ml := strings.ToLower(m)
		for _, k := range kws {
			if ml == k || strings.Contains(ml, k) || strings.Contains(k, ml) {
				return majorBonus, m
			}
			if related != "" {
				continue
			}
			for _, r := range relatedFields[k] {
				if strings.Contains(ml, r) {
					related = m
					break
				}
			}
		}
	}
	if related != "" {
		return relatedBonus, related
	}
	return 0, ""
}
