package scoring

import (
	"strings"

	"github.com/okian/talentmatch/internal/domain/model"
)

const minDescriptorToken = 3

// CultureOutcome is the optional cultural-fit sub-score.
type CultureOutcome struct {
	Score     float64
	Detail    model.CultureDetail
	Strengths []string
}

// ScoreCulture counts the descriptors that show up in the candidate's
// positions and summaries. The bool is false when the profile carries no
// descriptors, in which case culture takes no part in aggregation.
func ScoreCulture(profile *model.CompanyProfile, candidate model.CandidateProfile) (CultureOutcome, bool) {
	if !profile.Active() {
		return CultureOutcome{}, false
	}

	words := make(map[string]struct{})
	for _, w := range candidate.WorkExperience {
		for _, t := range tokenize(w.Position + " " + w.Summary) {
			words[t] = struct{}{}
		}
	}

	out := CultureOutcome{Detail: model.CultureDetail{Matched: []string{}}}
	for _, d := range profile.Descriptors {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		out.Detail.Total++
		for _, t := range tokenize(d) {
			if len(t) < minDescriptorToken {
				continue
			}
			if _, ok := words[t]; ok {
				out.Detail.Matched = append(out.Detail.Matched, d)
				break
			}
		}
	}
	out.Score = round4(float64(len(out.Detail.Matched)) / float64(out.Detail.Total))
	if len(out.Detail.Matched) > 0 {
		out.Strengths = append(out.Strengths, "culture signals: "+strings.Join(out.Detail.Matched, ", "))
	}
	return out, true
}
