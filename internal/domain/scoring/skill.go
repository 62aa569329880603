package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/talentmatch/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

const (
	gapThreshold        = 0.3
	containmentScore    = 0.8
	strengthThreshold   = 0.8
	defaultProviderCall = 5 * time.Second
	providerFanOut      = 4
)

// SimilarityProvider scores how close two skill names are, in [0,1].
type SimilarityProvider interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// SkillOutcome is the skill sub-score and the evidence behind it.
type SkillOutcome struct {
	Score      float64
	Matches    []model.SkillMatch
	Strengths  []string
	Gaps       []string
	Additional []string
	Mode       string
	Degraded   bool
	// ProviderErr is the error that forced lexical fallback, if any.
	ProviderErr error
}

// SkillMatcher finds the best candidate skill for each requirement.
type SkillMatcher struct {
	provider SimilarityProvider
	timeout  time.Duration
	fanOut   int
}

// NewSkillMatcher returns a matcher. A nil provider means lexical matching.
func NewSkillMatcher(provider SimilarityProvider, timeout time.Duration) *SkillMatcher {
	if timeout <= 0 {
		timeout = defaultProviderCall
	}
	return &SkillMatcher{provider: provider, timeout: timeout, fanOut: providerFanOut}
}

// Match scores candidate skills against the weighted requirements.
func (m *SkillMatcher) Match(ctx context.Context, candidate []string, reqs []model.RequiredSkill) (SkillOutcome, error) {
	out := SkillOutcome{Mode: model.MatchModeLexical}
	if m.provider != nil {
		out.Mode = model.MatchModeSemantic
	}

	cand := make([]string, 0, len(candidate))
	seen := make(map[string]struct{}, len(candidate))
	for _, c := range candidate {
		n := NormalizeSkill(c)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		cand = append(cand, c)
	}

	if len(reqs) == 0 {
		out.Score = 1
		out.Additional = append([]string{}, cand...)
		return out, nil
	}

	for _, r := range reqs {
		if math.IsNaN(r.Weight) || r.Weight < 0 {
			return SkillOutcome{}, fmt.Errorf("%w: skill %q has weight %v", ErrScoring, r.Name, r.Weight)
		}
	}

	best := make([]float64, len(reqs))
	bestIdx := make([]int, len(reqs))
	for i, r := range reqs {
		bestIdx[i] = -1
		rn := NormalizeSkill(r.Name)
		for j, c := range cand {
			if NormalizeSkill(c) == rn {
				best[i], bestIdx[i] = 1, j
				break
			}
		}
	}

	semantic := false
	if m.provider != nil {
		scores, err := m.semantic(ctx, cand, reqs, best)
		if err != nil {
			out.Mode = model.MatchModeLexicalFallback
			out.Degraded = true
			out.ProviderErr = err
		} else {
			semantic = true
			for i := range reqs {
				for j := range cand {
					if s := scores[i][j]; s > best[i] {
						best[i], bestIdx[i] = s, j
					}
				}
			}
		}
	}
	if !semantic {
		for i, r := range reqs {
			if best[i] == 1 {
				continue
			}
			for j, c := range cand {
				if tokenContainment(r.Name, c) && containmentScore > best[i] {
					best[i], bestIdx[i] = containmentScore, j
				}
			}
		}
	}

	weightSum := 0.0
	for _, r := range reqs {
		weightSum += r.Weight
	}
	equal := weightSum == 0

	used := make(map[int]struct{}, len(cand))
	total := 0.0
	for i, r := range reqs {
		w := r.Weight
		if equal {
			w = 1
		}
		total += w * best[i]

		sm := model.SkillMatch{Requirement: r.Name, Score: round4(best[i]), Weight: r.Weight, Required: r.Required}
		if bestIdx[i] >= 0 && best[i] >= gapThreshold {
			sm.MatchedSkill = cand[bestIdx[i]]
			used[bestIdx[i]] = struct{}{}
		}
		out.Matches = append(out.Matches, sm)

		switch {
		case best[i] < gapThreshold && r.Required:
			out.Gaps = append(out.Gaps, r.Name+" (required)")
		case best[i] < gapThreshold:
			out.Gaps = append(out.Gaps, r.Name)
		case best[i] >= strengthThreshold:
			out.Strengths = append(out.Strengths, "skill match: "+r.Name)
		}
	}
	if equal {
		weightSum = float64(len(reqs))
	}
	out.Score = round4(total / weightSum)

	for j, c := range cand {
		if _, ok := used[j]; !ok {
			out.Additional = append(out.Additional, c)
		}
	}
	return out, nil
}

// semantic asks the provider about every pair that lacks an exact match.
// All calls share one deadline; the first failure cancels the rest. The
// deadline holds even against a provider that ignores ctx: the calls write
// into a buffer only handed back once every call has returned, so a late
// writer never touches what the caller sees.
func (m *SkillMatcher) semantic(ctx context.Context, cand []string, reqs []model.RequiredSkill, exact []float64) ([][]float64, error) {
	scores := make([][]float64, len(reqs))
	for i := range scores {
		scores[i] = make([]float64, len(cand))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.fanOut)
		for i, r := range reqs {
			if exact[i] == 1 {
				continue
			}
			for j, c := range cand {
				if gctx.Err() != nil {
					break
				}
				i, j, a, b := i, j, r.Name, c
				g.Go(func() error {
					s, err := m.provider.Score(gctx, a, b)
					if err != nil {
						return err
					}
					if math.IsNaN(s) {
						return fmt.Errorf("similarity for %q/%q is NaN", a, b)
					}
					scores[i][j] = math.Max(0, math.Min(1, s))
					return nil
				})
			}
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return scores, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
