// Package similarity holds the semantic similarity providers plugged into the
// skill matcher: an offline lexical scorer, a Gemini-backed scorer, and the
// breaker, rate limit and cache wrappers stacked around them.
package similarity

import (
	"context"
	"strings"

	"github.com/okian/talentmatch/internal/domain/scoring"
)

// Provider scores two skill names in [0,1] and reports the version its
// scores are pinned to.
type Provider interface {
	scoring.SimilarityProvider
	Version() string
}

const lexicalVersion = "lexical-1"

// Lexical scores names by their normalized words. Equal names score 1, one
// name contained in the other 0.8, anything else the Jaccard index of the
// word sets scaled below the containment score.
type Lexical struct{}

// NewLexical returns the offline provider.
func NewLexical() Lexical { return Lexical{} }

func (Lexical) Version() string { return lexicalVersion }

func (Lexical) Score(_ context.Context, a, b string) (float64, error) {
	na, nb := scoring.NormalizeSkill(a), scoring.NormalizeSkill(b)
	if na == "" || nb == "" {
		return 0, nil
	}
	if na == nb {
		return 1, nil
	}
	wa, wb := words(na), words(nb)
	if containsAll(wa, wb) || containsAll(wb, wa) {
		return 0.8, nil
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	if union == 0 {
		return 0, nil
	}
	return 0.7 * float64(inter) / float64(union), nil
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '/' || r == '_' }) {
		out[scoring.NormalizeSkill(w)] = struct{}{}
	}
	return out
}

func containsAll(set, sub map[string]struct{}) bool {
	if len(sub) == 0 {
		return false
	}
	for w := range sub {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
