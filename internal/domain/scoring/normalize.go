package scoring

import (
	"strings"
	"unicode"
)

// skillAliases folds common spellings onto one canonical name.
var skillAliases = map[string]string{
	"js":         "javascript",
	"ecmascript": "javascript",
	"ts":         "typescript",
	"golang":     "go",
	"go lang":    "go",
	"k8s":        "kubernetes",
	"reactjs":    "react",
	"react.js":   "react",
	"vuejs":      "vue",
	"vue.js":     "vue",
	"node":       "node.js",
	"nodejs":     "node.js",
	"postgres":   "postgresql",
	"psql":       "postgresql",
	"mongo":      "mongodb",
	"py":         "python",
	"python3":    "python",
	"c sharp":    "c#",
	"csharp":     "c#",
	"cpp":        "c++",
	"gcp":        "google cloud",
	"ml":         "machine learning",
	"tf":         "terraform",
}

// NormalizeSkill lower-cases, trims and collapses whitespace, then applies
// the alias table.
func NormalizeSkill(s string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if canonical, ok := skillAliases[norm]; ok {
		return canonical
	}
	return norm
}

// tokenize splits free text into alias-normalized words. Characters that
// commonly appear inside technology names (+ # .) are kept.
func tokenize(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '.'
	})
	out := words[:0]
	for _, w := range words {
		w = strings.Trim(w, ".")
		if w == "" {
			continue
		}
		if canonical, ok := skillAliases[w]; ok {
			w = canonical
		}
		out = append(out, w)
	}
	return out
}

// containsPhrase reports whether phrase occurs as a contiguous run of words
// in text.
func containsPhrase(text, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(text) {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); i++ {
		match := true
		for j := range phrase {
			if text[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenContainment reports whether every word of one name appears in the
// other.
func tokenContainment(a, b string) bool {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	return subset(ta, tb) || subset(tb, ta)
}

func subset(small, big []string) bool {
	set := make(map[string]struct{}, len(big))
	for _, w := range big {
		set[w] = struct{}{}
	}
	for _, w := range small {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
