package extract

import (
	"strings"
	"unicode"
)

// genericTerms are nouns models like to emit that name no technology.
var genericTerms = map[string]bool{
	"technology":   true,
	"technologies": true,
	"tool":         true,
	"tools":        true,
	"software":     true,
	"framework":    true,
	"frameworks":   true,
	"language":     true,
	"languages":    true,
	"programming":  true,
	"tech stack":   true,
	"stack":        true,
	"platform":     true,
	"platforms":    true,
	"other":        true,
	"various":      true,
	"etc":          true,
	"etc.":         true,
	"n/a":          true,
	"none":         true,
}

// NormalizeTechnologies trims entries, drops generic nouns, capitalizes
// all-lowercase terms and removes case-insensitive duplicates keeping the
// first spelling. It returns nil when nothing is left.
func NormalizeTechnologies(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if genericTerms[key] || seen[key] {
			continue
		}
		seen[key] = true
		if t == key {
			t = capitalizeWords(t)
		}
		out = append(out, t)
	}
	return out
}

// capitalizeWords upper-cases the first letter of every space separated word.
func capitalizeWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 && unicode.IsLetter(r[0]) {
			r[0] = unicode.ToUpper(r[0])
			words[i] = string(r)
		}
	}
	return strings.Join(words, " ")
}
