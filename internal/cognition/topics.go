package cognition

import (
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from topic extraction. Small on purpose; the
// extraction feeds retrieval hints and pattern signatures, not search.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "have": true, "from": true, "what": true, "when": true,
	"where": true, "how": true, "why": true, "can": true, "could": true,
	"would": true, "should": true, "about": true, "into": true, "your": true,
	"you": true, "are": true, "was": true, "were": true, "will": true,
	"not": true, "but": true, "all": true, "any": true, "his": true,
	"her": true, "they": true, "them": true, "then": true, "there": true,
	"just": true, "like": true, "some": true, "been": true, "did": true,
	"does": true, "doing": true, "please": true, "want": true, "need": true,
}

// keywords extracts distinct lowercase topic words, longest first so
// the most specific terms lead. Words shorter than four runes and
// stopwords are dropped.
func keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(word) < 4 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		out = append(out, word)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
