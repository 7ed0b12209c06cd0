package transcript

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Search tuning. Thresholds are Jaro-Winkler similarities of two words.
const (
	// soundsLikeThreshold applies to words sharing a Double Metaphone code.
	soundsLikeThreshold = 0.70
	// spellsLikeThreshold applies to all other word pairs.
	spellsLikeThreshold = 0.85
	// Shorter query words only match exactly.
	minFuzzyLen         = 3
)

// query is a prepared search query as used by the [MemStore] and [RedisStore]
// Search implementations.
//
// A text matches when it contains the query as a case-insensitive substring,
// or when every query word is like some word of the text. Two words are alike
// when they share a Double Metaphone code and are at least
// soundsLikeThreshold similar, or are at least spellsLikeThreshold similar.
// So a search for "filip" finds "Philip", and "catherine" finds "Katherine".
type query struct {
	lower string
	words []queryWord
}

type queryWord struct {
	text  string
	codes []string
}

func newQuery(raw string) query {
	q := query{lower: strings.ToLower(strings.TrimSpace(raw))}
	for _, w := range splitWords(q.lower) {
		q.words = append(q.words, queryWord{text: w, codes: metaphone(w)})
	}
	return q
}

func (q query) empty() bool { return q.lower == "" }

func (q query) matches(text string) bool {
	if q.empty() {
		return false
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, q.lower) {
		return true
	}
	if len(q.words) == 0 {
		return false
	}
	words := splitWords(lower)
	for _, qw := range q.words {
		if !slices.ContainsFunc(words, qw.like) {
			return false
		}
	}
	return true
}

func (qw queryWord) like(w string) bool {
	if w == qw.text {
		return true
	}
	if utf8.RuneCountInString(qw.text) < minFuzzyLen {
		return false
	}
	score := matchr.JaroWinkler(qw.text, w, false)
	switch {
	case score >= spellsLikeThreshold:
		return true
	case score < soundsLikeThreshold:
		return false
	}
	for _, c := range metaphone(w) {
		if slices.Contains(qw.codes, c) {
			return true
		}
	}
	return false
}

// metaphone returns the non-empty Double Metaphone codes of w.
func metaphone(w string) []string {
	p, s := matchr.DoubleMetaphone(w)
	codes := make([]string, 0, 2)
	for _, c := range []string{p, s} {
		if c != "" && !slices.Contains(codes, c) {
			codes = append(codes, c)
		}
	}
	return codes
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
