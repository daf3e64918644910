// Package phonetic corrects misheard campaign vocabulary in transcripts.
//
// Speech recognisers mangle invented names ("Eldrinax" becomes "elder nacks").
// A [Matcher] is built once from the configured vocabulary and compares
// transcript phrases against it in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes of the phrase and of each
//     term are compared. A shared code makes the term a phonetic candidate.
//  2. Jaro-Winkler ranking: phonetic candidates need a similarity of at least
//     the phonetic threshold (0.70); terms without a shared code need the
//     stricter fuzzy threshold (0.85).
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen keeps short function words ("a", "of", "is") from being
	// matched on their own.
	minTokenLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without a
// shared phonetic code. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Correction records one replacement made by [Matcher.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// term is a vocabulary entry with its precomputed comparison keys.
type term struct {
	canonical string
	lower     string
	tokens    []string
	concat    string
	codes     map[string]struct{}
	lead      byte
}

// Matcher matches phrases against a fixed vocabulary. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// New returns a Matcher for vocabulary. Blank and duplicate entries are
// ignored.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	seen := make(map[string]bool, len(vocabulary))
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		lower := strings.ToLower(v)
		if v == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			canonical: v,
			lower:     lower,
			tokens:    tokens,
			concat:    strings.Join(tokens, ""),
			codes:     codesForTokens(tokens),
			lead:      leadCode(tokens[0]),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// Len returns the number of vocabulary terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Match finds the vocabulary term closest to phrase. phrase may hold several
// words; the best pairwise word score counts as well. When matched is false,
// corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" || len(m.terms) == 0 {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	if t, score, ok := m.best(tokens, lower, m.terms, true); ok {
		return t.canonical, score, true
	}
	return phrase, 0, false
}

// best ranks candidates for the phrase. Phonetic candidates always win over
// fuzzy ones.
func (m *Matcher) best(tokens []string, lower string, candidates []term, pairwise bool) (term, float64, bool) {
	codes := codesForTokens(tokens)
	concat := strings.Join(tokens, "")

	var (
		best        term
		bestScore   float64
		bestIsPhone bool
		found       bool
	)
	for _, t := range candidates {
		score := similarity(tokens, t.tokens, lower, t.lower, concat, t.concat, pairwise)
		if overlaps(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestIsPhone || score > bestScore) {
				best, bestScore, bestIsPhone, found = t, score, true, true
			}
			continue
		}
		if !bestIsPhone && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore, found = t, score, true
		}
	}
	return best, bestScore, found
}

// Correct replaces misheard vocabulary in text. Every position is tried with
// windows of up to one word more than the longest term; among windows that
// match, the highest score wins and ties go to the longer window. A window
// only matches terms whose word count differs by at most one and whose first
// sound is the same, so neighbouring words are not swallowed. Surrounding
// punctuation is kept.
func (m *Matcher) Correct(text string) (string, []Correction) {
	words := strings.Fields(text)
	if len(words) == 0 || len(m.terms) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n, t, score := m.matchAt(words[i:])
		if n == 0 {
			out = append(out, words[i])
			i++
			continue
		}

		window := words[i : i+n]
		prefix, _, _ := splitPunct(window[0])
		_, _, suffix := splitPunct(window[n-1])
		original := strings.Join(stripAll(window), " ")
		if original != t.canonical {
			corrections = append(corrections, Correction{Original: original, Corrected: t.canonical, Confidence: score})
		}
		out = append(out, prefix+t.canonical+suffix)
		i += n
	}
	return strings.Join(out, " "), corrections
}

// matchAt returns the number of words consumed at the start of words, or 0.
func (m *Matcher) matchAt(words []string) (int, term, float64) {
	var (
		bestN     int
		bestTerm  term
		bestScore float64
	)
	limit := min(m.maxWords+1, len(words))
	for n := 1; n <= limit; n++ {
		tokens := stripAll(words[:n])
		lowerTokens := make([]string, 0, n)
		for _, tok := range tokens {
			if tok != "" {
				lowerTokens = append(lowerTokens, strings.ToLower(tok))
			}
		}
		if len(lowerTokens) != n {
			break
		}
		if n == 1 && len(lowerTokens[0]) < minTokenLen {
			continue
		}

		lead := leadCode(lowerTokens[0])
		var candidates []term
		for _, t := range m.terms {
			if t.lead == lead && abs(len(t.tokens)-n) <= 1 {
				candidates = append(candidates, t)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		t, score, ok := m.best(lowerTokens, strings.Join(lowerTokens, " "), candidates, false)
		if ok && score >= bestScore {
			bestN, bestTerm, bestScore = n, t, score
		}
	}
	return bestN, bestTerm, bestScore
}

// ─── scoring helpers ──────────────────────────────────────────────────────────

// similarity is the highest Jaro-Winkler score among the full strings, the
// strings with spaces removed and, when pairwise is set, any word pair.
func similarity(aTokens, bTokens []string, aFull, bFull, aConcat, bConcat string, pairwise bool) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		score = max(score, matchr.JaroWinkler(aConcat, bConcat, false))
	}
	if pairwise {
		for _, a := range aTokens {
			for _, b := range bTokens {
				score = max(score, matchr.JaroWinkler(a, b, false))
			}
		}
	}
	return score
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// leadCode is the first character of the primary phonetic code of word.
func leadCode(word string) byte {
	p, _ := matchr.DoubleMetaphone(word)
	if p == "" {
		return 0
	}
	return p[0]
}

// splitPunct separates leading and trailing punctuation from a word.
func splitPunct(word string) (prefix, core, suffix string) {
	isPunct := func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) }
	core = strings.TrimLeftFunc(word, isPunct)
	prefix = word[:len(word)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	suffix = core[len(trimmed):]
	return prefix, trimmed, suffix
}

func stripAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		_, out[i], _ = splitPunct(w)
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
