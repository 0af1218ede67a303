// Package phonetic implements [transcript.PhoneticMatcher] using Double
// Metaphone encoding combined with Jaro-Winkler similarity.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     the first token of the input and of every vocabulary term. A term that
//     starts with the same sound as the input becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest case-insensitive Jaro-Winkler score wins, provided the score
//     reaches the phonetic threshold. Without any phonetic candidate a pure
//     Jaro-Winkler pass with the stricter fuzzy threshold is tried.
//
// Multi-word terms ("Tower of Whispers") compare token by token, as a whole
// and with spaces removed; the best of these scores is used.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
	defaultMinLength         = 4

	// minLengthRatio is the smallest allowed ratio between the letter counts
	// of input and term.
	minLengthRatio = 0.6
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the number of letters an input needs before it is
// considered at all. Short function words ("the", "and") otherwise collide
// with short names. Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = n
	}
}

// Matcher is a phonetic vocabulary matcher. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a vocabulary entry with its codes computed once.
type term struct {
	canonical string
	lower     string
	tokens    []string
	letters   int
	first     map[string]struct{}
}

// Vocabulary is a prepared term list. Build it once per correction with
// [Prepare] and match many n-gram windows against it.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare computes phonetic codes for every non-empty term.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]term, 0, len(terms))}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			canonical: strings.TrimSpace(t),
			lower:     lower,
			tokens:    tokens,
			letters:   letterCount(tokens),
			first:     codesForTokens(tokens[:1]),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// MaxWords returns the word count of the longest term, or 0 for an empty
// vocabulary.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Match finds the term from terms that sounds most like word. word may be a
// single token or a space-separated n-gram.
//
// When matched is false, corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, Prepare(terms))
}

// MatchPrepared is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchPrepared(word string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 {
		return word, 0, false
	}
	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(trimPunct(wordLower))
	letters := letterCount(wordTokens)
	if len(wordTokens) == 0 || letters < m.minLength {
		return word, 0, false
	}
	wordLower = strings.Join(wordTokens, " ")

	inputCodes := codesForTokens(wordTokens[:1])

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		if float64(min(letters, t.letters)) < minLengthRatio*float64(max(letters, t.letters)) {
			continue
		}
		jw := bestJWScore(wordTokens, t.tokens, wordLower, t.lower)
		if codesOverlap(inputCodes, t.first) {
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > bestScore) {
				best, bestScore, bestPhonetic = t.canonical, jw, true
			}
		} else if !bestPhonetic && jw >= m.fuzzyThreshold && jw > bestScore {
			best, bestScore = t.canonical, jw
		}
	}

	if best != "" {
		return best, bestScore, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens, excluding empty codes.
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

func codesOverlap(a, b map[string]struct{}) bool {
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

// bestJWScore is the highest of three Jaro-Winkler similarities: the full
// strings, the strings with spaces removed, and (for equal token counts) the
// mean of position-wise token scores. A single spoken token matching one word
// of a longer term does not count as a match for the whole term.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if n := len(inputTokens); n > 1 && n == len(termTokens) {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		if s := sum / float64(n); s > score {
			score = s
		}
	}

	return score
}

func trimPunct(s string) string {
	return strings.Trim(s, ".,;:!?\"'()")
}

func letterCount(tokens []string) int {
	n := 0
	for _, t := range tokens {
		n += utf8.RuneCountInString(t)
	}
	return n
}
