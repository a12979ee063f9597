// Package phonetic implements the [transcript.PhoneticMatcher] interface
// with Double Metaphone encoding and Jaro-Winkler similarity, used to snap
// misrecognized transcript words onto the session's configured vocabulary.
//
// Matching runs in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for every
//     token of the heard word and every vocabulary term. A term whose codes
//     overlap with the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest Jaro-Winkler score (case-insensitive, on the original
//     strings) wins, provided it clears the phonetic threshold.
//
//     When no term matches phonetically, a fallback pass accepts pure
//     string similarity against the whole vocabulary at a stricter
//     threshold (default 0.85).
//
// Multi-word terms ("voice activity detection") work too: codes are
// computed per token and ranking considers the best pairwise token score.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetic
// candidate must reach to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure
// string-similarity fallback. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches heard words against a vocabulary. It implements
// [transcript.PhoneticMatcher] and is read-only after construction, so all
// methods are safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied. Defaults are
// 0.70 for phonetic matches and 0.85 for the fuzzy fallback.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the vocabulary term most phonetically similar to word.
//
// word may be a single token or a space-separated phrase. For phrases the
// matcher checks whether any token phonetically aligns with any token of a
// multi-word term, then ranks by Jaro-Winkler over the full strings.
//
// When matched is false, corrected is word unchanged and confidence is 0,
// per the [transcript.PhoneticMatcher] contract.
func (m *Matcher) Match(word string, entities []string) (corrected string, confidence float64, matched bool) {
	if len(entities) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	heard := strings.ToLower(strings.TrimSpace(word))
	heardTokens := strings.Fields(heard)
	heardCodes := codesForTokens(heardTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, term := range entities {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		phoneticHit := codesOverlap(heardCodes, codesForTokens(termTokens))
		score := bestSimilarity(heardTokens, termTokens, heard, termLower)

		if phoneticHit {
			if score >= m.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{term: term, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= m.fuzzyThreshold && score > best.score {
				best = candidate{term: term, score: score, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of Double Metaphone codes over tokens.
// Empty codes (very short words, no consonants) are skipped.
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
	// Walk the smaller set.
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

// bestSimilarity returns the highest Jaro-Winkler score across three
// comparisons:
//
//  1. Full strings ("car teja" vs "cartesia").
//  2. Space-stripped strings ("carteja" vs "cartesia"), so a term the
//     recognizer split into two words still lines up.
//  3. Best pairwise token score, for when one heard token corresponds to
//     one token of a multi-word term.
func bestSimilarity(heardTokens, termTokens []string, heardFull, termFull string) float64 {
	score := matchr.JaroWinkler(heardFull, termFull, false)

	if len(heardTokens) > 1 || len(termTokens) > 1 {
		joined := strings.Join(heardTokens, "")
		joinedTerm := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joined, joinedTerm, false); s > score {
			score = s
		}
	}

	for _, ht := range heardTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(ht, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
