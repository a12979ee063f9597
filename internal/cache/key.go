package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// Fingerprint identifies a unique TTS rendering configuration. Two segments
// synthesized under equal fingerprints produce interchangeable audio, so the
// fingerprint is part of every cache key.
type Fingerprint struct {
	Provider    string
	Model       string
	Voice       string // may be empty for providers with a single default voice
	SampleRate  int
	NumChannels int
}

// KeyBuilder derives cache keys and decides cache eligibility for segment
// text under a fixed fingerprint. The fingerprint's canonical serialization
// is computed once at construction. KeyBuilder is immutable and safe for
// concurrent use.
type KeyBuilder struct {
	prefix       string
	maxTextChars int
	fpJSON       string
}

// NewKeyBuilder creates a KeyBuilder producing keys of the form
// "<prefix>:<64 hex>". maxTextChars caps the normalized rune count of
// eligible text; longer one-off sentences rarely recur and would only
// pollute the cache.
func NewKeyBuilder(prefix string, maxTextChars int, fp Fingerprint) *KeyBuilder {
	return &KeyBuilder{
		prefix:       prefix,
		maxTextChars: maxTextChars,
		fpJSON:       canonicalFingerprint(fp),
	}
}

// Key returns the cache key for text: the prefixed lowercase-hex SHA-256 of
// the canonical JSON document {"fp": {...}, "text": "<normalized>"}.
//
// The canonical form matches Python's json.dumps(payload, sort_keys=True,
// ensure_ascii=True) byte for byte — mapping keys sorted, ", " and ": "
// separators, non-ASCII escaped as UTF-16 \uXXXX units — so Go and Python
// workers sharing a remote backend agree on keys.
func (b *KeyBuilder) Key(text string) string {
	var sb strings.Builder
	sb.WriteString(`{"fp": `)
	sb.WriteString(b.fpJSON)
	sb.WriteString(`, "text": `)
	writeEscapedASCII(&sb, Normalize(text))
	sb.WriteByte('}')

	sum := sha256.Sum256([]byte(sb.String()))
	return b.prefix + ":" + hex.EncodeToString(sum[:])
}

// Cacheable reports whether text is eligible for caching: non-empty after
// normalization and at most the configured rune count.
func (b *KeyBuilder) Cacheable(text string) bool {
	norm := Normalize(text)
	return norm != "" && utf8.RuneCountInString(norm) <= b.maxTextChars
}

// Normalize collapses every run of Unicode whitespace in s to a single
// space and trims leading and trailing whitespace. Idempotent.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// canonicalFingerprint serializes fp with its mapping keys in lexicographic
// order, matching the canonical form described on [KeyBuilder.Key].
func canonicalFingerprint(fp Fingerprint) string {
	var sb strings.Builder
	sb.WriteString(`{"model": `)
	writeEscapedASCII(&sb, fp.Model)
	sb.WriteString(`, "num_channels": `)
	fmt.Fprintf(&sb, "%d", fp.NumChannels)
	sb.WriteString(`, "provider": `)
	writeEscapedASCII(&sb, fp.Provider)
	sb.WriteString(`, "sample_rate": `)
	fmt.Fprintf(&sb, "%d", fp.SampleRate)
	sb.WriteString(`, "voice": `)
	writeEscapedASCII(&sb, fp.Voice)
	sb.WriteByte('}')
	return sb.String()
}

// writeEscapedASCII writes s as a double-quoted JSON string with every rune
// outside 0x20..0x7e escaped. Runes above the BMP become surrogate pairs,
// mirroring Python's ensure_ascii output.
func writeEscapedASCII(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			sb.WriteString(`\"`)
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '\b':
			sb.WriteString(`\b`)
		case r == '\f':
			sb.WriteString(`\f`)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r >= 0x20 && r <= 0x7e:
			sb.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(sb, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(sb, `\u%04x`, r)
		}
	}
	sb.WriteByte('"')
}
