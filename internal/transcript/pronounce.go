package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule maps a written word to the spelling the TTS engine should receive.
type Rule struct {
	Word        string `yaml:"word"`
	Replacement string `yaml:"replacement"`
}

// boundaryChars are the characters a streamed delta can safely be cut at
// without splitting a word that a rule might match.
const boundaryChars = " \n\t.,!?;:)]}"

// Replacer rewrites configured words to TTS-friendly spellings in a stream
// of reply deltas. Because a word can straddle two deltas, Push only returns
// text up to the last word boundary and buffers the remainder; Flush
// processes the leftover at end of turn.
//
// A Replacer holds one turn's buffer and is not safe for concurrent use.
type Replacer struct {
	patterns []pattern
	buf      strings.Builder
}

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// NewReplacer compiles the given rules. With no rules the replacer is a
// pass-through: Push returns each delta unchanged and Flush returns "".
func NewReplacer(rules []Rule) *Replacer {
	r := &Replacer{}
	for _, rule := range rules {
		if rule.Word == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(rule.Word) + `\b`)
		r.patterns = append(r.patterns, pattern{re: re, replacement: rule.Replacement})
	}
	return r
}

// Push appends delta to the buffer and returns the rewritten text up to the
// last word boundary, or "" when no boundary has arrived yet.
func (r *Replacer) Push(delta string) string {
	if len(r.patterns) == 0 {
		return delta
	}
	r.buf.WriteString(delta)
	text := r.buf.String()

	last := strings.LastIndexAny(text, boundaryChars)
	if last < 0 {
		return ""
	}

	flushable := text[:last+1]
	r.buf.Reset()
	r.buf.WriteString(text[last+1:])
	return r.apply(flushable)
}

// Flush rewrites and returns whatever is still buffered.
func (r *Replacer) Flush() string {
	if len(r.patterns) == 0 || r.buf.Len() == 0 {
		return ""
	}
	text := r.buf.String()
	r.buf.Reset()
	return r.apply(text)
}

func (r *Replacer) apply(text string) string {
	for _, p := range r.patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}

// PronunciationGuide renders the prompt section telling the model which
// spellings to emit, one "- "word" → write as "replacement"" line per rule.
// Returns "" when rules is empty.
func PronunciationGuide(rules []Rule) string {
	if len(rules) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Pronunciation Guide\n")
	sb.WriteString("When speaking, use these exact spellings so the text-to-speech engine pronounces them correctly:\n")
	for i, rule := range rules {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %q → write as %q", rule.Word, rule.Replacement)
	}
	return sb.String()
}
