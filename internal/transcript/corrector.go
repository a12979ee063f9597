package transcript

import (
	"context"
	"strings"

	"github.com/joi-ai/voiceworker/pkg/types"
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] to the pipeline. When nil
// (the default), the pipeline passes transcripts through unchanged.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// CorrectionPipeline is the phonetic implementation of [Pipeline]. It aligns
// n-gram windows of the transcript against the configured vocabulary, so a
// single misheard word can be replaced by a multi-word term and vice versa.
//
// CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	phonetic PhoneticMatcher
}

// Ensure CorrectionPipeline satisfies the Pipeline interface at compile time.
var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
// Without [WithPhoneticMatcher] the pipeline is a pass-through.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies phonetic vocabulary correction to transcript.
//
// The transcript text is tokenised into whitespace-separated words. At each
// position, n-gram windows from the longest vocabulary term's word count down
// to 1 are tested against the matcher; the longest match wins so multi-word
// terms take precedence over partial single-word matches.
func (p *CorrectionPipeline) Correct(
	ctx context.Context,
	t types.Transcript,
	vocabulary []string,
) (*CorrectedTranscript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &CorrectedTranscript{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}
	if p.phonetic == nil || len(vocabulary) == 0 {
		return result, nil
	}

	corrected, corrections := p.applyPhonetic(t.Text, vocabulary)
	result.Corrected = corrected
	result.Corrections = append(result.Corrections, corrections...)
	return result, nil
}

// applyPhonetic runs the matcher over the transcript text and returns the
// corrected text with the list of corrections applied.
func (p *CorrectionPipeline) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	maxTermWords := maxWordCount(vocabulary)

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := p.phonetic.Match(window, vocabulary)
			if !ok {
				continue
			}

			// Emit the term's tokens. A window that already spells the
			// term is normalised to its canonical casing but not recorded.
			output = append(output, strings.Fields(term)...)
			if !strings.EqualFold(window, term) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
					Method:     "phonetic",
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any vocabulary term. Returns 1 when vocabulary is empty.
func maxWordCount(vocabulary []string) int {
	max := 1
	for _, v := range vocabulary {
		if n := len(strings.Fields(v)); n > max {
			max = n
		}
	}
	return max
}
