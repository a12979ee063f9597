// Package transcript contains the text processing for the voice loop: fixing
// STT mishearings of known vocabulary in final transcripts, rewriting words
// to TTS-friendly spellings as reply deltas stream in, stripping bracketed
// stage markers, and building the voice-mode prompt suffix.
//
// Raw speech-to-text output is rarely perfect for uncommon vocabulary —
// product names and user-specific proper nouns are frequently misheard. The
// [Pipeline] aligns such words against a configured vocabulary list using
// phonetic similarity before the transcript is sent to the gateway.
//
// Each [Correction] records the substitution and its confidence, so callers
// can audit, display, or selectively roll back changes.
//
// Pipeline implementations must be safe for concurrent use; the streaming
// [Replacer] is per-turn state and is not.
package transcript

import (
	"context"

	"github.com/joi-ai/voiceworker/pkg/types"
)

// Correction captures a single word-level substitution made by the pipeline.
type Correction struct {
	// Original is the word as produced by the STT provider.
	Original string

	// Corrected is the replacement selected by the pipeline.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0–1.0).
	// Values above 0.9 are considered high-confidence; values below 0.5
	// indicate the correction is speculative.
	Confidence float64

	// Method describes which correction stage produced this substitution.
	// Currently always "phonetic".
	Method string
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
// It pairs the original [types.Transcript] with the fully corrected text and
// an itemised record of every substitution that was applied.
type CorrectedTranscript struct {
	// Original is the raw [types.Transcript] as received from the STT provider.
	Original types.Transcript

	// Corrected is the full corrected transcript text with all substitutions
	// applied. This is the text forwarded to the gateway.
	Corrected string

	// Corrections is the ordered list of word-level substitutions applied to
	// produce Corrected. An empty (non-nil) slice means no corrections were
	// necessary.
	Corrections []Correction
}

// Pipeline applies corrections to a raw [types.Transcript], resolving STT
// errors for configured vocabulary.
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct processes transcript using the provided vocabulary list and
	// returns a [CorrectedTranscript] containing the corrected text and an
	// itemised record of every substitution made.
	//
	// vocabulary is the list of known terms the pipeline should recognise
	// within the transcript text: product names, proper nouns, and other
	// user-specific terms.
	//
	// Returns a non-nil *CorrectedTranscript on success.
	// When no corrections are needed, Corrected equals transcript.Text and
	// Corrections is an empty (non-nil) slice.
	Correct(ctx context.Context, transcript types.Transcript, vocabulary []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a single word to a known vocabulary term based on
// pronunciation similarity. It is designed to be fast enough for real-time
// use — no network calls.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match attempts to find the term from vocabulary that is most
	// phonetically similar to word.
	//
	// Return values:
	//   corrected  — the best-matching term from vocabulary.
	//   confidence — similarity score in [0.0, 1.0] where 1.0 is a perfect match.
	//   matched    — true when a sufficiently similar term was found.
	//
	// When matched is false, corrected must equal word unchanged and confidence
	// must be 0. Implementations define their own similarity threshold for
	// deciding when a match is "sufficient".
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
