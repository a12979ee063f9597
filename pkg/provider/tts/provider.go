// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Cartesia or the
// OpenAI speech API) and presents a uniform one-shot streaming interface:
// Synthesize is called once per sentence and returns a stream of raw PCM
// frames as they become available, enabling low-latency pipelining between
// the reply stream and audio playout.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize converts a single piece of text to speech and returns a
	// [Stream] of PCM frames as they are generated. The call is one shot:
	// implementations must not retry internally. A failed synthesis is
	// signalled either by a non-nil error (the stream never started) or by
	// a terminal [Frame] with Err set (the stream broke mid-flight).
	//
	// The frame channel is closed by the implementation when synthesis
	// completes, fails, or ctx is cancelled. The caller must drain it.
	Synthesize(ctx context.Context, text string) (*Stream, error)

	// Name identifies the backend, e.g. "cartesia". Stable across calls;
	// used in cache fingerprints and usage reports.
	Name() string

	// Model is the synthesis model identifier, e.g. "sonic-2".
	Model() string

	// Voice is the configured voice identifier. May be empty for backends
	// with a single default voice.
	Voice() string

	// SampleRate is the output sample rate in Hz. All frames emitted by
	// Synthesize use this rate.
	SampleRate() int

	// NumChannels is the output channel count. All current backends emit
	// mono (1).
	NumChannels() int
}
