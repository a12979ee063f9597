package resilience

import (
	"context"

	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// SynthFallback implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// Identity getters (Name, Model, Voice, SampleRate, NumChannels) always report
// the primary backend so that cache fingerprints and usage reports stay pinned
// to one identity regardless of which backend actually served a request.
// Fallback backends should therefore be configured with a compatible output
// format.
type SynthFallback struct {
	primary tts.Provider
	group   *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary tts.Provider, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		primary: primary,
		group:   NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional synthesis backend. Fallbacks are tried
// in the order they are added, after the primary.
func (f *SynthFallback) AddFallback(provider tts.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Synthesize tries the first healthy backend. Only stream setup is covered by
// failover; a stream that breaks mid-flight is the caller's to handle.
func (f *SynthFallback) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Stream, error) {
		return p.Synthesize(ctx, text)
	})
}

func (f *SynthFallback) Name() string     { return f.primary.Name() }
func (f *SynthFallback) Model() string    { return f.primary.Model() }
func (f *SynthFallback) Voice() string    { return f.primary.Voice() }
func (f *SynthFallback) SampleRate() int  { return f.primary.SampleRate() }
func (f *SynthFallback) NumChannels() int { return f.primary.NumChannels() }
