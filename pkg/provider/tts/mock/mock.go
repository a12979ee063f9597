// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to consumers and to verify which
// texts were synthesized. Per-text behaviour is scripted via Scripts; any
// text without a script uses Default.
//
// Example:
//
//	p := &mock.Provider{
//	    Default: mock.Script{Frames: [][]byte{make([]byte, 4800)}},
//	    Scripts: map[string]mock.Script{
//	        "Boom.": {Err: errors.New("synthesis blew up")},
//	    },
//	}
//	stream, _ := p.Synthesize(ctx, "Hello.")
package mock

import (
	"context"
	"sync"

	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// Script describes how the mock responds to one Synthesize call.
type Script struct {
	// Frames is the sequence of PCM payloads emitted on the stream.
	Frames [][]byte

	// Err, if non-nil, is emitted as a terminal error frame after Frames.
	// Use it to simulate a synthesis that breaks mid-stream.
	Err error

	// StartErr, if non-nil, is returned from Synthesize itself; no stream
	// is started.
	StartErr error
}

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
// The zero value is usable: it reports a "mock" identity, a 24 kHz mono
// format, and emits no audio.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NameValue, ModelValue and VoiceValue override the reported identity.
	NameValue  string
	ModelValue string
	VoiceValue string

	// Rate and Channels override the reported output format.
	Rate     int
	Channels int

	// Default is the script used for texts without an entry in Scripts.
	Default Script

	// Scripts maps exact text inputs to their scripted behaviour.
	Scripts map[string]Script

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Name returns NameValue or "mock".
func (p *Provider) Name() string {
	if p.NameValue != "" {
		return p.NameValue
	}
	return "mock"
}

// Model returns ModelValue or "mock-model".
func (p *Provider) Model() string {
	if p.ModelValue != "" {
		return p.ModelValue
	}
	return "mock-model"
}

// Voice returns VoiceValue or "mock-voice".
func (p *Provider) Voice() string {
	if p.VoiceValue != "" {
		return p.VoiceValue
	}
	return "mock-voice"
}

// SampleRate returns Rate or 24000.
func (p *Provider) SampleRate() int {
	if p.Rate > 0 {
		return p.Rate
	}
	return 24000
}

// NumChannels returns Channels or 1.
func (p *Provider) NumChannels() int {
	if p.Channels > 0 {
		return p.Channels
	}
	return 1
}

// Synthesize records the call and plays back the script for text.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	p.mu.Lock()
	script, ok := p.Scripts[text]
	if !ok {
		script = p.Default
	}
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text})
	rate, channels := p.SampleRate(), p.NumChannels()
	name := p.Name()
	p.mu.Unlock()

	if script.StartErr != nil {
		return nil, script.StartErr
	}

	frames := make(chan tts.Frame, len(script.Frames)+1)
	go func() {
		defer close(frames)
		for _, pcm := range script.Frames {
			frame := tts.Frame{
				Data:     pcm,
				Duration: tts.PCMDuration(len(pcm), rate, channels),
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
		if script.Err != nil {
			select {
			case frames <- tts.Frame{Err: script.Err}:
			case <-ctx.Done():
			}
		}
	}()

	return &tts.Stream{Frames: frames, Provider: name}, nil
}

// CallCount returns how many times Synthesize was invoked for text.
func (p *Provider) CallCount(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.SynthesizeCalls {
		if c.Text == text {
			n++
		}
	}
	return n
}

// Texts returns the synthesized texts in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}
