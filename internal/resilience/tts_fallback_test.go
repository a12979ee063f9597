package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	ttsmock "github.com/joi-ai/voiceworker/pkg/provider/tts/mock"
)

func TestSynthFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{
		NameValue: "cartesia",
		Default:   ttsmock.Script{Frames: [][]byte{[]byte("audio1"), []byte("audio2")}},
	}
	secondary := &ttsmock.Provider{
		NameValue: "openai",
		Default:   ttsmock.Script{Frames: [][]byte{[]byte("fallback-audio")}},
	}

	fb := NewSynthFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	stream, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var chunks [][]byte
	for frame := range stream.Frames {
		if frame.Err != nil {
			t.Fatalf("unexpected frame error: %v", frame.Err)
		}
		chunks = append(chunks, frame.Data)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if string(chunks[0]) != "audio1" {
		t.Errorf("chunk[0] = %q, want audio1", chunks[0])
	}
	if stream.Provider != "cartesia" {
		t.Errorf("stream provider = %q, want cartesia", stream.Provider)
	}
	if primary.CallCount("hello") != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount("hello"))
	}
	if secondary.CallCount("hello") != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount("hello"))
	}
}

func TestSynthFallback_FailoverOnStartError(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{
		NameValue: "cartesia",
		Default:   ttsmock.Script{StartErr: errors.New("primary down")},
	}
	secondary := &ttsmock.Provider{
		NameValue: "openai",
		Default:   ttsmock.Script{Frames: [][]byte{[]byte("fallback-audio")}},
	}

	fb := NewSynthFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	stream, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []byte
	for frame := range stream.Frames {
		got = append(got, frame.Data...)
	}
	if string(got) != "fallback-audio" {
		t.Errorf("audio = %q, want fallback-audio", got)
	}
	if stream.Provider != "openai" {
		t.Errorf("stream provider = %q, want openai", stream.Provider)
	}
}

func TestSynthFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Default: ttsmock.Script{StartErr: errors.New("down")}}
	secondary := &ttsmock.Provider{Default: ttsmock.Script{StartErr: errors.New("also down")}}

	fb := NewSynthFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback(secondary)

	_, err := fb.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("got %v, want ErrAllFailed", err)
	}
}

func TestSynthFallback_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{
		NameValue: "cartesia",
		Default:   ttsmock.Script{StartErr: errors.New("primary down")},
	}
	secondary := &ttsmock.Provider{
		NameValue: "openai",
		Default:   ttsmock.Script{Frames: [][]byte{[]byte("ok")}},
	}

	fb := NewSynthFallback(primary, FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fb.AddFallback(secondary)

	for i := 0; i < 4; i++ {
		stream, err := fb.Synthesize(context.Background(), "hello")
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		for range stream.Frames {
		}
	}

	// The primary's breaker opened after two failures, so later calls skip it.
	if got := primary.CallCount("hello"); got != 2 {
		t.Errorf("primary called %d times, want 2", got)
	}
	if got := secondary.CallCount("hello"); got != 4 {
		t.Errorf("secondary called %d times, want 4", got)
	}
}

func TestSynthFallback_IdentityReportsPrimary(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{
		NameValue:  "cartesia",
		ModelValue: "sonic-2",
		VoiceValue: "warm-lady",
		Rate:       24000,
		Channels:   1,
		Default:    ttsmock.Script{StartErr: errors.New("down")},
	}
	secondary := &ttsmock.Provider{
		NameValue:  "openai",
		ModelValue: "gpt-4o-mini-tts",
		Rate:       48000,
	}

	fb := NewSynthFallback(primary, FallbackConfig{})
	fb.AddFallback(secondary)

	if fb.Name() != "cartesia" {
		t.Errorf("Name() = %q, want cartesia", fb.Name())
	}
	if fb.Model() != "sonic-2" {
		t.Errorf("Model() = %q, want sonic-2", fb.Model())
	}
	if fb.Voice() != "warm-lady" {
		t.Errorf("Voice() = %q, want warm-lady", fb.Voice())
	}
	if fb.SampleRate() != 24000 {
		t.Errorf("SampleRate() = %d, want 24000", fb.SampleRate())
	}
	if fb.NumChannels() != 1 {
		t.Errorf("NumChannels() = %d, want 1", fb.NumChannels())
	}
}
