// Package openai provides a TTS provider backed by the OpenAI speech API.
// It is used as the fallback voice when the primary provider is unavailable.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = "gpt-4o-mini-tts"

const (
	defaultVoice = "alloy"

	// The PCM response format is fixed at 24 kHz mono 16-bit.
	sampleRate = 24000

	// frameBytes is the chunk size the response body is sliced into:
	// 100 ms of audio.
	frameBytes = 4800
)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*config)

// config holds optional configuration for the provider.
type config struct {
	model   string
	voice   string
	baseURL string
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithVoice sets the voice name (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// Provider implements tts.Provider using the OpenAI speech API. The API
// returns the full audio over a chunked HTTP response; the provider slices
// the body into fixed-size PCM frames as it arrives.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// New constructs a new OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}

	cfg := &config{
		model: DefaultModel,
		voice: defaultVoice,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// Model implements tts.Provider.
func (p *Provider) Model() string { return p.model }

// Voice implements tts.Provider.
func (p *Provider) Voice() string { return p.voice }

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return sampleRate }

// NumChannels implements tts.Provider. PCM output is mono.
func (p *Provider) NumChannels() int { return 1 }

// Synthesize requests PCM speech for text and streams the response body as
// fixed-size frames.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech request: %w", err)
	}

	frames := make(chan tts.Frame, 16)

	go func() {
		defer close(frames)
		defer resp.Body.Close()

		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				pcm := make([]byte, n)
				copy(pcm, buf[:n])
				frame := tts.Frame{
					Data:     pcm,
					Duration: tts.PCMDuration(n, sampleRate, 1),
				}
				select {
				case frames <- frame:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return
				}
				if ctx.Err() != nil {
					return
				}
				select {
				case frames <- tts.Frame{Err: fmt.Errorf("openai tts: read body: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &tts.Stream{Frames: frames, Provider: p.Name()}, nil
}
