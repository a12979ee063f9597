// Package cartesia provides a Cartesia-backed TTS provider using the
// Cartesia streaming WebSocket API. It implements the tts.Provider interface.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

const (
	defaultEndpoint   = "wss://api.cartesia.ai/tts/websocket"
	apiVersion        = "2024-06-10"
	defaultModel      = "sonic-2"
	defaultLanguage   = "en"
	defaultSampleRate = 24000

	// Base64 audio chunks can exceed coder/websocket's 32 KiB default
	// read limit.
	maxMessageBytes = 1 << 20
)

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID (e.g., "sonic-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the synthesis language code (e.g., "en").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithSampleRate sets the PCM output sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests to point the
// provider at a local server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// Provider implements tts.Provider backed by the Cartesia streaming API.
// Each Synthesize call opens its own WebSocket connection, sends a single
// transcript, and streams the resulting PCM chunks until the server reports
// completion.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	voice      string
	language   string
	sampleRate int
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// New creates a new Cartesia Provider. apiKey and voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("cartesia: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		voice:      voiceID,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "cartesia" }

// Model implements tts.Provider.
func (p *Provider) Model() string { return p.model }

// Voice implements tts.Provider.
func (p *Provider) Voice() string { return p.voice }

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

// NumChannels implements tts.Provider. Cartesia raw PCM output is mono.
func (p *Provider) NumChannels() int { return 1 }

// ---- WebSocket message types ----

// synthesisRequest is the JSON payload sent to Cartesia for one transcript.
type synthesisRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceRef     `json:"voice"`
	Language     string       `json:"language,omitempty"`
	ContextID    string       `json:"context_id"`
	Continue     bool         `json:"continue"`
	OutputFormat outputFormat `json:"output_format"`
}

// voiceRef selects a voice by ID.
type voiceRef struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// outputFormat requests raw little-endian 16-bit PCM.
type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// serverMessage is a single JSON message received from Cartesia.
type serverMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"` // base64-encoded PCM for type "chunk"
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
	ContextID string `json:"context_id,omitempty"`
}

// Synthesize opens a WebSocket to Cartesia, sends text as a single
// non-continued transcript, and returns a stream emitting raw PCM frames.
//
// The frame channel is closed when the server reports completion, the
// connection breaks (terminal error frame), or ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string) (*tts.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("cartesia: text must not be empty")
	}

	wsURL, err := buildURL(p.endpoint, p.apiKey)
	if err != nil {
		return nil, fmt.Errorf("cartesia: endpoint: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: dial: %w", err)
	}
	conn.SetReadLimit(maxMessageBytes)

	reqBytes, err := p.buildRequest(text)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal request")
		return nil, fmt.Errorf("cartesia: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, reqBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send request")
		return nil, fmt.Errorf("cartesia: send request: %w", err)
	}

	frames := make(chan tts.Frame, 64)

	go func() {
		defer close(frames)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.emit(ctx, frames, tts.Frame{Err: fmt.Errorf("cartesia: read: %w", err)})
				return
			}
			var resp serverMessage
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			switch resp.Type {
			case "chunk":
				pcm, err := base64.StdEncoding.DecodeString(resp.Data)
				if err != nil || len(pcm) == 0 {
					continue
				}
				frame := tts.Frame{
					Data:     pcm,
					Duration: tts.PCMDuration(len(pcm), p.sampleRate, 1),
				}
				if !p.emit(ctx, frames, frame) {
					return
				}
			case "done":
				return
			case "error":
				p.emit(ctx, frames, tts.Frame{Err: fmt.Errorf("cartesia: server: %s", resp.Error)})
				return
			}
		}
	}()

	return &tts.Stream{Frames: frames, Provider: p.Name()}, nil
}

// emit pushes a frame unless ctx is done. Reports whether the frame was sent.
func (p *Provider) emit(ctx context.Context, frames chan<- tts.Frame, f tts.Frame) bool {
	select {
	case frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// ---- helpers ----

// buildRequest constructs the JSON synthesis payload for a transcript.
// Used by tests to verify the payload shape without opening a connection.
func (p *Provider) buildRequest(text string) ([]byte, error) {
	return json.Marshal(synthesisRequest{
		ModelID:    p.model,
		Transcript: text,
		Voice:      voiceRef{Mode: "id", ID: p.voice},
		Language:   p.language,
		ContextID:  uuid.NewString(),
		Continue:   false,
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: p.sampleRate,
		},
	})
}

// buildURL appends the api_key and cartesia_version query parameters to the
// configured endpoint.
func buildURL(endpoint, apiKey string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", apiKey)
	q.Set("cartesia_version", apiVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
