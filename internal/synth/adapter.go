// Package synth implements the cached synthesis adapter: the orchestration
// core that turns a token-streamed reply into a single timed PCM stream.
//
// The adapter wraps a one-shot [tts.Provider]. Each turn, it splits the
// incoming text deltas into sentence segments, consults the two-tier audio
// cache per segment, synthesizes only the misses, splices cached and fresh
// PCM into one monotonically timed stream on the turn's [Emitter], and
// reports per-turn cache metrics through a callback when the turn ends.
//
// Cache faults never fail a turn — they degrade to synthesis — and a
// failed synthesis skips only its own segment.
package synth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joi-ai/voiceworker/internal/cache"
	"github.com/joi-ai/voiceworker/internal/observe"
	"github.com/joi-ai/voiceworker/internal/segment"
	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// defaultInputBuf is the buffer depth of the turn's input channel, sized to
// absorb a burst of reply deltas without blocking the reply reader.
const defaultInputBuf = 64

// Adapter wraps a TTS provider with sentence segmentation and the two-tier
// audio cache. One Adapter serves one session; it borrows the process-wide
// cache facade but does not own it.
//
// Adapter is safe for concurrent use; each [Adapter.Stream] call runs an
// independent turn.
type Adapter struct {
	tts           tts.Provider
	cache         *cache.TwoTier // nil disables caching entirely
	keys          *cache.KeyBuilder
	maxAudioBytes int
	onMetrics     func(Metrics)
	segOpts       []segment.Option
	obs           *observe.Metrics
	log           *slog.Logger
}

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithCache enables cache lookups through facade using keys for key
// derivation and eligibility. Without this option every segment is treated
// as ineligible and synthesized directly.
func WithCache(facade *cache.TwoTier, keys *cache.KeyBuilder) Option {
	return func(a *Adapter) {
		a.cache = facade
		a.keys = keys
	}
}

// WithMaxAudioBytes caps the size of PCM payloads written to the cache.
// Larger synthesis results are still played, just never stored.
func WithMaxAudioBytes(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxAudioBytes = n
		}
	}
}

// WithMetricsCallback registers fn to receive the turn's accumulated
// [Metrics] when its segment stream ends. The callback runs on the turn's
// synthesizer goroutine; it must not block for long.
func WithMetricsCallback(fn func(Metrics)) Option {
	return func(a *Adapter) { a.onMetrics = fn }
}

// WithSegmenterOptions passes options through to each turn's segmenter.
func WithSegmenterOptions(opts ...segment.Option) Option {
	return func(a *Adapter) { a.segOpts = opts }
}

// WithObserver overrides the OTel instruments used for cache and synthesis
// telemetry. Defaults to [observe.DefaultMetrics].
func WithObserver(m *observe.Metrics) Option {
	return func(a *Adapter) { a.obs = m }
}

// New creates an Adapter around provider. The default configuration has no
// cache; see [WithCache].
func New(provider tts.Provider, opts ...Option) *Adapter {
	a := &Adapter{
		tts:           provider,
		maxAudioBytes: 2 << 20,
		log:           slog.With("component", "synth"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.obs == nil {
		a.obs = observe.DefaultMetrics()
	}
	return a
}

// SampleRate returns the wrapped provider's output sample rate.
func (a *Adapter) SampleRate() int { return a.tts.SampleRate() }

// NumChannels returns the wrapped provider's output channel count.
func (a *Adapter) NumChannels() int { return a.tts.NumChannels() }

// Stream starts a new synthesis turn writing to em. The returned [Turn]
// accepts text deltas until CloseInput; Wait blocks until all segments are
// spoken and the metrics callback has fired.
//
// Cancelling ctx cancels both turn goroutines and any in-flight synthesis.
func (a *Adapter) Stream(ctx context.Context, em Emitter) *Turn {
	em.Init(uuid.NewString(), a.tts.SampleRate(), a.tts.NumChannels(), "audio/pcm")

	seg := segment.New(a.segOpts...)
	t := &Turn{
		input: make(chan turnInput, defaultInputBuf),
		seg:   seg,
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(t.ctx)
	t.g = g
	g.Go(func() error { return t.forwardInput(gctx) })
	g.Go(func() error { return a.synthesize(gctx, seg, em) })
	// Unblock a forwarder stuck mid-Push once the turn winds down.
	go func() {
		<-gctx.Done()
		seg.Close()
	}()
	return t
}

// turnInput is one message on a turn's input channel: a text delta or a
// flush sentinel.
type turnInput struct {
	delta string
	flush bool
}

// Turn is one in-flight synthesis turn. PushText, Flush, and CloseInput
// are safe to call from any goroutine; calls after CloseInput are dropped.
type Turn struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	seg    *segment.Segmenter

	mu     sync.Mutex
	closed bool
	input  chan turnInput
}

// PushText feeds a reply delta into the turn.
func (t *Turn) PushText(delta string) { t.send(turnInput{delta: delta}) }

// Flush hints a segment boundary: buffered text is emitted as a segment
// even without sentence-final punctuation.
func (t *Turn) Flush() { t.send(turnInput{flush: true}) }

// CloseInput signals the end of the reply. Any buffered tail is spoken as
// a final segment; further pushes are dropped.
func (t *Turn) CloseInput() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.input)
}

// Wait blocks until both turn goroutines have finished and returns the
// context error when the turn was cancelled, nil otherwise.
func (t *Turn) Wait() error {
	err := t.g.Wait()
	t.seg.Close()
	t.cancel()
	return err
}

func (t *Turn) send(in turnInput) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.input <- in:
	case <-t.ctx.Done():
	}
}

// forwardInput moves turn input into the segmenter until the input channel
// closes, then signals end of input.
func (t *Turn) forwardInput(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-t.input:
			if !ok {
				t.seg.CloseInput()
				return nil
			}
			if in.flush {
				t.seg.Flush()
			} else {
				t.seg.Push(in.delta)
			}
		}
	}
}

// turnState carries the per-turn accumulation across segments.
type turnState struct {
	duration time.Duration // cumulative audio emitted this turn
	metrics  Metrics
}

// synthesize consumes segments until the segmenter closes, running the
// per-segment protocol on each, then fires the metrics callback.
func (a *Adapter) synthesize(ctx context.Context, seg *segment.Segmenter, em Emitter) error {
	st := &turnState{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-seg.Segments():
			if !ok {
				if a.onMetrics != nil {
					a.onMetrics(st.metrics)
				}
				return nil
			}
			a.speakSegment(ctx, em, text, st)
		}
	}
}

// speakSegment runs the per-segment protocol: transcript marker, cache
// lookup, playback from cache or fresh synthesis, post-success store, and
// counter updates. A synthesis fault is logged and the segment skipped;
// the turn continues.
func (a *Adapter) speakSegment(ctx context.Context, em Emitter, text string, st *turnState) {
	em.StartSegment(uuid.NewString())
	em.PushTranscript(text, st.duration)

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	st.metrics.Segments++
	a.obs.RecordSegment(ctx)

	eligible := a.cache != nil && a.keys != nil && a.keys.Cacheable(text)
	var key string
	if eligible {
		key = a.keys.Key(text)
		if hit, ok := a.cache.Get(ctx, key); ok {
			em.PushPCM(hit.PCM)
			st.duration += tts.PCMDuration(len(hit.PCM), a.tts.SampleRate(), a.tts.NumChannels())
			em.Flush()
			st.metrics.CacheHits++
			st.metrics.CacheHitChars += utf8.RuneCountInString(text)
			st.metrics.CacheHitAudioBytes += len(hit.PCM)
			a.obs.RecordCacheHit(ctx, hit.Source)
			a.log.Info("cache hit", "source", hit.Source, "chars", len(text), "bytes", len(hit.PCM))
			return
		}
	}

	started := time.Now()
	stream, err := a.tts.Synthesize(ctx, text)
	if err != nil {
		a.log.Error("synthesis failed", "chars", len(text), "error", err)
		return
	}

	var buf []byte
	failed := false
	for frame := range stream.Frames {
		if frame.Err != nil {
			a.log.Error("synthesis broke mid-stream", "chars", len(text), "error", frame.Err)
			failed = true
			continue // terminal frame; drain until close
		}
		if len(frame.Data) == 0 {
			continue
		}
		em.PushPCM(frame.Data)
		buf = append(buf, frame.Data...)
		st.duration += frame.Duration
	}
	if failed {
		// Partial audio already pushed stays pushed but is never cached.
		return
	}
	em.Flush()
	a.obs.SynthDuration.Record(ctx, time.Since(started).Seconds())

	if !eligible {
		return
	}
	st.metrics.CacheMisses++
	st.metrics.CacheMissChars += utf8.RuneCountInString(text)
	a.obs.RecordCacheMiss(ctx)
	if len(buf) == 0 {
		return
	}
	st.metrics.CacheMissAudioBytes += len(buf)
	if len(buf) > a.maxAudioBytes {
		return
	}
	if stream.Provider != a.tts.Name() {
		// Served by a fallback backend: its voice does not match the
		// fingerprint in the key, so storing would poison the cache.
		return
	}
	a.cache.Set(ctx, key, buf)
	a.log.Info("cache store", "chars", len(text), "bytes", len(buf), "remote", a.cache.RemoteEnabled())
}
