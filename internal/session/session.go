package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/joi-ai/voiceworker/internal/gateway"
	"github.com/joi-ai/voiceworker/internal/synth"
	"github.com/joi-ai/voiceworker/internal/transcript"
	"github.com/joi-ai/voiceworker/pkg/audio"
	"github.com/joi-ai/voiceworker/pkg/provider/stt"
	"github.com/joi-ai/voiceworker/pkg/types"
)

// Spoken fallbacks for failed turns. The user hears these instead of
// silence.
const (
	apologyServer  = "Sorry, I encountered an error."
	apologyConnect = "Sorry, I couldn't connect to the server."
)

// sttService labels usage posts for transcription time. Deepgram is the
// worker's only live STT backend, so its name is reported directly.
const sttService = "stt"

// turnQueueSize bounds finals waiting behind the current turn.
const turnQueueSize = 8

// Config holds the dependencies and voice settings for one session.
type Config struct {
	Connection audio.Connection
	STT        stt.Provider
	TTS        ttsIdentity
	Adapter    *synth.Adapter
	Gateway    *gateway.Client
	Corrector  transcript.Pipeline

	// RoomFormat is the output stream format. Zero values default to
	// 48 kHz stereo.
	RoomFormat audio.Format

	// Voice settings, reloadable between turns via UpdateVoice.
	VoicePrompt    string
	Pronunciations []transcript.Rule
	Vocabulary     []string

	// STTModel is the model identifier reported in usage posts.
	STTModel string
}

// ttsIdentity is the slice of the TTS provider used for report attribution.
type ttsIdentity interface {
	Name() string
	Model() string
	Voice() string
}

// finalUtterance is one committed recognition result, paired with how much
// audio was sent to the recognizer since the previous final.
type finalUtterance struct {
	participantID string
	transcript    types.Transcript
	audioMs       int64
}

// voiceSettings groups the reloadable parts of the session.
type voiceSettings struct {
	prompt         string
	pronunciations []transcript.Rule
	vocabulary     []string
}

// Session runs the voice loop for one room: participant audio in, STT
// finals through the gateway, synthesized speech out. Exactly one turn is
// spoken at a time; finals arriving during speech queue behind it.
type Session struct {
	conn      audio.Connection
	sttp      stt.Provider
	tts       ttsIdentity
	adapter   *synth.Adapter
	gw        *gateway.Client
	corrector transcript.Pipeline
	format    audio.Format
	sttModel  string

	identity Identity
	pending  pendingQueue

	voiceMu sync.Mutex
	voice   voiceSettings

	finals chan finalUtterance
	log    *slog.Logger
}

// New creates a Session. The adapter's metrics callback is claimed by the
// session; callers must not set their own.
func New(cfg Config) (*Session, error) {
	if cfg.Connection == nil {
		return nil, errors.New("session: connection is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("session: synthesis adapter is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("session: gateway client is required")
	}

	format := cfg.RoomFormat
	if format.SampleRate <= 0 {
		format.SampleRate = 48000
	}
	if format.Channels <= 0 {
		format.Channels = 2
	}

	s := &Session{
		conn:      cfg.Connection,
		sttp:      cfg.STT,
		tts:       cfg.TTS,
		adapter:   cfg.Adapter,
		gw:        cfg.Gateway,
		corrector: cfg.Corrector,
		format:    format,
		sttModel:  cfg.STTModel,
		voice: voiceSettings{
			prompt:         cfg.VoicePrompt,
			pronunciations: cfg.Pronunciations,
			vocabulary:     cfg.Vocabulary,
		},
		finals: make(chan finalUtterance, turnQueueSize),
	}
	s.identity = ResolveIdentity(cfg.Connection.Metadata(), nil)
	s.log = slog.With("component", "session", "conversation_id", s.identity.ConversationID)
	return s, nil
}

// Identity returns the conversation identity the session resolved at start.
func (s *Session) Identity() Identity {
	return s.identity
}

// UpdateVoice swaps the reloadable voice settings. The new values take
// effect on the next turn.
func (s *Session) UpdateVoice(prompt string, pronunciations []transcript.Rule, vocabulary []string) {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	s.voice = voiceSettings{prompt: prompt, pronunciations: pronunciations, vocabulary: vocabulary}
	s.log.Info("voice settings reloaded",
		"pronunciations", len(pronunciations),
		"vocabulary", len(vocabulary),
	)
}

// Run processes the session until ctx is cancelled or the room connection
// fails. It blocks; callers run it in a goroutine.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Participants present at join time.
	var startMu sync.Mutex
	started := make(map[string]bool)
	startPump := func(id string, stream <-chan audio.AudioFrame) {
		startMu.Lock()
		if started[id] {
			startMu.Unlock()
			return
		}
		started[id] = true
		startMu.Unlock()
		g.Go(func() error {
			s.pumpParticipant(gctx, id, stream)
			return nil
		})
	}

	s.conn.OnParticipantChange(func(ev audio.Event) {
		if ev.Type != audio.EventJoin {
			return
		}
		if stream, ok := s.conn.InputStreams()[ev.UserID]; ok {
			startPump(ev.UserID, stream)
		}
	})
	for id, stream := range s.conn.InputStreams() {
		startPump(id, stream)
	}

	// Turn loop: one spoken turn at a time.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case final := <-s.finals:
				s.runTurn(gctx, final)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpParticipant feeds one participant's audio through STT and forwards
// finals to the turn loop. Returns when the participant's stream closes or
// ctx ends.
func (s *Session) pumpParticipant(ctx context.Context, participantID string, stream <-chan audio.AudioFrame) {
	if s.sttp == nil {
		audio.Drain(stream)
		return
	}
	log := s.log.With("participant", participantID)

	s.voiceMu.Lock()
	vocabulary := s.voice.vocabulary
	s.voiceMu.Unlock()
	keywords := make([]types.KeywordBoost, 0, len(vocabulary))
	for _, term := range vocabulary {
		keywords = append(keywords, types.KeywordBoost{Keyword: term, Boost: 1})
	}

	handle, err := s.sttp.StartStream(ctx, stt.StreamConfig{
		SampleRate: 24000,
		Channels:   1,
		Keywords:   keywords,
	})
	if err != nil {
		log.Error("opening STT stream failed", "error", err)
		audio.Drain(stream)
		return
	}
	defer handle.Close()

	converted := audio.ConvertStream(stream, audio.Format{SampleRate: 24000, Channels: 1})

	// Bytes sent since the last final, for usage attribution.
	var byteMu sync.Mutex
	var bytesSinceFinal int64
	takeBytes := func() int64 {
		byteMu.Lock()
		defer byteMu.Unlock()
		n := bytesSinceFinal
		bytesSinceFinal = 0
		return n
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for tr := range handle.Finals() {
			if strings.TrimSpace(tr.Text) == "" {
				continue
			}
			final := finalUtterance{
				participantID: participantID,
				transcript:    tr,
				// 24 kHz mono s16le: 48000 bytes per second.
				audioMs: takeBytes() * 1000 / (24000 * 2),
			}
			select {
			case s.finals <- final:
			default:
				log.Warn("turn queue full, dropping final", "text_len", len(tr.Text))
			}
		}
	}()
	go func() {
		defer wg.Done()
		audio.Drain(handle.Partials())
	}()

	for {
		select {
		case <-ctx.Done():
			handle.Close()
			wg.Wait()
			audio.Drain(converted)
			return
		case frame, ok := <-converted:
			if !ok {
				handle.Close()
				wg.Wait()
				log.Debug("participant stream ended")
				return
			}
			if err := handle.SendAudio(frame.Data); err != nil {
				log.Warn("sending audio to STT failed", "error", err)
				handle.Close()
				wg.Wait()
				audio.Drain(converted)
				return
			}
			byteMu.Lock()
			bytesSinceFinal += int64(len(frame.Data))
			byteMu.Unlock()
		}
	}
}

// runTurn executes one conversation turn: usage post, gateway chat, text
// processing, synthesis, and the correlated metrics report.
func (s *Session) runTurn(ctx context.Context, final finalUtterance) {
	s.voiceMu.Lock()
	voice := s.voice
	s.voiceMu.Unlock()

	text := final.transcript.Text
	if s.corrector != nil && len(voice.vocabulary) > 0 {
		corrected, err := s.corrector.Correct(ctx, final.transcript, voice.vocabulary)
		if err != nil {
			s.log.Warn("transcript correction failed, using raw text", "error", err)
		} else {
			text = corrected.Corrected
		}
	}
	s.postSTTUsage(ctx, final, text)

	started := time.Now()
	s.log.Info("turn started", "participant", final.participantID, "chars", utf8.RuneCountInString(text))

	events := s.gw.Chat(ctx, gateway.ChatRequest{
		ConversationID:    s.identity.ConversationID,
		AgentID:           s.identity.AgentID,
		Message:           text,
		VoicePromptSuffix: transcript.VoicePrompt(voice.prompt, voice.pronunciations),
	})

	emitter := newRoomEmitter(ctx, s.conn, s.format)
	turn := s.adapter.Stream(ctx, emitter)
	replacer := transcript.NewReplacer(voice.pronunciations)

	for ev := range events {
		switch {
		case ev.Err != nil:
			s.speakApology(turn, ev.Err)
		case ev.Done != nil:
			if tail := transcript.StripMarkers(replacer.Flush()); tail != "" {
				turn.PushText(tail)
			}
			s.pending.Push(PendingTurn{
				ConversationID: s.identity.ConversationID,
				AgentID:        s.identity.AgentID,
				MessageID:      ev.Done.MessageID,
			})
			s.log.Info("turn response complete",
				"message_id", ev.Done.MessageID,
				"model", ev.Done.Model,
				"gateway_latency_ms", ev.Done.LatencyMs,
			)
		default:
			if chunk := transcript.StripMarkers(replacer.Push(ev.Delta)); chunk != "" {
				turn.PushText(chunk)
			}
		}
	}
	turn.CloseInput()

	if err := turn.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("synthesis turn failed", "error", err)
	}
	s.log.Info("turn finished", "elapsed", time.Since(started).Round(time.Millisecond))
}

// speakApology pushes the spoken fallback matching the gateway failure.
func (s *Session) speakApology(turn *synth.Turn, err error) {
	msg := apologyServer
	if errors.Is(err, gateway.ErrConnect) {
		msg = apologyConnect
	}
	s.log.Error("chat stream failed", "error", err)
	turn.PushText(msg)
	turn.Flush()
}

// postSTTUsage reports recognizer usage for one final.
func (s *Session) postSTTUsage(ctx context.Context, final finalUtterance, text string) {
	if s.sttp == nil {
		return
	}
	durationMs := final.audioMs
	if durationMs == 0 {
		durationMs = final.transcript.Duration.Milliseconds()
	}
	s.gw.PostUsage(ctx, gateway.UsageReport{
		ConversationID: s.identity.ConversationID,
		AgentID:        s.identity.AgentID,
		Provider:       "deepgram",
		Service:        sttService,
		Model:          s.sttModel,
		DurationMs:     durationMs,
		Characters:     utf8.RuneCountInString(text),
	})
}

// ReportMetrics is the adapter metrics callback: it correlates the turn's
// cache metrics with the oldest pending chat turn and posts them. Wire it
// via [synth.WithMetricsCallback] when constructing the adapter.
//
// The descriptor is consumed even when the turn produced no cacheable
// work — a turn whose done event queued a descriptor must always use it
// up, or every later report would bind to a stale messageId. Suppressing
// empty posts is [gateway.Client.PostCacheMetrics]'s job.
func (s *Session) ReportMetrics(m synth.Metrics) {
	report := gateway.CacheReport{
		ConversationID: s.identity.ConversationID,
		AgentID:        s.identity.AgentID,
		Metrics:        m,
	}
	if turn, ok := s.pending.Pop(); ok {
		report.ConversationID = turn.ConversationID
		report.AgentID = turn.AgentID
		report.MessageID = turn.MessageID
	}
	if s.tts != nil {
		report.Provider = s.tts.Name()
		report.Model = s.tts.Model()
		report.Voice = s.tts.Voice()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.gw.PostCacheMetrics(ctx, report)
}
