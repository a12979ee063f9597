package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joi-ai/voiceworker/internal/cache"
	"github.com/joi-ai/voiceworker/internal/gateway"
	"github.com/joi-ai/voiceworker/internal/observe"
	"github.com/joi-ai/voiceworker/internal/synth"
	"github.com/joi-ai/voiceworker/internal/transcript"
	"github.com/joi-ai/voiceworker/pkg/audio"
	"github.com/joi-ai/voiceworker/pkg/provider/stt"
	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// Info holds metadata about the active session.
type Info struct {
	// RoomName is the room the worker joined.
	RoomName string

	// ConversationID and AgentID identify the conversation spoken for.
	ConversationID string
	AgentID        string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// VoiceSettings is the reloadable voice configuration handed to sessions.
type VoiceSettings struct {
	Prompt         string
	Pronunciations []transcript.Rule
	Vocabulary     []string
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Platform  audio.Platform
	STT       stt.Provider
	TTS       tts.Provider
	Cache     *cache.TwoTier
	Keys      *cache.KeyBuilder
	Gateway   *gateway.Client
	Corrector transcript.Pipeline
	Observer  *observe.Metrics

	// STTModel is reported in usage posts, e.g. "nova-3".
	STTModel string

	// MaxAudioBytes caps cacheable segment audio. Zero keeps the adapter
	// default.
	MaxAudioBytes int

	// Voice is the initial voice configuration.
	Voice VoiceSettings
}

// Manager manages the lifecycle of room sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	active  bool
	info    Info
	conn    audio.Connection
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}

	// Dependencies injected at construction.
	cfg ManagerConfig
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Start joins roomName and begins the voice loop in the background.
//
// Returns an error if a session is already active or the room connection
// fails.
func (m *Manager) Start(ctx context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("session: a session is already active (room=%s)", m.info.RoomName)
	}

	conn, err := m.cfg.Platform.Connect(ctx, roomName)
	if err != nil {
		return fmt.Errorf("session: connect to room: %w", err)
	}

	// The adapter is per-session: its metrics callback correlates reports
	// with this session's pending turns.
	opts := []synth.Option{
		synth.WithObserver(m.cfg.Observer),
	}
	if m.cfg.Cache != nil && m.cfg.Keys != nil {
		opts = append(opts, synth.WithCache(m.cfg.Cache, m.cfg.Keys))
	}
	if m.cfg.MaxAudioBytes > 0 {
		opts = append(opts, synth.WithMaxAudioBytes(m.cfg.MaxAudioBytes))
	}

	var sess *Session
	opts = append(opts, synth.WithMetricsCallback(func(metrics synth.Metrics) {
		sess.ReportMetrics(metrics)
	}))
	adapter := synth.New(m.cfg.TTS, opts...)

	sess, err = New(Config{
		Connection:     conn,
		STT:            m.cfg.STT,
		TTS:            m.cfg.TTS,
		Adapter:        adapter,
		Gateway:        m.cfg.Gateway,
		Corrector:      m.cfg.Corrector,
		VoicePrompt:    m.cfg.Voice.Prompt,
		Pronunciations: m.cfg.Voice.Pronunciations,
		Vocabulary:     m.cfg.Voice.Vocabulary,
		STTModel:       m.cfg.STTModel,
	})
	if err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("session: create session: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := sess.Run(sessionCtx); runErr != nil {
			slog.Error("session ended with error", "room", roomName, "error", runErr)
		}
	}()

	identity := sess.Identity()
	m.active = true
	m.conn = conn
	m.session = sess
	m.cancel = cancel
	m.done = done
	m.info = Info{
		RoomName:       roomName,
		ConversationID: identity.ConversationID,
		AgentID:        identity.AgentID,
		StartedAt:      time.Now().UTC(),
	}

	if m.cfg.Observer != nil {
		m.cfg.Observer.SessionStarted(ctx)
	}
	slog.Info("session started",
		"room", roomName,
		"conversation_id", identity.ConversationID,
		"agent_id", identity.AgentID,
	)
	return nil
}

// Stop gracefully ends the active session: the turn loop is cancelled, the
// room connection is closed, and the loop goroutine is awaited.
//
// Returns an error if no session is active.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return fmt.Errorf("session: no active session to stop")
	}
	roomName := m.info.RoomName

	m.cancel()
	if err := m.conn.Disconnect(); err != nil {
		slog.Warn("session: room disconnect error", "room", roomName, "err", err)
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		slog.Warn("session: loop did not stop before deadline", "room", roomName)
	}

	m.active = false
	m.conn = nil
	m.session = nil
	m.cancel = nil
	m.done = nil
	m.info = Info{}

	if m.cfg.Observer != nil {
		m.cfg.Observer.SessionEnded(context.Background())
	}
	slog.Info("session stopped", "room", roomName)
	return nil
}

// IsActive reports whether a session is currently running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// UpdateVoice forwards reloaded voice settings to the active session, if
// any.
func (m *Manager) UpdateVoice(v VoiceSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.UpdateVoice(v.Prompt, v.Pronunciations, v.Vocabulary)
	}
}
