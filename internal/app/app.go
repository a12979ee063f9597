// Package app wires all voice worker subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithMetrics,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/joi-ai/voiceworker/internal/cache"
	"github.com/joi-ai/voiceworker/internal/config"
	"github.com/joi-ai/voiceworker/internal/gateway"
	"github.com/joi-ai/voiceworker/internal/health"
	"github.com/joi-ai/voiceworker/internal/observe"
	"github.com/joi-ai/voiceworker/internal/session"
	"github.com/joi-ai/voiceworker/internal/transcript"
	"github.com/joi-ai/voiceworker/internal/transcript/phonetic"
	"github.com/joi-ai/voiceworker/pkg/audio"
	"github.com/joi-ai/voiceworker/pkg/provider/stt"
	"github.com/joi-ai/voiceworker/pkg/provider/tts"
)

// shutdownTimeout bounds how long the admin server gets to drain requests
// after the run context is cancelled.
const shutdownTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	Audio audio.Platform
}

// App owns all subsystem lifetimes: the session manager, the admin HTTP
// server, the config watcher, and the telemetry providers.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	gw       *gateway.Client
	manager  *session.Manager
	watcher  *config.Watcher
	redis    *cache.Redis
	server   *http.Server
	listener net.Listener
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a Metrics instance instead of initialising the global
// OTel SDK. Tests use this to avoid cross-test provider pollution.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves the admin endpoints on l instead of binding
// cfg.Server.ListenAddr. Tests use this with a loopback listener.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithLogLevelVar wires the level var used by the process logger so that
// config reloads can change verbosity at runtime.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). configPath enables
// hot reload of the voice section; pass "" to disable the watcher.
func New(ctx context.Context, cfg *config.Config, configPath string, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if a.metrics == nil {
		otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.closers = append(a.closers, otelShutdown)

		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: create metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 2. Gateway client ────────────────────────────────────────────────
	a.gw = gateway.NewClient(cfg.Gateway.URL, gateway.WithObserver(a.metrics))

	// ── 3. TTS cache ─────────────────────────────────────────────────────
	ttsCache, keys := a.initCache()

	// ── 4. Session manager ───────────────────────────────────────────────
	a.manager = session.NewManager(session.ManagerConfig{
		Platform:      providers.Audio,
		STT:           providers.STT,
		TTS:           providers.TTS,
		Cache:         ttsCache,
		Keys:          keys,
		Gateway:       a.gw,
		Corrector:     transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New())),
		Observer:      a.metrics,
		STTModel:      cfg.STT.Model,
		MaxAudioBytes: cfg.Cache.MaxAudioBytes,
		Voice:         voiceSettings(cfg.Voice),
	})

	// ── 5. Admin HTTP server ─────────────────────────────────────────────
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.adminHandler(),
	}

	// ── 6. Config watcher ────────────────────────────────────────────────
	if configPath != "" {
		w, err := config.NewWatcher(configPath, a.handleReload)
		if err != nil {
			return nil, fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initCache assembles the two-tier TTS audio cache from config. Returns nils
// when caching is disabled or no TTS provider is configured; the synthesis
// adapter then runs uncached.
func (a *App) initCache() (*cache.TwoTier, *cache.KeyBuilder) {
	cc := a.cfg.Cache
	if !cc.Enabled || a.providers.TTS == nil {
		return nil, nil
	}

	ttl := time.Duration(cc.RedisTTLSec) * time.Second
	var backends []cache.Backend
	if cc.RedisURL != "" {
		a.redis = cache.NewRedis(cc.RedisURL, ttl, cc.MaxAudioBytes)
		backends = append(backends, a.redis)
	}
	if cc.PostgresURL != "" {
		pg := cache.NewPostgres(cc.PostgresURL, ttl, cc.MaxAudioBytes)
		backends = append(backends, pg)
		a.closers = append(a.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
	}

	local := cache.NewLocal(cc.LocalMaxItems, cc.LocalMaxBytes)
	keys := cache.NewKeyBuilder(cc.Prefix, cc.MaxTextChars, cache.Fingerprint{
		Provider:    a.providers.TTS.Name(),
		Model:       a.providers.TTS.Model(),
		Voice:       a.providers.TTS.Voice(),
		SampleRate:  a.providers.TTS.SampleRate(),
		NumChannels: a.providers.TTS.NumChannels(),
	})
	return cache.NewTwoTier(local, cache.NewChain(backends...)), keys
}

// adminHandler builds the /healthz, /readyz and /metrics mux wrapped in the
// observability middleware.
func (a *App) adminHandler() http.Handler {
	checkers := []health.Checker{
		health.GatewayCheck(a.cfg.Gateway.URL, nil),
	}
	if a.redis != nil {
		checkers = append(checkers, health.RedisCheck(a.redis))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// handleReload is the config watcher callback. Only the voice section and
// the log level are applied live; structural changes require a restart.
func (a *App) handleReload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.HasChanges() {
		slog.Debug("config file changed but no reloadable fields differ")
		return
	}
	slog.Info("applying config reload", "changed", d.ChangedPaths)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
	}
	if d.VoiceChanged {
		a.cfg.Voice = new.Voice
		a.manager.UpdateVoice(voiceSettings(new.Voice))
	}
}

// ReloadConfig forces an immediate config re-check. Wired to SIGHUP.
func (a *App) ReloadConfig() {
	if a.watcher != nil {
		a.watcher.Kick()
	}
}

// Manager exposes the session manager, e.g. for control endpoints.
func (a *App) Manager() *session.Manager { return a.manager }

// Run starts the admin server and, when a room is configured, joins it.
// It blocks until ctx is cancelled or a subsystem fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.serve()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.cfg.Room.Name != "" {
		if err := a.manager.Start(ctx, a.cfg.Room.Name); err != nil {
			return fmt.Errorf("app: join room %q: %w", a.cfg.Room.Name, err)
		}
		slog.Info("joined room", "room", a.cfg.Room.Name)
	}

	return g.Wait()
}

// serve listens on the injected listener or the configured address, with TLS
// when certificate paths are set.
func (a *App) serve() error {
	tlsCfg := a.cfg.Server.TLS
	if a.listener != nil {
		if tlsCfg != nil {
			return a.server.ServeTLS(a.listener, tlsCfg.CertFile, tlsCfg.KeyFile)
		}
		return a.server.Serve(a.listener)
	}
	if tlsCfg != nil {
		return a.server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if a.watcher != nil {
			a.watcher.Stop()
		}

		if a.manager.IsActive() {
			if err := a.manager.Stop(ctx); err != nil {
				slog.Warn("session stop error", "err", err)
			}
		}

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// voiceSettings converts the config voice section to the manager's type.
func voiceSettings(vc config.VoiceConfig) session.VoiceSettings {
	rules := make([]transcript.Rule, len(vc.Pronunciations))
	for i, r := range vc.Pronunciations {
		rules[i] = transcript.Rule{Word: r.Word, Replacement: r.Replacement}
	}
	return session.VoiceSettings{
		Prompt:         vc.Prompt,
		Pronunciations: rules,
		Vocabulary:     vc.Vocabulary,
	}
}

// slogLevel maps a config log level to the slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
