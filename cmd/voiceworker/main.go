// Command voiceworker is the JOI voice edge worker: it joins a media room,
// transcribes what participants say, asks the JOI gateway for a reply, and
// speaks it back through the cached synthesis pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joi-ai/voiceworker/internal/app"
	"github.com/joi-ai/voiceworker/internal/config"
	"github.com/joi-ai/voiceworker/internal/resilience"
	"github.com/joi-ai/voiceworker/pkg/audio"
	"github.com/joi-ai/voiceworker/pkg/audio/roomws"
	"github.com/joi-ai/voiceworker/pkg/provider/stt"
	"github.com/joi-ai/voiceworker/pkg/provider/stt/deepgram"
	"github.com/joi-ai/voiceworker/pkg/provider/tts"
	"github.com/joi-ai/voiceworker/pkg/provider/tts/cartesia"
	oaitts "github.com/joi-ai/voiceworker/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceworker: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceworker: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
	slog.SetDefault(logger)

	slog.Info("voiceworker starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, *configPath, providers, app.WithLogLevelVar(&logLevel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// SIGHUP forces an immediate config re-check.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, reloading config")
			application.ReloadConfig()
		}
	}()

	slog.Info("worker ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives its config section and constructs the provider from
// the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("cartesia", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []cartesia.Option
		if entry.Model != "" {
			opts = append(opts, cartesia.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, cartesia.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, cartesia.WithEndpoint(entry.BaseURL))
		}
		return cartesia.New(entry.APIKey, entry.Voice, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, oaitts.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("roomws", func(room config.RoomConfig) (audio.Platform, error) {
		var opts []roomws.Option
		if room.Token != "" {
			opts = append(opts, roomws.WithToken(room.Token))
		}
		if room.WorkerName != "" {
			opts = append(opts, roomws.WithWorkerName(room.WorkerName))
		}
		return roomws.New(room.URL, opts...)
	})
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.TTS.Primary.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS.Primary)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)

		if fbName := cfg.TTS.Fallback.Name; fbName != "" {
			fb, err := reg.CreateTTS(cfg.TTS.Fallback)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fbName, err)
			}
			group := resilience.NewSynthFallback(p, resilience.FallbackConfig{})
			group.AddFallback(fb)
			ps.TTS = group
			slog.Info("tts fallback wired", "primary", name, "fallback", fbName)
		}
	}

	if cfg.Room.URL != "" {
		p, err := reg.CreateAudio("roomws", cfg.Room)
		if err != nil {
			return nil, fmt.Errorf("create audio platform: %w", err)
		}
		ps.Audio = p
		slog.Info("provider created", "kind", "audio", "name", "roomws")
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      voiceworker — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.STT.Name, cfg.STT.Model)
	printProvider("TTS", cfg.TTS.Primary.Name, cfg.TTS.Primary.Model)
	printProvider("TTS fallback", cfg.TTS.Fallback.Name, cfg.TTS.Fallback.Model)
	printValue("Gateway", cfg.Gateway.URL)
	if cfg.Room.URL != "" {
		printValue("Room", cfg.Room.Name)
	} else {
		printValue("Room", "(not configured)")
	}
	if cfg.Cache.Enabled {
		backend := "local only"
		switch {
		case cfg.Cache.RedisURL != "" && cfg.Cache.PostgresURL != "":
			backend = "redis+postgres"
		case cfg.Cache.RedisURL != "":
			backend = "redis"
		case cfg.Cache.PostgresURL != "":
			backend = "postgres"
		}
		printValue("TTS cache", backend)
	} else {
		printValue("TTS cache", "(disabled)")
	}
	printValue("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
