package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"deepgram"},
	"tts":   {"cartesia", "openai"},
	"audio": {"roomws"},
}

// Load reads the YAML configuration file at path, overlays environment
// variables, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r onto the defaults, applies env
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Soft issues are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Gateway
	if cfg.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.url is required"))
	} else if !strings.HasPrefix(cfg.Gateway.URL, "http://") && !strings.HasPrefix(cfg.Gateway.URL, "https://") {
		errs = append(errs, fmt.Errorf("gateway.url %q must start with http:// or https://", cfg.Gateway.URL))
	}

	// Room
	if cfg.Room.URL != "" && !strings.HasPrefix(cfg.Room.URL, "ws://") && !strings.HasPrefix(cfg.Room.URL, "wss://") {
		errs = append(errs, fmt.Errorf("room.url %q must start with ws:// or wss://", cfg.Room.URL))
	}
	if cfg.Room.URL == "" && cfg.Room.Name != "" {
		errs = append(errs, errors.New("room.name is set but room.url is empty"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.STT.Name)
	validateProviderName("tts", cfg.TTS.Primary.Name)
	validateProviderName("tts", cfg.TTS.Fallback.Name)

	if cfg.TTS.Primary.Name == "" {
		slog.Warn("tts.primary is not configured; the worker cannot speak")
	}
	if cfg.TTS.Fallback.Name != "" && cfg.TTS.Fallback.Name == cfg.TTS.Primary.Name {
		slog.Warn("tts.fallback names the same provider as tts.primary",
			"provider", cfg.TTS.Primary.Name)
	}

	// Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Prefix == "" {
			errs = append(errs, errors.New("cache.prefix is required when the cache is enabled"))
		}
		if cfg.Cache.LocalMaxItems < 0 {
			errs = append(errs, fmt.Errorf("cache.local_max_items %d must not be negative", cfg.Cache.LocalMaxItems))
		}
		if cfg.Cache.RedisURL == "" && cfg.Cache.PostgresURL == "" {
			slog.Warn("cache has no remote backend configured; only the in-process tier is active")
		}
	}

	// Voice
	for i, rule := range cfg.Voice.Pronunciations {
		if strings.TrimSpace(rule.Word) == "" {
			errs = append(errs, fmt.Errorf("voice.pronunciations[%d].word is empty", i))
		}
	}
	if cfg.Voice.MinEndpointSec < 0 {
		errs = append(errs, fmt.Errorf("voice.min_endpoint_sec %.2f must not be negative", cfg.Voice.MinEndpointSec))
	}
	if cfg.Voice.MaxEndpointSec < cfg.Voice.MinEndpointSec {
		errs = append(errs, fmt.Errorf("voice.max_endpoint_sec %.2f is below voice.min_endpoint_sec %.2f",
			cfg.Voice.MaxEndpointSec, cfg.Voice.MinEndpointSec))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
