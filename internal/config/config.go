// Package config provides the configuration schema, loader, env overrides,
// and provider registry for the JOI voice worker.
package config

// LogLevel controls log verbosity for the worker.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the voice worker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Room    RoomConfig    `yaml:"room"`
	STT     ProviderEntry `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	Cache   CacheConfig   `yaml:"cache"`
	Voice   VoiceConfig   `yaml:"voice"`
}

// ServerConfig holds network and logging settings for the admin endpoint
// (health checks and metrics).
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GatewayConfig locates the JOI gateway the worker forwards turns to.
type GatewayConfig struct {
	// URL is the gateway base URL, without a trailing slash.
	URL string `yaml:"url"`
}

// RoomConfig describes the media room the worker joins.
type RoomConfig struct {
	// URL is the media server base URL (ws:// or wss://).
	URL string `yaml:"url"`

	// Token is the bearer token presented when dialing. May be empty for
	// unauthenticated local setups.
	Token string `yaml:"token"`

	// Name is the room to join at startup. Empty means wait for an
	// operator-initiated start.
	Name string `yaml:"name"`

	// WorkerName is the participant name the worker announces.
	WorkerName string `yaml:"worker_name"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g.,
	// "deepgram", "cartesia").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "sonic-2",
	// "nova-3").
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier, for TTS entries.
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// TTSConfig selects the synthesis backends. The fallback is optional; when
// set, it serves segments the primary fails on.
type TTSConfig struct {
	Primary  ProviderEntry `yaml:"primary"`
	Fallback ProviderEntry `yaml:"fallback"`
}

// CacheConfig controls the two-tier TTS audio cache.
type CacheConfig struct {
	// Enabled turns the cache on. Defaults to true.
	Enabled bool `yaml:"enabled"`

	// LocalMaxItems and LocalMaxBytes bound the in-process LRU tier.
	LocalMaxItems int `yaml:"local_max_items"`
	LocalMaxBytes int `yaml:"local_max_bytes"`

	// MaxTextChars is the longest segment text considered cacheable.
	MaxTextChars int `yaml:"max_text_chars"`

	// MaxAudioBytes caps the stored audio per segment.
	MaxAudioBytes int `yaml:"max_audio_bytes"`

	// RedisTTLSec is the remote entry TTL in seconds.
	RedisTTLSec int `yaml:"redis_ttl_sec"`

	// Prefix namespaces cache keys. Rotate it to invalidate everything.
	Prefix string `yaml:"prefix"`

	// RedisURL and PostgresURL enable the remote tiers. Empty disables
	// the respective backend.
	RedisURL    string `yaml:"redis_url"`
	PostgresURL string `yaml:"postgres_url"`
}

// VoiceConfig holds the reloadable voice behaviour: the prompt suffix sent
// with every chat turn, pronunciation rules, recognition vocabulary, and
// endpointing bounds.
type VoiceConfig struct {
	// Prompt is prepended to the generated voice prompt suffix.
	Prompt string `yaml:"prompt"`

	// Pronunciations maps written words to how they should be spelled for
	// the synthesizer.
	Pronunciations []PronunciationRule `yaml:"pronunciations"`

	// Vocabulary lists terms boosted in recognition and offered to the
	// transcript corrector.
	Vocabulary []string `yaml:"vocabulary"`

	// MinEndpointSec and MaxEndpointSec bound the recognizer's end-of-turn
	// silence window, in seconds.
	MinEndpointSec float64 `yaml:"min_endpoint_sec"`
	MaxEndpointSec float64 `yaml:"max_endpoint_sec"`
}

// PronunciationRule rewrites one spoken word before synthesis.
type PronunciationRule struct {
	Word        string `yaml:"word"`
	Replacement string `yaml:"replacement"`
}

// Default returns a Config populated with the worker defaults. YAML and env
// overrides are applied on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8090",
			LogLevel:   LogInfo,
		},
		Gateway: GatewayConfig{
			URL: "http://localhost:3100",
		},
		Room: RoomConfig{
			WorkerName: "joi-voice-worker",
		},
		Cache: CacheConfig{
			Enabled:       true,
			LocalMaxItems: 512,
			LocalMaxBytes: 64 << 20,
			MaxTextChars:  280,
			MaxAudioBytes: 2 << 20,
			RedisTTLSec:   604800,
			Prefix:        "joi:tts:v1",
		},
		Voice: VoiceConfig{
			MinEndpointSec: 0.15,
			MaxEndpointSec: 0.8,
		},
	}
}
