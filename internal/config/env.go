package config

import (
	"log/slog"
	"os"
	"strconv"
)

// ApplyEnv overlays environment variables onto cfg. Env values win over the
// YAML file. Unparseable values keep the previous value and log a warning;
// numeric values below their operational minimum are clamped.
func ApplyEnv(cfg *Config) {
	envBool("JOI_TTS_CACHE_ENABLED", &cfg.Cache.Enabled)
	envInt("JOI_TTS_CACHE_LOCAL_MAX_ITEMS", &cfg.Cache.LocalMaxItems, 0)
	envInt("JOI_TTS_CACHE_LOCAL_MAX_BYTES", &cfg.Cache.LocalMaxBytes, 1<<20)
	envInt("JOI_TTS_CACHE_MAX_TEXT_CHARS", &cfg.Cache.MaxTextChars, 32)
	envInt("JOI_TTS_CACHE_MAX_AUDIO_BYTES", &cfg.Cache.MaxAudioBytes, 16384)
	envInt("JOI_TTS_CACHE_REDIS_TTL_SEC", &cfg.Cache.RedisTTLSec, 60)
	envString("JOI_TTS_CACHE_PREFIX", &cfg.Cache.Prefix)
	envString("JOI_TTS_CACHE_REDIS_URL", &cfg.Cache.RedisURL)
	envString("JOI_TTS_CACHE_POSTGRES_URL", &cfg.Cache.PostgresURL)
	envString("GATEWAY_URL", &cfg.Gateway.URL)
	envFloat("JOI_VOICE_MIN_ENDPOINT_SEC", &cfg.Voice.MinEndpointSec)
	envFloat("JOI_VOICE_MAX_ENDPOINT_SEC", &cfg.Voice.MaxEndpointSec)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: ignoring unparseable env value", "name", name, "value", v)
		return
	}
	*dst = parsed
}

func envInt(name string, dst *int, min int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		// The minimum still applies to YAML-sourced values.
		clampInt(name, dst, min)
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring unparseable env value", "name", name, "value", v)
		clampInt(name, dst, min)
		return
	}
	*dst = parsed
	clampInt(name, dst, min)
}

func envFloat(name string, dst *float64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config: ignoring unparseable env value", "name", name, "value", v)
		return
	}
	*dst = parsed
}

func clampInt(name string, dst *int, min int) {
	if *dst < min {
		slog.Warn("config: value below operational minimum, clamping", "name", name, "value", *dst, "min", min)
		*dst = min
	}
}
