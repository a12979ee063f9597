package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; structural
// sections (server, gateway, room, providers, cache) require a restart.
type ConfigDiff struct {
	// VoiceChanged is true when any reloadable voice field changed.
	VoiceChanged bool

	// ChangedPaths lists the changed fields, e.g. "voice.prompt".
	ChangedPaths []string

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// HasChanges reports whether anything reloadable changed.
func (d ConfigDiff) HasChanges() bool {
	return d.VoiceChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
		d.ChangedPaths = append(d.ChangedPaths, "server.log_level")
	}

	if old.Voice.Prompt != new.Voice.Prompt {
		d.VoiceChanged = true
		d.ChangedPaths = append(d.ChangedPaths, "voice.prompt")
	}
	if !slices.Equal(old.Voice.Pronunciations, new.Voice.Pronunciations) {
		d.VoiceChanged = true
		d.ChangedPaths = append(d.ChangedPaths, "voice.pronunciations")
	}
	if !slices.Equal(old.Voice.Vocabulary, new.Voice.Vocabulary) {
		d.VoiceChanged = true
		d.ChangedPaths = append(d.ChangedPaths, "voice.vocabulary")
	}
	if old.Voice.MinEndpointSec != new.Voice.MinEndpointSec {
		d.VoiceChanged = true
		d.ChangedPaths = append(d.ChangedPaths, "voice.min_endpoint_sec")
	}
	if old.Voice.MaxEndpointSec != new.Voice.MaxEndpointSec {
		d.VoiceChanged = true
		d.ChangedPaths = append(d.ChangedPaths, "voice.max_endpoint_sec")
	}

	return d
}
