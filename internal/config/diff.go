package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when gemini.voice changed. Applies to new voice
	// sessions only; sessions already running keep their voice.
	VoiceChanged bool
	NewVoice     string

	// FallbackModelsChanged is true when gemini.fallback_models changed.
	FallbackModelsChanged bool
	NewFallbackModels     []string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gemini.Voice != new.Gemini.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Gemini.Voice
	}

	if !slices.Equal(old.Gemini.FallbackModels, new.Gemini.FallbackModels) {
		d.FallbackModelsChanged = true
		d.NewFallbackModels = slices.Clone(new.Gemini.FallbackModels)
	}

	return d
}

// HasChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.FallbackModelsChanged
}
