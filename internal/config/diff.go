package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Segmentation, log level and vocabulary apply live; everything else is
// reported through RestartRequired.
type ConfigDiff struct {
	SegmentationChanged bool
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	VocabularyChanged   bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.SegmentationChanged && !d.LogLevelChanged && !d.VocabularyChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// The engine sees segmentation, VAD timing and transcription hints
	// through one derived config.
	if old.SegmentConfig() != new.SegmentConfig() {
		d.SegmentationChanged = true
	}

	if !slices.Equal(old.Correction.Vocabulary, new.Correction.Vocabulary) {
		d.VocabularyChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameDiscord(old.Discord, new.Discord) {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if old.VAD.Mode != new.VAD.Mode || old.VAD.EnergyThreshold != new.VAD.EnergyThreshold ||
		old.VAD.MinSilence != new.VAD.MinSilence || old.VAD.MaxSegment != new.VAD.MaxSegment {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if !sameProviders(old.Providers, new.Providers) || old.Transcription.Output != new.Transcription.Output {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Correction.Phonetic != new.Correction.Phonetic || old.Correction.LLM != new.Correction.LLM ||
		old.Correction.Timeout != new.Correction.Timeout {
		d.RestartRequired = append(d.RestartRequired, "correction")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Feed != new.Feed || old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "http")
	}

	return d
}

// sameDiscord compares by value, following the AutoJoin pointer.
func sameDiscord(a, b DiscordConfig) bool {
	if a.AutoJoinEnabled() != b.AutoJoinEnabled() {
		return false
	}
	a.AutoJoin, b.AutoJoin = nil, nil
	return a == b
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.STT, b.STT) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, sameEntry) &&
		sameEntry(a.LLM, b.LLM) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, sameEntry) &&
		sameEntry(a.Embeddings, b.Embeddings)
}

// sameEntry ignores Options, which only factories interpret.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
