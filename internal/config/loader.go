package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicescribe/internal/recorder"
	"github.com/MrWong99/voicescribe/pkg/provider/vad/energy"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultVoiceChannel  = "blindr"
	DefaultTextChannel   = "transcriptions"
	DefaultCommandPrefix = "!"
	DefaultWhisperURL    = "http://localhost:9000"
	DefaultFeedPath      = "/feed"
	DefaultMCPPath       = "/mcp"
	DefaultEmbeddingDims = 1536
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
}

// LookupEnv matches [os.LookupEnv]; tests substitute a map.
type LookupEnv func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies defaults and the
// process environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

// parse is the shared decode → defaults → env → validate pipeline.
func parse(data []byte, env LookupEnv) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if env != nil {
		ApplyEnv(cfg, env)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the bot's environment variables:
//
//	DISCORD_TOKEN (or DISCORD_BOT_TOKEN)  discord.token
//	GUILD_ID                              discord.guild_id
//	VOICE_CHANNEL_NAME                    discord.voice_channel
//	BOT_PREFIX                            discord.command_prefix
//	LOG_LEVEL                             server.log_level
//	WHISPER_URL                           providers.stt.base_url (whisper only)
//
// WHISPER_URL selects the whisper gateway when no STT provider is configured.
func ApplyEnv(cfg *Config, lookup LookupEnv) {
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	if v, ok := get("DISCORD_TOKEN", "DISCORD_BOT_TOKEN"); ok {
		cfg.Discord.Token = v
	}
	if v, ok := get("GUILD_ID"); ok {
		cfg.Discord.GuildID = v
	}
	if v, ok := get("VOICE_CHANNEL_NAME"); ok {
		cfg.Discord.VoiceChannel = v
	}
	if v, ok := get("BOT_PREFIX"); ok {
		cfg.Discord.CommandPrefix = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := get("WHISPER_URL"); ok {
		if cfg.Providers.STT.Name == "" {
			cfg.Providers.STT.Name = "whisper"
		}
		if cfg.Providers.STT.Name == "whisper" {
			cfg.Providers.STT.BaseURL = v
		}
	}
}

// ApplyDefaults fills unset fields. Segmentation zero values are left alone;
// the engine fills them from its own defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.VoiceChannel == "" {
		cfg.Discord.VoiceChannel = DefaultVoiceChannel
	}
	if cfg.Discord.TextChannel == "" {
		cfg.Discord.TextChannel = DefaultTextChannel
	}
	if cfg.Discord.CommandPrefix == "" {
		cfg.Discord.CommandPrefix = DefaultCommandPrefix
	}
	if cfg.VAD.Mode == "" {
		cfg.VAD.Mode = VADDiscord
	}
	if cfg.VAD.EnergyThreshold == 0 {
		cfg.VAD.EnergyThreshold = energy.DefaultThreshold
	}
	if cfg.VAD.MinSilence == 0 {
		cfg.VAD.MinSilence = energy.DefaultMinSilence
	}
	if cfg.VAD.MaxSegment == 0 {
		cfg.VAD.MaxSegment = energy.DefaultMaxSegment
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "whisper"
	}
	if cfg.Providers.STT.Name == "whisper" && cfg.Providers.STT.BaseURL == "" {
		cfg.Providers.STT.BaseURL = DefaultWhisperURL
	}
	if cfg.Transcription.Task == "" {
		cfg.Transcription.Task = "transcribe"
	}
	if cfg.Transcription.Output == "" {
		cfg.Transcription.Output = "txt"
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions == 0 {
		slog.Warn("config: providers.embeddings is configured but store.embedding_dimensions is not set; defaulting",
			"dimensions", DefaultEmbeddingDims)
		cfg.Store.EmbeddingDimensions = DefaultEmbeddingDims
	}
	if cfg.Recording.Dir == "" {
		cfg.Recording.Dir = recorder.DefaultDir
	}
	if cfg.Recording.Format == "" {
		cfg.Recording.Format = recorder.FormatWAV
	}
	if cfg.Feed.Path == "" {
		cfg.Feed.Path = DefaultFeedPath
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// problems are only logged.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}

	// Segmentation and VAD
	if err := cfg.SegmentConfig().WithDefaults().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("segmentation: %w", err))
	}
	if !cfg.VAD.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("vad.mode %q is invalid; valid values: discord, energy", cfg.VAD.Mode))
	}
	if cfg.VAD.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold %.1f must not be negative", cfg.VAD.EnergyThreshold))
	}
	if cfg.VAD.MinSilence < 0 || cfg.VAD.MaxSegment < 0 || cfg.VAD.MinSpeech < 0 {
		errs = append(errs, errors.New("vad durations must not be negative"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Transcription
	switch cfg.Transcription.Task {
	case "", "transcribe", "translate":
	default:
		errs = append(errs, fmt.Errorf("transcription.task %q is invalid; valid values: transcribe, translate", cfg.Transcription.Task))
	}
	switch cfg.Transcription.Output {
	case "", "txt", "json":
	default:
		errs = append(errs, fmt.Errorf("transcription.output %q is invalid; valid values: txt, json", cfg.Transcription.Output))
	}

	// Correction
	if cfg.Correction.LLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("correction.llm requires providers.llm"))
	}
	if cfg.Correction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("correction.timeout %s must not be negative", cfg.Correction.Timeout))
	}
	if (cfg.Correction.Phonetic || cfg.Correction.LLM) && len(cfg.Correction.Vocabulary) == 0 {
		slog.Warn("config: correction enabled without a vocabulary; only guild member names will be used")
	}

	// Store
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("config: providers.embeddings is configured but store.postgres_dsn is empty; embeddings will not be stored")
	}
	if cfg.MCP.Enabled && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("mcp.enabled requires store.postgres_dsn"))
	}

	// Recording
	switch cfg.Recording.Format {
	case "", recorder.FormatPCM, recorder.FormatWAV:
	default:
		errs = append(errs, fmt.Errorf("recording.format %q is invalid; valid values: pcm, wav", cfg.Recording.Format))
	}

	// HTTP surfaces
	if (cfg.Feed.Enabled || cfg.MCP.Enabled) && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("feed and mcp require server.listen_addr"))
	}
	for name, p := range map[string]string{"feed.path": cfg.Feed.Path, "mcp.path": cfg.MCP.Path} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with /", name, p))
		}
	}
	if cfg.Feed.Enabled && cfg.MCP.Enabled && cfg.Feed.Path == cfg.MCP.Path {
		errs = append(errs, fmt.Errorf("feed.path and mcp.path must differ, both are %q", cfg.Feed.Path))
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
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
