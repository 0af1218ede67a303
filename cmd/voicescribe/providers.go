package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voicescribe/internal/app"
	"github.com/MrWong99/voicescribe/internal/config"
	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/resilience"
	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/voicescribe/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voicescribe/pkg/provider/llm"
	"github.com/MrWong99/voicescribe/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/voicescribe/pkg/provider/llm/openai"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/MrWong99/voicescribe/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/voicescribe/pkg/provider/stt/openai"
	"github.com/MrWong99/voicescribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
	"github.com/MrWong99/voicescribe/pkg/provider/vad/energy"
)

// builtinProviders maps provider category names to the implementations that
// ship with voicescribe. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":        {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
	"vad":        {"energy"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories read the transcription and correction sections of cfg for the
// settings every STT backend shares.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithOutput(cfg.Transcription.Output)}
		if lang := firstNonEmpty(optString(entry.Options, "language"), cfg.Transcription.Language); lang != "" {
			opts = append(opts, whisper.WithDefaultLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := firstNonEmpty(optString(entry.Options, "language"), cfg.Transcription.Language); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oastt.WithOrganization(org))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := firstNonEmpty(optString(entry.Options, "language"), cfg.Transcription.Language); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if len(cfg.Correction.Vocabulary) > 0 {
			opts = append(opts, deepgram.WithKeywords(cfg.Correction.Vocabulary...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		// The corrector parses a JSON object out of every answer.
		opts := []oallm.Option{oallm.WithJSONResponse()}
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other LLM backend goes through any-llm-go. Local servers ignore
	// the API key.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(anyllm.Config{
				Backend: backend,
				Model:   entry.Model,
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
			})
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if cfg.Store.EmbeddingDimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(cfg.Store.EmbeddingDimensions))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// STT and LLM fallbacks are chained behind their primary.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	primarySTT, err := create(reg.CreateSTT, "stt", cfg.Providers.STT)
	if err != nil {
		return nil, err
	}
	if primarySTT == nil {
		return nil, fmt.Errorf("stt provider %q is not available", cfg.Providers.STT.Name)
	}
	if len(cfg.Providers.STTFallbacks) == 0 {
		ps.STT = primarySTT
	} else {
		fb := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, fallbackConfig(m, "stt"))
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := create(reg.CreateSTT, "stt", entry)
			if err != nil {
				return nil, err
			}
			if p != nil {
				fb.AddFallback(entry.Name, p)
			}
		}
		ps.STT = fb
	}

	if cfg.Providers.LLM.Name != "" {
		primary, err := create(reg.CreateLLM, "llm", cfg.Providers.LLM)
		if err != nil {
			return nil, err
		}
		if primary != nil && len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fallbackConfig(m, "llm"))
			for _, entry := range cfg.Providers.LLMFallbacks {
				p, err := create(reg.CreateLLM, "llm", entry)
				if err != nil {
					return nil, err
				}
				if p != nil {
					fb.AddFallback(entry.Name, p)
				}
			}
			ps.LLM = fb
		} else if primary != nil {
			ps.LLM = primary
		}
	}

	if cfg.Providers.Embeddings.Name != "" {
		p, err := create(reg.CreateEmbeddings, "embeddings", cfg.Providers.Embeddings)
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.Embeddings = p
		}
	}

	if cfg.VAD.Mode == config.VADEnergy {
		p, err := create(reg.CreateVAD, "vad", config.ProviderEntry{Name: "energy"})
		if err != nil {
			return nil, err
		}
		if p != nil {
			ps.VAD = p
		}
	}

	return ps, nil
}

// create builds one provider. A name without a registered factory is skipped
// with a log line and yields the zero value.
func create[T any](factory func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// fallbackConfig counts every attempt of a fallback group as a provider
// request. Skips of an open breaker count as "skipped".
func fallbackConfig(m *observe.Metrics, kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, kind, to.String())
			},
		},
		OnAttempt: func(name string, err error) {
			ctx := context.Background()
			switch {
			case err == nil:
				m.RecordProviderRequest(ctx, name, kind, "ok")
			case errors.Is(err, resilience.ErrCircuitOpen):
				m.RecordProviderRequest(ctx, name, kind, "skipped")
			default:
				m.RecordProviderRequest(ctx, name, kind, "error")
				m.RecordProviderError(ctx, name, kind)
			}
		},
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
