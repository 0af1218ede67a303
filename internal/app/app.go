// Package app wires all voicescribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run joins the voice channel once the bot is ready, and Shutdown
// tears everything down in order. Transcripts flow
//
//	voice streams → SessionManager → segment.Engine → STT gateway
//	  → (Corrector) → text channel, live feed, transcript store
//
// For testing, inject doubles via functional options (WithTranscriptLog,
// WithSemanticIndex, WithEngineOptions, ...). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voicescribe/internal/config"
	"github.com/MrWong99/voicescribe/internal/discord"
	"github.com/MrWong99/voicescribe/internal/feed"
	"github.com/MrWong99/voicescribe/internal/health"
	"github.com/MrWong99/voicescribe/internal/mcpserver"
	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/recorder"
	"github.com/MrWong99/voicescribe/internal/resilience"
	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/internal/session"
	"github.com/MrWong99/voicescribe/internal/transcript"
	"github.com/MrWong99/voicescribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voicescribe/internal/transcript/phonetic"
	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
	"github.com/MrWong99/voicescribe/pkg/provider/llm"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
	"github.com/MrWong99/voicescribe/pkg/provider/vad/energy"
	"github.com/MrWong99/voicescribe/pkg/store"
	"github.com/MrWong99/voicescribe/pkg/store/postgres"
)

// statsWindow is how many recent transcriptions the status latency covers.
const statsWindow = 200

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// STT is required: the primary gateway, usually wrapped in a fallback
	// group.
	STT stt.Provider

	LLM        llm.Provider
	Embeddings embeddings.Provider

	// VAD gates frames in energy mode. Nil there means the built-in energy
	// detector.
	VAD vad.Engine
}

// Bot is the Discord session as seen by the application.
// [discord.Bot] implements it.
type Bot interface {
	Voice
	Router() *discord.CommandRouter
	Connected() bool
	WaitReady(ctx context.Context) error
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes and orchestrates the transcription
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	bot       Bot
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Injected or created in New.
	transcripts store.TranscriptLog
	index       store.SemanticIndex
	pg          *postgres.Store
	engineOpts  []segment.Option
	reconnect   ReconnectPolicy

	guard     *session.LogGuard
	names     *SpeakerNames
	vocab     *vocabulary
	stats     *discord.Stats
	text      *discord.TextSink
	hub       *feed.Hub
	storeSink *StoreSink
	engine    *segment.Engine
	recorder  *recorder.Recorder
	mcp       *mcpserver.Server
	sessions  *SessionManager
	health    *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptLog injects a transcript log instead of connecting to
// store.postgres_dsn.
func WithTranscriptLog(l store.TranscriptLog) Option {
	return func(a *App) { a.transcripts = l }
}

// WithSemanticIndex injects a chunk index. It is only used together with an
// embeddings provider.
func WithSemanticIndex(idx store.SemanticIndex) Option {
	return func(a *App) { a.index = idx }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithEngineOptions passes extra options to the segmentation engine, e.g. a
// fake clock in tests.
func WithEngineOptions(opts ...segment.Option) Option {
	return func(a *App) { a.engineOpts = append(a.engineOpts, opts...) }
}

// WithReconnectPolicy overrides voice reconnection backoff.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(a *App) { a.reconnect = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry) and bot is the
// connected Discord session.
func New(ctx context.Context, cfg *config.Config, providers *Providers, bot Bot, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		bot:       bot,
		names:     &SpeakerNames{},
		stats:     discord.NewStats(statsWindow),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Sinks ─────────────────────────────────────────────────────────
	sink := a.initSinks()

	// ── 3. Segmentation engine ───────────────────────────────────────────
	gw := timedGateway{next: providers.STT, stats: a.stats}
	engOpts := append([]segment.Option{
		segment.WithMetrics(a.metrics),
		segment.WithProviderName(stt.NameOf(providers.STT)),
	}, a.engineOpts...)
	eng, err := segment.New(gw, sink, cfg.SegmentConfig(), engOpts...)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init engine: %w", err)
	}
	a.engine = eng
	abort := func(err error) (*App, error) {
		_ = eng.Shutdown(ctx)
		a.runClosers()
		return nil, err
	}

	// ── 4. Recorder ──────────────────────────────────────────────────────
	if cfg.Recording.Enabled {
		rec, err := recorder.New(cfg.Recording.Dir, cfg.Recording.Format)
		if err != nil {
			return abort(fmt.Errorf("app: init recorder: %w", err))
		}
		a.recorder = rec
	}

	// ── 5. Voice sessions ────────────────────────────────────────────────
	a.sessions = NewSessionManager(a.sessionConfig())

	// ── 6. MCP server ────────────────────────────────────────────────────
	if err := a.initMCP(); err != nil {
		return abort(fmt.Errorf("app: init mcp: %w", err))
	}

	// ── 7. Bot commands ──────────────────────────────────────────────────
	cmdOpts := []discord.CommandsOption{
		discord.WithNames(a.names.Name),
		discord.WithStats(a.stats),
	}
	if a.guard != nil {
		cmdOpts = append(cmdOpts, discord.WithTranscriptLog(a.guard))
	}
	discord.NewCommands(bot.API(), a.sessions, cfg.Discord.CommandPrefix, cmdOpts...).Register(bot.Router())

	// ── 8. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.STT(providers.STT),
		health.Flag("discord", bot.Connected),
	}
	if fb, ok := providers.STT.(*resilience.STTFallback); ok {
		checkers = append(checkers, health.Breakers("stt_breakers", fb.Group()))
	}
	if fb, ok := providers.LLM.(*resilience.LLMFallback); ok {
		checkers = append(checkers, health.Breakers("llm_breakers", fb.Group()))
	}
	if a.pg != nil {
		checkers = append(checkers, health.Ping("postgres", a.pg))
	}
	if a.guard != nil {
		degraded := health.Flag("transcript_log", func() bool { return !a.guard.IsDegraded() })
		degraded.Optional = true
		checkers = append(checkers, degraded)
	}
	a.health = health.New(checkers...)

	slog.Info("app initialised",
		"stt", stt.NameOf(providers.STT),
		"mode", cfg.SegmentConfig().Mode,
		"store", a.guard != nil,
		"semantic_index", a.storeSink != nil && a.index != nil && providers.Embeddings != nil,
		"feed", a.hub != nil,
		"mcp", a.mcp != nil,
		"recording", a.recorder != nil,
	)
	return a, nil
}

// initStore connects the transcript log unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.transcripts == nil && a.cfg.Store.PostgresDSN != "" {
		dims := 0
		if a.providers.Embeddings != nil {
			dims = a.cfg.Store.EmbeddingDimensions
		}
		pg, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.pg = pg
		a.transcripts = pg.Log()
		if dims > 0 {
			a.index = pg.Index()
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
	}
	if a.transcripts != nil {
		a.guard = session.NewLogGuard(a.transcripts)
	}
	return nil
}

// initSinks builds the delivery chain: every result goes to the text
// channel, the live feed and the store, optionally corrected first.
func (a *App) initSinks() segment.Sink {
	a.text = discord.NewTextSink(a.bot.API(), "", a.names.Name)
	sinks := segment.MultiSink{a.text}

	if a.cfg.Feed.Enabled {
		a.hub = feed.New(
			feed.WithNames(a.names.NameContext),
			feed.WithMetrics(a.metrics),
		)
		a.closers = append(a.closers, func() error {
			a.hub.Close()
			return nil
		})
		sinks = append(sinks, a.hub)
	}

	if a.guard != nil {
		opts := []StoreSinkOption{
			WithSpeakerNames(a.names.Name),
			WithStoreMetrics(a.metrics),
		}
		if a.index != nil && a.providers.Embeddings != nil {
			opts = append(opts, WithIndex(a.index, a.providers.Embeddings))
		}
		a.storeSink = NewStoreSink(a.guard, opts...)
		sinks = append(sinks, a.storeSink)
	}

	a.vocab = newVocabulary(a.cfg.Correction.Vocabulary, a.names.Resolver)
	pipeline := a.correctionPipeline()
	if !pipeline.Enabled() {
		return sinks
	}
	opts := []transcript.CorrectorOption{
		transcript.WithMetrics(a.metrics),
		transcript.WithObserver(a.stats.RecordCorrection),
	}
	if a.cfg.Correction.Timeout > 0 {
		opts = append(opts, transcript.WithTimeout(a.cfg.Correction.Timeout))
	}
	return transcript.NewCorrector(sinks, pipeline, a.vocab.Vocabulary(), opts...)
}

func (a *App) correctionPipeline() *transcript.Pipeline {
	var opts []transcript.PipelineOption
	if a.cfg.Correction.Phonetic {
		opts = append(opts, transcript.WithPhoneticMatcher(phonetic.New()))
	}
	if a.cfg.Correction.LLM {
		if a.providers.LLM == nil {
			slog.Warn("app: correction.llm is enabled but no llm provider is configured")
		} else {
			opts = append(opts, transcript.WithLLMCorrector(llmcorrect.New(a.providers.LLM)))
		}
	}
	return transcript.NewPipeline(opts...)
}

func (a *App) sessionConfig() SessionManagerConfig {
	cfg := a.engine.Config()
	sc := SessionManagerConfig{
		Voice:        a.bot,
		Engine:       a.engine,
		SampleRate:   cfg.SampleRate,
		VoiceChannel: a.cfg.Discord.VoiceChannel,
		TextChannel:  a.cfg.Discord.TextChannel,
		Names:        a.names,
		Text:         a.text,
		Store:        a.storeSink,
		Recorder:     a.recorder,
		Metrics:      a.metrics,
		Reconnect:    a.reconnect,
	}
	if a.cfg.VAD.Mode == config.VADEnergy {
		sc.VAD = a.providers.VAD
		if sc.VAD == nil {
			sc.VAD = energy.New()
		}
		sc.VADConfig = a.cfg.VAD.SessionConfig(cfg.SampleRate, 1)
	}
	return sc
}

func (a *App) initMCP() error {
	if !a.cfg.MCP.Enabled {
		return nil
	}
	if a.guard == nil {
		slog.Warn("app: mcp is enabled but no transcript store is configured; not serving it")
		return nil
	}
	var opts []mcpserver.Option
	if a.index != nil && a.providers.Embeddings != nil {
		opts = append(opts, mcpserver.WithSemantic(a.index, a.providers.Embeddings))
	}
	srv, err := mcpserver.New(a.guard, opts...)
	if err != nil {
		return err
	}
	a.mcp = srv
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Engine returns the segmentation engine.
func (a *App) Engine() *segment.Engine { return a.engine }

// Sessions returns the voice session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Stats returns the transcription latency statistics.
func (a *App) Stats() *discord.Stats { return a.stats }

// ─── HTTP ────────────────────────────────────────────────────────────────────

// Handler serves /metrics, /healthz, /readyz and, when enabled, the live
// feed and the MCP endpoint. Every request goes through the observe
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	if a.hub != nil {
		mux.Handle(a.cfg.Feed.Path, a.hub)
	}
	if a.mcp != nil {
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run waits for the Discord session and, with discord.auto_join, joins the
// voice channel. It then blocks until ctx is cancelled. A failed join is
// logged; transcription can still be turned on with the transcribe command.
func (a *App) Run(ctx context.Context) error {
	if err := a.bot.WaitReady(ctx); err != nil {
		return fmt.Errorf("app: wait for discord: %w", err)
	}
	if a.cfg.Discord.AutoJoinEnabled() {
		if err := a.sessions.Start(ctx); err != nil {
			slog.Error("auto-join failed; use the transcribe command to retry",
				"voice_channel", a.cfg.Discord.VoiceChannel, "err", err)
		}
	}
	<-ctx.Done()
	return nil
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig hot-applies the parts of a reloaded config that can change at
// runtime: segmentation thresholds, the log level and the correction
// vocabulary. Anything else is logged as needing a restart.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.Empty() {
		return
	}
	if d.SegmentationChanged {
		if err := a.engine.UpdateConfig(updated.SegmentConfig()); err != nil {
			slog.Error("config reload: segmentation rejected, keeping the running thresholds", "err", err)
		} else {
			slog.Info("config reload: segmentation thresholds applied")
		}
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(LevelOf(d.NewLogLevel))
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		a.vocab.Set(updated.Correction.Vocabulary)
		slog.Info("config reload: correction vocabulary applied", "terms", len(updated.Correction.Vocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes only apply after a restart", "sections", d.RestartRequired)
	}
}

// LevelOf maps a config log level to slog.
func LevelOf(l config.LogLevel) slog.Level {
	switch l {
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

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves the voice channel, drains the engine so every buffered
// segment is transcribed and delivered, then runs the closers (recorder,
// feed, store) in order. If ctx expires first, remaining closers are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("shutdown: stop voice session", "err", err)
		}
		if err := a.engine.Shutdown(ctx); err != nil {
			slog.Warn("shutdown: engine drain incomplete", "err", err)
			shutdownErr = err
		}
		if a.recorder != nil {
			if err := a.recorder.Close(); err != nil {
				slog.Warn("shutdown: close recorder", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("shutdown: closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// runClosers releases what New acquired before failing.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}
