package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicescribe/internal/discord"
	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/recorder"
	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/internal/session"
	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
)

var (
	// ErrSessionActive is returned by Start while a voice session runs.
	ErrSessionActive = errors.New("app: a voice session is already active")

	// ErrNoSession is returned by Stop when nothing runs.
	ErrNoSession = errors.New("app: no active voice session")
)

// Voice is the Discord session as the voice pipeline uses it.
// [discord.Bot] implements it.
type Voice interface {
	API() discord.API
	GuildIDs() []string
	Platform(guildID string) audio.Platform
	Permissions(channelID string) (int64, error)
}

var (
	_ Voice              = (*discord.Bot)(nil)
	_ discord.Controller = (*SessionManager)(nil)
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID tags every transcript stored during the session.
	SessionID string

	GuildID       string
	ChannelID     string
	TextChannelID string
	StartedAt     time.Time

	// Reconnects counts voice connections re-established after a drop.
	Reconnects int
}

// ReconnectPolicy bounds voice reconnection. Zero values use the
// reconnector defaults (10 attempts, 1s doubling up to 30s).
type ReconnectPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Voice  Voice
	Engine Ingestor

	// SampleRate is the engine's PCM rate. Frames are converted to mono at
	// this rate before they are submitted.
	SampleRate int

	// VoiceChannel and TextChannel are channel names, resolved on Start.
	VoiceChannel string
	TextChannel  string

	// Optional collaborators.
	Names    *SpeakerNames
	Text     *discord.TextSink
	Store    *StoreSink
	Recorder *recorder.Recorder
	Metrics  *observe.Metrics

	// VAD, when set, gates every stream through a local VAD session created
	// with VADConfig. Nil trusts Discord's own voice activity detection.
	VAD       vad.Engine
	VADConfig vad.Config

	Reconnect ReconnectPolicy

	// Now defaults to time.Now.
	Now func() time.Time
}

// SessionManager manages the lifecycle of the voice session: joining the
// configured channel, feeding every speaker stream into the engine,
// reconnecting after drops and flushing on stop. Only one session can be
// active at a time. All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu     sync.Mutex
	active *voiceSession
}

// voiceSession is one joined voice channel, across reconnects.
type voiceSession struct {
	info          SessionInfo
	rc            *session.Reconnector
	cancelMonitor context.CancelFunc

	mu      sync.Mutex
	conn    audio.Connection
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	streams map[string]<-chan audio.AudioFrame
	stopped bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = segment.DefaultConfig().SampleRate
	}
	return &SessionManager{cfg: cfg}
}

// Start joins the voice channel and begins transcribing. It resolves the
// transcript text channel, connects, and starts one forwarder per speaker
// stream. Returns [ErrSessionActive] if a session is already running.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active != nil {
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.active.info.SessionID)
	}

	api := sm.cfg.Voice.API()
	target, err := discord.FindVoiceChannel(api, sm.cfg.Voice.GuildIDs(), sm.cfg.VoiceChannel)
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	if sm.cfg.Names != nil {
		sm.cfg.Names.Use(discord.NewNameResolver(api, target.GuildID))
	}
	textID, err := discord.FindTextChannel(api, target.GuildID, sm.cfg.TextChannel, sm.cfg.Voice.Permissions)
	if err != nil {
		slog.Warn("app: no text channel for transcripts", "guild_id", target.GuildID, "err", err)
	}
	if sm.cfg.Text != nil {
		sm.cfg.Text.SetChannel(textID)
	}

	now := sm.cfg.Now().UTC()
	vs := &voiceSession{info: SessionInfo{
		SessionID:     fmt.Sprintf("session-%s-%s", target.ChannelID, now.Format("20060102T150405Z")),
		GuildID:       target.GuildID,
		ChannelID:     target.ChannelID,
		TextChannelID: textID,
		StartedAt:     now,
	}}
	vs.rc = session.NewReconnector(session.ReconnectorConfig{
		Platform:    sm.cfg.Voice.Platform(target.GuildID),
		ChannelID:   target.ChannelID,
		MaxRetries:  sm.cfg.Reconnect.MaxRetries,
		Backoff:     sm.cfg.Reconnect.Backoff,
		MaxBackoff:  sm.cfg.Reconnect.MaxBackoff,
		OnReconnect: func(conn audio.Connection) { sm.bind(vs, conn) },
		OnGiveUp:    func(err error) { sm.giveUp(vs, err) },
	})

	conn, err := vs.rc.Connect(ctx)
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	if sm.cfg.Store != nil {
		sm.cfg.Store.SetSession(vs.info.SessionID)
	}
	sm.bind(vs, conn)

	monitorCtx, cancel := context.WithCancel(context.Background())
	vs.cancelMonitor = cancel
	vs.rc.Monitor(monitorCtx)

	sm.active = vs
	sm.cfg.Metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("voice session started",
		"session_id", vs.info.SessionID,
		"guild_id", target.GuildID,
		"channel_id", target.ChannelID,
		"text_channel_id", textID,
		"vad", sm.cfg.VAD != nil,
	)
	return nil
}

// Stop leaves the voice channel and flushes every speaker buffer.
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	vs := sm.active
	if vs == nil {
		return ErrNoSession
	}
	sm.active = nil
	return sm.teardown(vs)
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active != nil
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active == nil {
		return SessionInfo{}
	}
	info := sm.active.info
	info.Reconnects = sm.active.rc.Reconnects()
	return info
}

// ── discord.Controller ──

// Transcribing implements [discord.Controller].
func (sm *SessionManager) Transcribing() bool { return sm.IsActive() }

// SetTranscribing implements [discord.Controller]. Turning on an active
// session, or off an idle one, is a no-op.
func (sm *SessionManager) SetTranscribing(ctx context.Context, on bool) error {
	if on {
		if err := sm.Start(ctx); err != nil && !errors.Is(err, ErrSessionActive) {
			return err
		}
		return nil
	}
	if err := sm.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// Status implements [discord.Controller].
func (sm *SessionManager) Status() segment.Status { return sm.cfg.Engine.Status() }

// ── connection binding ──

// bind points the session at conn: forwarders of the previous connection are
// stopped and one is started for every stream of conn. Speaker buffers live
// in the engine and survive the switch.
func (sm *SessionManager) bind(vs *voiceSession, conn audio.Connection) {
	vs.mu.Lock()
	oldCancel, oldGroup := vs.cancel, vs.group
	vs.cancel, vs.group = nil, nil
	vs.mu.Unlock()
	if oldCancel != nil {
		oldCancel()
		_ = oldGroup.Wait()
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.stopped {
		_ = conn.Disconnect()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	vs.conn = conn
	vs.ctx = gctx
	vs.cancel = cancel
	vs.group = g
	vs.streams = make(map[string]<-chan audio.AudioFrame)

	conn.OnParticipantChange(func(ev audio.Event) { sm.onEvent(vs, conn, ev) })
	sm.startStreamsLocked(vs)
}

// startStreamsLocked starts a forwarder for every stream of vs.conn that does
// not have one yet. vs.mu must be held.
func (sm *SessionManager) startStreamsLocked(vs *voiceSession) {
	for id, frames := range vs.conn.InputStreams() {
		if vs.streams[id] == frames {
			continue
		}
		vs.streams[id] = frames

		f := newForwarder(id, sm.cfg.Engine, sm.cfg.SampleRate)
		f.now = sm.cfg.Now
		f.recorder = sm.cfg.Recorder
		if sm.cfg.VAD != nil {
			if err := f.withVAD(sm.cfg.VAD, sm.cfg.VADConfig); err != nil {
				slog.Warn("app: forwarding without local vad", "speaker_id", id, "err", err)
			}
		}

		ctx := vs.ctx
		vs.group.Go(func() error {
			// Provisional streams end when the user behind them becomes
			// known; what they buffered is finalised right away.
			if f.run(ctx, frames) && audio.IsProvisional(id) {
				sm.releaseSpeaker(id)
			}
			return nil
		})
		slog.Debug("app: forwarding speaker stream", "speaker_id", id)
	}
}

func (sm *SessionManager) onEvent(vs *voiceSession, conn audio.Connection, ev audio.Event) {
	switch ev.Type {
	case audio.EventJoin:
		vs.mu.Lock()
		if vs.conn == conn && !vs.stopped {
			sm.startStreamsLocked(vs)
		}
		vs.mu.Unlock()

	case audio.EventLeave:
		slog.Info("speaker left", "speaker_id", ev.UserID, "name", ev.Username)
		sm.releaseSpeaker(ev.UserID)
		if sm.cfg.Names != nil {
			sm.cfg.Names.Forget(ev.UserID)
		}

	case audio.EventDisconnected:
		vs.mu.Lock()
		current := vs.conn == conn && !vs.stopped
		vs.mu.Unlock()
		if current {
			slog.Warn("voice connection lost, reconnecting", "session_id", vs.info.SessionID)
			vs.rc.NotifyDisconnect()
		}
	}
}

// releaseSpeaker flushes the speaker's buffer and closes its recording.
func (sm *SessionManager) releaseSpeaker(id string) {
	if err := sm.cfg.Engine.RemoveSpeaker(id); err != nil && !errors.Is(err, segment.ErrClosed) {
		slog.Warn("app: remove speaker", "speaker_id", id, "err", err)
	}
	if sm.cfg.Recorder != nil {
		if err := sm.cfg.Recorder.CloseSpeaker(id); err != nil {
			slog.Warn("app: close recording", "speaker_id", id, "err", err)
		}
	}
}

func (sm *SessionManager) giveUp(vs *voiceSession, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active != vs {
		return
	}
	sm.active = nil
	slog.Error("voice reconnection failed, transcription stopped",
		"session_id", vs.info.SessionID, "channel_id", vs.info.ChannelID, "err", err)
	_ = sm.teardown(vs)
}

// teardown disconnects vs, waits for its forwarders and flushes every
// speaker. sm.mu must be held.
func (sm *SessionManager) teardown(vs *voiceSession) error {
	vs.cancelMonitor()

	vs.mu.Lock()
	vs.stopped = true
	cancel, g := vs.cancel, vs.group
	vs.mu.Unlock()

	err := vs.rc.Stop()
	if err != nil {
		slog.Warn("app: voice disconnect error", "session_id", vs.info.SessionID, "err", err)
	}
	if cancel != nil {
		cancel()
		_ = g.Wait()
	}

	speakers := sm.cfg.Engine.Status().Speakers
	for _, sp := range speakers {
		sm.releaseSpeaker(sp.SpeakerID)
	}
	sm.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)

	slog.Info("voice session stopped",
		"session_id", vs.info.SessionID,
		"flushed_speakers", len(speakers),
		"reconnects", vs.rc.Reconnects(),
	)
	if err != nil {
		return fmt.Errorf("app: stop session: %w", err)
	}
	return nil
}
