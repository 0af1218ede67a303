// Package discord provides the Discord bot layer for voicescribe. It owns
// the discordgo.Session lifecycle, resolves the voice and text channels by
// name, posts transcripts and routes the bot's commands.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voicescribe/pkg/audio"
	discordaudio "github.com/MrWong99/voicescribe/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID restricts the bot to one guild. Empty searches every guild the
	// bot is in.
	GuildID string

	// CommandPrefix enables prefix commands ("!transcribe"). Empty disables
	// them; slash commands are always registered.
	CommandPrefix string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	guildID   string
	guilds    []string
	commands  map[string][]*discordgo.ApplicationCommand // guild ID → registered
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the event handlers.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		router:   NewCommandRouter(cfg.CommandPrefix),
		guildID:  cfg.GuildID,
		commands: make(map[string][]*discordgo.ApplicationCommand),
		ready:    make(chan struct{}),
	}
	b.router.SetPermissions(b.Permissions)

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		ids := make([]string, 0, len(r.Guilds))
		for _, g := range r.Guilds {
			ids = append(ids, g.ID)
		}
		b.mu.Lock()
		b.guilds = ids
		b.mu.Unlock()
		slog.Info("discord: connected", "user", r.User.Username, "guilds", len(ids))
		b.readyOnce.Do(func() { close(b.ready) })
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.router.HandleMessage(s, m)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// WaitReady blocks until the gateway sent READY or ctx is done.
func (b *Bot) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("discord: wait for ready: %w", ctx.Err())
	}
}

// GuildIDs returns the guilds to search for channels: the configured guild,
// or every guild from READY.
func (b *Bot) GuildIDs() []string {
	if b.guildID != "" {
		return []string{b.guildID}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.guilds...)
}

// API returns the REST surface of the session.
func (b *Bot) API() API { return b.session }

// Platform returns the audio.Platform for voice channels of guildID.
func (b *Bot) Platform(guildID string) audio.Platform {
	return discordaudio.New(b.session, guildID)
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the bot's permissions in channelID from the state
// cache.
func (b *Bot) Permissions(channelID string) (int64, error) {
	if b.session.State == nil || b.session.State.User == nil {
		return 0, fmt.Errorf("discord: state not ready")
	}
	return b.session.State.UserChannelPermissions(b.session.State.User.ID, channelID)
}

// Connected reports whether the gateway session is up.
func (b *Bot) Connected() bool {
	return b.session.DataReady
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.WaitReady(ctx); err != nil {
		return err
	}
	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		// Without a configured guild, commands are registered globally.
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands[b.guildID] = registered
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters guild commands, waits for running command follow-ups
// and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.router.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session.State != nil && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for guildID, cmds := range b.commands {
				if guildID == "" {
					// Global commands take up to an hour to propagate; keep them.
					continue
				}
				for _, cmd := range cmds {
					if err := b.session.ApplicationCommandDelete(appID, guildID, cmd.ID); err != nil {
						slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
					}
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord: bot closed")
	})
	return closeErr
}
