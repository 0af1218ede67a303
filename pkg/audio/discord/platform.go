// Package discord is the [audio.Platform] for Discord voice channels, built
// on bwmarrin/discordgo. It decodes the Opus packets of every sender and
// demuxes them into per-speaker PCM streams.
//
// The bot layer owns the *discordgo.Session; a [Platform] only joins and
// leaves voice channels of one guild on it.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// joinFunc is the signature of [discordgo.Session.ChannelVoiceJoin].
type joinFunc func(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)

// Platform joins the voice channels of one guild. It only listens, so every
// join is self-muted and undeafened. Safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
	join    joinFunc
}

// New returns a Platform for guildID on session.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID, join: session.ChannelVoiceJoin}
}

// Connect joins channelID. discordgo's join does not take a context, so it
// runs on its own goroutine; when ctx ends first Connect returns ctx's error
// and leaves the channel once the join completes.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	vc, err := p.joinContext(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, p.guildID), nil
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

func (p *Platform) joinContext(ctx context.Context, channelID string) (*discordgo.VoiceConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan joinResult, 1)
	go func() {
		vc, err := p.join(p.guildID, channelID, true, false)
		done <- joinResult{vc, err}
	}()

	select {
	case r := <-done:
		return r.vc, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && r.vc != nil {
				if err := r.vc.Disconnect(); err != nil {
					slog.Debug("discord: leaving abandoned voice join", "channel_id", channelID, "err", err)
				}
			}
		}()
		return nil, ctx.Err()
	}
}
