package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ErrChannelNotFound is returned when no channel matches the configured name.
var ErrChannelNotFound = errors.New("discord: channel not found")

// Target is a resolved voice channel.
type Target struct {
	GuildID   string
	ChannelID string
}

// FindVoiceChannel searches guildIDs in order for a voice channel called name.
func FindVoiceChannel(api API, guildIDs []string, name string) (Target, error) {
	var errs []error
	for _, g := range guildIDs {
		chans, err := api.GuildChannels(g)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s: %w", g, err))
			continue
		}
		for _, c := range chans {
			if (c.Type == discordgo.ChannelTypeGuildVoice || c.Type == discordgo.ChannelTypeGuildStageVoice) && c.Name == name {
				return Target{GuildID: g, ChannelID: c.ID}, nil
			}
		}
	}
	errs = append(errs, fmt.Errorf("%w: voice channel %q", ErrChannelNotFound, name))
	return Target{}, errors.Join(errs...)
}

// FindTextChannel picks the text channel transcripts go to: the one called
// name (case-insensitive) if the bot may send there, otherwise the first
// text channel it may send to. perms reports the bot's permissions in a
// channel; nil assumes every channel is writable.
func FindTextChannel(api API, guildID, name string, perms func(channelID string) (int64, error)) (string, error) {
	chans, err := api.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("discord: list channels: %w", err)
	}
	canSend := func(c *discordgo.Channel) bool {
		if perms == nil {
			return true
		}
		p, err := perms(c.ID)
		return err == nil && p&discordgo.PermissionSendMessages != 0
	}
	var fallback string
	for _, c := range chans {
		if c.Type != discordgo.ChannelTypeGuildText || !canSend(c) {
			continue
		}
		if strings.EqualFold(c.Name, name) {
			return c.ID, nil
		}
		if fallback == "" {
			fallback = c.ID
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("%w: no writable text channel in guild %s", ErrChannelNotFound, guildID)
	}
	return fallback, nil
}
