package discord

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// respond answers an interaction with rep. update edits the message the
// interaction originated from.
func respond(api API, i *discordgo.InteractionCreate, rep Reply, update bool) {
	typ := discordgo.InteractionResponseChannelMessageWithSource
	if update {
		typ = discordgo.InteractionResponseUpdateMessage
	}
	data := &discordgo.InteractionResponseData{
		Content:    rep.Content,
		Embeds:     rep.Embeds,
		Components: rep.Components,
	}
	if update && data.Components == nil {
		// Drop the buttons of the edited message.
		data.Components = []discordgo.MessageComponent{}
	}
	if rep.Ephemeral && !update {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: typ, Data: data})
	if err != nil {
		slog.Warn("discord: failed to respond to interaction", "err", err)
	}
}

// send posts rep to channelID as a regular message.
func send(api API, channelID string, rep Reply) {
	_, err := api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    rep.Content,
		Embeds:     rep.Embeds,
		Components: rep.Components,
	})
	if err != nil {
		slog.Warn("discord: failed to send message", "channel_id", channelID, "err", err)
	}
}
