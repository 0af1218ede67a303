package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// bulkDeleteMaxAge is the age limit of Discord's bulk delete endpoint.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// Purge deletes every message in channelID and returns how many were
// removed. Messages younger than two weeks go through bulk delete; older
// ones are deleted one by one.
func Purge(ctx context.Context, api API, channelID string, now time.Time) (int, error) {
	deleted := 0
	before := ""
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		page, err := api.ChannelMessages(channelID, 100, before, "", "")
		if err != nil {
			return deleted, fmt.Errorf("discord: list messages: %w", err)
		}
		if len(page) == 0 {
			return deleted, nil
		}
		before = page[len(page)-1].ID

		var recent, old []string
		for _, m := range page {
			if now.Sub(m.Timestamp) < bulkDeleteMaxAge {
				recent = append(recent, m.ID)
			} else {
				old = append(old, m.ID)
			}
		}
		n, err := deleteMessages(api, channelID, recent, old)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
}

func deleteMessages(api API, channelID string, recent, old []string) (int, error) {
	deleted := 0
	switch len(recent) {
	case 0:
	case 1:
		// Bulk delete needs at least two IDs.
		old = append(old, recent...)
	default:
		if err := api.ChannelMessagesBulkDelete(channelID, recent); err != nil {
			return deleted, fmt.Errorf("discord: bulk delete: %w", err)
		}
		deleted += len(recent)
	}
	for _, id := range old {
		if err := api.ChannelMessageDelete(channelID, id); err != nil {
			return deleted, fmt.Errorf("discord: delete message %s: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// canManageMessages reports whether perms include Manage Messages. Unknown
// permissions (-1) are treated as granted; the API call fails otherwise.
func canManageMessages(perms int64) bool {
	return perms == -1 || perms&discordgo.PermissionManageMessages != 0
}
