package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// NameResolver maps speaker IDs to display names: guild nick, then global
// name, then username, then "User {id}". Successful lookups are cached until
// [NameResolver.Forget].
type NameResolver struct {
	api     API
	guildID string

	mu    sync.RWMutex
	cache map[string]string
}

// NewNameResolver creates a resolver for members of guildID.
func NewNameResolver(api API, guildID string) *NameResolver {
	return &NameResolver{api: api, guildID: guildID, cache: make(map[string]string)}
}

// Name returns the display name of userID. It never fails.
func (r *NameResolver) Name(userID string) string {
	r.mu.RLock()
	name, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return name
	}

	name = r.lookup(userID)
	if name == "" {
		return "User " + userID
	}
	r.mu.Lock()
	r.cache[userID] = name
	r.mu.Unlock()
	return name
}

// Forget drops the cached name of userID, e.g. after a nick change or leave.
func (r *NameResolver) Forget(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

func (r *NameResolver) lookup(userID string) string {
	// Provisional SSRC keys have no user behind them yet.
	if !isSnowflake(userID) {
		return ""
	}
	if r.guildID != "" {
		m, err := r.api.GuildMember(r.guildID, userID)
		if err == nil && m != nil {
			if m.Nick != "" {
				return m.Nick
			}
			if n := userName(m.User); n != "" {
				return n
			}
		} else if err != nil {
			slog.Debug("discord: guild member lookup failed", "user_id", userID, "err", err)
		}
	}
	u, err := r.api.User(userID)
	if err != nil {
		slog.Debug("discord: user lookup failed", "user_id", userID, "err", err)
		return ""
	}
	return userName(u)
}

// MemberNames lists the display names of up to limit guild members. Used as
// correction vocabulary.
func (r *NameResolver) MemberNames(_ context.Context, limit int) ([]string, error) {
	var (
		names []string
		after string
	)
	for len(names) < limit {
		page, err := r.api.GuildMembers(r.guildID, after, min(1000, limit-len(names)))
		if err != nil {
			return names, err
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			name := m.Nick
			if name == "" {
				name = userName(m.User)
			}
			if name != "" {
				names = append(names, name)
				r.mu.Lock()
				r.cache[m.User.ID] = name
				r.mu.Unlock()
			}
		}
		if len(page) == 0 || page[len(page)-1].User == nil {
			break
		}
		after = page[len(page)-1].User.ID
		if len(page) < 1000 {
			break
		}
	}
	return names, nil
}

func userName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func isSnowflake(id string) bool {
	if id == "" {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool { return r < '0' || r > '9' }) < 0
}
