package app

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/voicescribe/internal/discord"
)

// SpeakerNames resolves speaker IDs through the name resolver of the guild
// the bot is currently transcribing. It is shared by every sink.
type SpeakerNames struct {
	r atomic.Pointer[discord.NameResolver]
}

// Use switches to r.
func (n *SpeakerNames) Use(r *discord.NameResolver) { n.r.Store(r) }

// Resolver returns the current resolver, nil before the first session.
func (n *SpeakerNames) Resolver() *discord.NameResolver { return n.r.Load() }

// Name returns the display name of userID.
func (n *SpeakerNames) Name(userID string) string {
	if r := n.r.Load(); r != nil {
		return r.Name(userID)
	}
	return "User " + userID
}

// NameContext adapts Name to the live feed's signature.
func (n *SpeakerNames) NameContext(_ context.Context, userID string) string { return n.Name(userID) }

// Forget drops the cached name of userID.
func (n *SpeakerNames) Forget(userID string) {
	if r := n.r.Load(); r != nil {
		r.Forget(userID)
	}
}
