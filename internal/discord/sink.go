package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/voicescribe/internal/segment"
)

// maxMessageLen is Discord's message content limit.
const maxMessageLen = 2000

var _ segment.Sink = (*TextSink)(nil)

// TextSink posts every transcript to a text channel as
// "🎤 {name} ({duration}s): {text}".
type TextSink struct {
	api       API
	channelID atomic.Pointer[string]
	names     func(userID string) string
}

// NewTextSink creates a sink posting to channelID. names resolves speaker
// IDs to display names.
func NewTextSink(api API, channelID string, names func(string) string) *TextSink {
	s := &TextSink{api: api, names: names}
	s.SetChannel(channelID)
	return s
}

// SetChannel changes the target channel. An empty ID pauses delivery.
func (s *TextSink) SetChannel(channelID string) {
	s.channelID.Store(&channelID)
}

// Deliver implements [segment.Sink].
func (s *TextSink) Deliver(_ context.Context, r segment.Result) {
	channelID := *s.channelID.Load()
	if channelID == "" || r.Text == "" {
		return
	}
	content := FormatTranscript(s.names(r.SpeakerID), r)
	if _, err := s.api.ChannelMessageSend(channelID, content); err != nil {
		slog.Warn("discord: failed to post transcript", "channel_id", channelID, "speaker_id", r.SpeakerID, "err", err)
		return
	}
	slog.Debug("discord: posted transcript", "speaker_id", r.SpeakerID, "chars", len(r.Text))
}

// FormatTranscript renders one chat line, truncated to Discord's limit.
func FormatTranscript(name string, r segment.Result) string {
	content := fmt.Sprintf("🎤 %s (%.1fs): %s", name, r.Duration.Seconds(), r.Text)
	return truncate(content, maxMessageLen)
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut
// with an ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const ellipsis = "…"
	cut := n - len(ellipsis)
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
