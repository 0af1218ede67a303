package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/pkg/store"
)

const (
	colorOn  = 0x00FF00
	colorOff = 0xFF0000

	// clearallWindow is how long the clearall confirmation buttons stay valid.
	clearallWindow = 30 * time.Second

	searchLimit = 10

	customClearallConfirm = "clearall_confirm:"
	customClearallCancel  = "clearall_cancel:"
)

// Controller is the voice pipeline as seen by the bot commands.
type Controller interface {
	// Transcribing reports whether transcription is on.
	Transcribing() bool

	// SetTranscribing turns transcription on (joining the voice channel)
	// or off (flushing and leaving it).
	SetTranscribing(ctx context.Context, on bool) error

	// Status snapshots the segmentation engine.
	Status() segment.Status
}

// Commands implements transcribe, status, search and clearall.
type Commands struct {
	api    API
	ctrl   Controller
	log    store.TranscriptLog
	names  func(userID string) string
	stats  *Stats
	prefix string
	now    func() time.Time
}

// CommandsOption configures [Commands].
type CommandsOption func(*Commands)

// WithTranscriptLog enables the search command.
func WithTranscriptLog(log store.TranscriptLog) CommandsOption {
	return func(c *Commands) { c.log = log }
}

// WithNames resolves speaker IDs in status output.
func WithNames(fn func(userID string) string) CommandsOption {
	return func(c *Commands) { c.names = fn }
}

// WithStats adds transcription latencies to the status output.
func WithStats(s *Stats) CommandsOption {
	return func(c *Commands) { c.stats = s }
}

// WithNow replaces the clock used for clearall confirmation deadlines.
func WithNow(now func() time.Time) CommandsOption {
	return func(c *Commands) { c.now = now }
}

// NewCommands creates the command set. prefix is only used in help text.
func NewCommands(api API, ctrl Controller, prefix string, opts ...CommandsOption) *Commands {
	c := &Commands{
		api:    api,
		ctrl:   ctrl,
		prefix: prefix,
		names:  func(id string) string { return id },
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register adds all commands and their buttons to r.
func (c *Commands) Register(r *CommandRouter) {
	r.Register(Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "transcribe",
			Description: "Toggle voice transcription on/off",
		},
		Prefix: true,
		Run:    c.transcribe,
	})
	r.Register(Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "status",
			Description: "Show transcription status and active speakers",
		},
		Prefix: true,
		Run:    c.status,
	})
	r.Register(Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "search",
			Description: "Search stored transcripts",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "query",
				Description: "Words to look for",
				Required:    true,
			}},
		},
		Prefix: true,
		Run:    c.search,
	})
	manage := int64(discordgo.PermissionManageMessages)
	r.Register(Command{
		Definition: &discordgo.ApplicationCommand{
			Name:                     "clearall",
			Description:              "Clear ALL messages from this channel (requires confirmation)",
			DefaultMemberPermissions: &manage,
		},
		Prefix: true,
		Run:    c.clearall,
	})
	r.RegisterComponent(customClearallConfirm, c.clearallConfirm)
	r.RegisterComponent(customClearallCancel, c.clearallCancel)
}

// ---- transcribe ----

func (c *Commands) transcribe(ctx context.Context, _ Invocation) Reply {
	on := !c.ctrl.Transcribing()
	if err := c.ctrl.SetTranscribing(ctx, on); err != nil {
		slog.Warn("discord: toggle transcription failed", "on", on, "err", err)
		return Reply{Content: fmt.Sprintf("❌ Failed to turn transcription %s: %v", onOff(on), err)}
	}
	slog.Info("discord: transcription toggled", "on", on)
	return Reply{Embeds: []*discordgo.MessageEmbed{c.transcribeEmbed(on)}}
}

func (c *Commands) transcribeEmbed(on bool) *discordgo.MessageEmbed {
	status, emoji, color := "🔇 OFF", "❌", colorOff
	field := &discordgo.MessageEmbedField{Name: "🤫 Disabled", Value: "Voice messages will not be transcribed"}
	if on {
		status, emoji, color = "🔊 ON", "✅", colorOn
		field = &discordgo.MessageEmbedField{Name: "📢 Active", Value: "Voice messages will be transcribed to Discord"}
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s Transcription %s", emoji, status),
		Description: fmt.Sprintf("Voice transcription is now **%s**", status),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			field,
			{Name: "Commands", Value: c.help()},
		},
	}
}

func (c *Commands) help() string {
	p := c.prefix
	if p == "" {
		p = "/"
	}
	return strings.Join([]string{
		p + "transcribe - Toggle transcription on/off",
		p + "status - Show active speakers and buffers",
		p + "search <words> - Search stored transcripts",
		p + "clearall - Clear entire channel (requires confirmation)",
	}, "\n")
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// ---- status ----

func (c *Commands) status(context.Context, Invocation) Reply {
	st := c.ctrl.Status()
	on := c.ctrl.Transcribing()
	color := colorOff
	if on {
		color = colorOn
	}
	embed := &discordgo.MessageEmbed{
		Title: "Voice transcription status",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Transcription", Value: strings.ToUpper(onOff(on)), Inline: true},
			{Name: "Mode", Value: string(st.Mode), Inline: true},
			{Name: "Active speakers", Value: strconv.Itoa(st.ActiveSpeakers), Inline: true},
		},
	}
	if c.stats != nil {
		snap := c.stats.Snapshot()
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Transcription latency",
			Value: fmt.Sprintf("p50 %s · p95 %s · %d ok · %d failed",
				snap.STT.P50.Round(time.Millisecond), snap.STT.P95.Round(time.Millisecond), snap.Transcripts, snap.Failures),
		})
	}
	for i, sp := range st.Speakers {
		if i == 20 {
			embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d more speakers not shown", len(st.Speakers)-i)}
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  c.names(sp.SpeakerID),
			Value: speakerLine(sp),
		})
	}
	return Reply{Embeds: []*discordgo.MessageEmbed{embed}}
}

func speakerLine(sp segment.SpeakerStatus) string {
	var flags []string
	if sp.Processing {
		flags = append(flags, "transcribing")
	}
	if sp.PendingTimer {
		flags = append(flags, "timer armed")
	}
	line := fmt.Sprintf("buffer %.1fs · %d chunks · last packet %s ago",
		sp.BufferDuration.Seconds(), sp.Chunks, sp.LastPacketAgo.Truncate(100*time.Millisecond))
	if len(flags) > 0 {
		line += " · " + strings.Join(flags, ", ")
	}
	return line
}

// ---- search ----

func (c *Commands) search(ctx context.Context, inv Invocation) Reply {
	if c.log == nil {
		return Reply{Content: "Transcript search is not configured.", Ephemeral: true}
	}
	query := strings.TrimSpace(inv.Args)
	if query == "" {
		return Reply{Content: "Usage: search <words>", Ephemeral: true}
	}
	found, err := c.log.Search(ctx, query, store.SearchOpts{Limit: searchLimit})
	if err != nil {
		slog.Warn("discord: transcript search failed", "query", query, "err", err)
		return Reply{Content: fmt.Sprintf("❌ Search failed: %v", err), Ephemeral: true}
	}
	if len(found) == 0 {
		return Reply{Content: fmt.Sprintf("No transcripts match %q.", query), Ephemeral: true}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 %d result(s) for %q\n", len(found), query)
	for _, t := range found {
		name := t.SpeakerName
		if name == "" {
			name = c.names(t.SpeakerID)
		}
		fmt.Fprintf(&b, "`%s` **%s**: %s\n", t.Timestamp.Format("2006-01-02 15:04"), name, t.Text)
	}
	return Reply{Content: truncate(b.String(), maxMessageLen), Ephemeral: true}
}

// ---- clearall ----

func (c *Commands) clearall(_ context.Context, inv Invocation) Reply {
	if !canManageMessages(inv.BotPermissions) {
		return Reply{Content: "❌ I don't have permission to manage messages in this channel!"}
	}
	deadline := c.now().Add(clearallWindow).Unix()
	arg := fmt.Sprintf("%s:%d", inv.UserID, deadline)
	return Reply{
		Content: fmt.Sprintf("⚠️ **WARNING**: This will delete ALL messages in %s!\nPress ✅ within %d seconds to confirm.",
			c.channelName(inv.ChannelID), int(clearallWindow.Seconds())),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "✅ Confirm", Style: discordgo.DangerButton, CustomID: customClearallConfirm + arg},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: customClearallCancel + arg},
			}},
		},
	}
}

// parseClearallArg splits "{userID}:{unix deadline}".
func parseClearallArg(arg string) (userID string, deadline time.Time, ok bool) {
	userID, ts, found := strings.Cut(arg, ":")
	if !found {
		return "", time.Time{}, false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return userID, time.Unix(sec, 0), true
}

func (c *Commands) clearallConfirm(_ context.Context, inv Invocation, arg string) Reply {
	owner, deadline, ok := parseClearallArg(arg)
	if !ok {
		return Reply{Content: "Malformed confirmation.", Ephemeral: true}
	}
	if owner != inv.UserID {
		return Reply{Content: "Only the user who ran clearall can confirm it.", Ephemeral: true}
	}
	if c.now().After(deadline) {
		return Reply{Content: "❌ Clearall cancelled - no confirmation received.", Update: true}
	}
	name := c.channelName(inv.ChannelID)
	return Reply{
		Content: fmt.Sprintf("🔄 Clearing all messages from %s...", name),
		Update:  true,
		Then: func(ctx context.Context) Reply {
			n, err := Purge(ctx, c.api, inv.ChannelID, c.now())
			if err != nil {
				slog.Error("discord: clear channel failed", "channel_id", inv.ChannelID, "deleted", n, "err", err)
				return Reply{Content: fmt.Sprintf("❌ Failed to clear channel: %v", err)}
			}
			slog.Info("discord: cleared channel", "channel_id", inv.ChannelID, "deleted", n)
			return Reply{Content: fmt.Sprintf("✅ Cleared %d messages from %s", n, name)}
		},
	}
}

func (c *Commands) clearallCancel(_ context.Context, inv Invocation, arg string) Reply {
	owner, _, ok := parseClearallArg(arg)
	if !ok || owner != inv.UserID {
		return Reply{Content: "Only the user who ran clearall can cancel it.", Ephemeral: true}
	}
	return Reply{Content: "❌ Clearall cancelled.", Update: true}
}

func (c *Commands) channelName(channelID string) string {
	ch, err := c.api.Channel(channelID)
	if err != nil || ch == nil || ch.Name == "" {
		return "this channel"
	}
	return "#" + ch.Name
}
