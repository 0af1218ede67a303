package discord

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// commandTimeout bounds a single command run, including its follow-up.
const commandTimeout = 2 * time.Minute

// Invocation describes one command call, from a slash command, a prefix
// message or a button press.
type Invocation struct {
	GuildID   string
	ChannelID string
	UserID    string

	// Args is the free text after the command name. For slash commands it is
	// the value of the "query" option, if any.
	Args string

	// BotPermissions are the bot's permissions in ChannelID. -1 when unknown.
	BotPermissions int64
}

// Reply is what a handler answers with.
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent

	// Ephemeral hides an interaction reply from everyone but the caller.
	// Ignored for prefix commands.
	Ephemeral bool

	// Update edits the message carrying the pressed button instead of sending
	// a new one. Only meaningful for component handlers.
	Update bool

	// Then runs after the reply was sent; a non-empty result is posted to the
	// invocation's channel.
	Then func(ctx context.Context) Reply
}

func (r Reply) empty() bool {
	return r.Content == "" && len(r.Embeds) == 0 && len(r.Components) == 0
}

// Command is a bot command reachable as a slash command and, when Prefix is
// set, as a prefix message ("!name args").
type Command struct {
	Definition *discordgo.ApplicationCommand
	Prefix     bool
	Run        func(ctx context.Context, inv Invocation) Reply
}

// ComponentFunc handles a button press. arg is the custom ID suffix after
// the registered prefix.
type ComponentFunc func(ctx context.Context, inv Invocation, arg string) Reply

// CommandRouter dispatches interactions and prefix messages to registered
// handlers.
type CommandRouter struct {
	prefix string

	// permissions reports the bot's permissions in a channel for prefix
	// commands. Interactions carry them.
	permissions func(channelID string) (int64, error)

	mu         sync.RWMutex
	commands   map[string]Command       // name → command
	components map[string]ComponentFunc // custom_id prefix → handler

	wg sync.WaitGroup
}

// NewCommandRouter creates an empty router. An empty prefix disables prefix
// commands.
func NewCommandRouter(prefix string) *CommandRouter {
	return &CommandRouter{
		prefix:     prefix,
		commands:   make(map[string]Command),
		components: make(map[string]ComponentFunc),
	}
}

// SetPermissions installs the channel permission lookup used for prefix
// commands.
func (r *CommandRouter) SetPermissions(fn func(channelID string) (int64, error)) {
	r.permissions = fn
}

// Register adds cmd under its definition name.
func (r *CommandRouter) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Definition.Name] = cmd
}

// RegisterComponent registers a handler for every button whose custom_id
// starts with prefix.
func (r *CommandRouter) RegisterComponent(prefix string, handler ComponentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[prefix] = handler
}

// ApplicationCommands returns the command definitions for registration with
// the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c.Definition)
	}
	return cmds
}

// Wait blocks until all follow-ups started by the router have finished.
func (r *CommandRouter) Wait() { r.wg.Wait() }

// Handle dispatches an interaction to the appropriate handler.
func (r *CommandRouter) Handle(api API, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.handleApplicationCommand(api, i)
	case discordgo.InteractionMessageComponent:
		r.handleComponent(api, i)
	default:
		slog.Debug("discord: unhandled interaction type", "type", i.Type)
	}
}

func (r *CommandRouter) handleApplicationCommand(api API, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	r.mu.RLock()
	cmd, ok := r.commands[data.Name]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "name", data.Name)
		respond(api, i, Reply{Content: "Unknown command.", Ephemeral: true}, false)
		return
	}

	inv := interactionInvocation(i)
	for _, opt := range data.Options {
		if opt.Name == "query" {
			inv.Args = opt.StringValue()
		}
	}
	r.run(api, inv, func(ctx context.Context) Reply { return cmd.Run(ctx, inv) }, func(rep Reply) {
		respond(api, i, rep, false)
	})
}

func (r *CommandRouter) handleComponent(api API, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	r.mu.RLock()
	var (
		handler ComponentFunc
		arg     string
	)
	for prefix, h := range r.components {
		if rest, ok := strings.CutPrefix(customID, prefix); ok {
			handler, arg = h, rest
			break
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		slog.Warn("discord: unknown component", "custom_id", customID)
		respond(api, i, Reply{Content: "Unknown component.", Ephemeral: true}, false)
		return
	}
	inv := interactionInvocation(i)
	r.run(api, inv, func(ctx context.Context) Reply { return handler(ctx, inv, arg) }, func(rep Reply) {
		respond(api, i, rep, rep.Update)
	})
}

// HandleMessage runs a prefix command if m starts with the router's prefix.
func (r *CommandRouter) HandleMessage(api API, m *discordgo.MessageCreate) {
	if r.prefix == "" || m.Author == nil || m.Author.Bot {
		return
	}
	body, ok := strings.CutPrefix(m.Content, r.prefix)
	if !ok {
		return
	}
	name, args, _ := strings.Cut(strings.TrimSpace(body), " ")
	name = strings.ToLower(name)

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()
	if !ok || !cmd.Prefix {
		return
	}

	inv := Invocation{
		GuildID:        m.GuildID,
		ChannelID:      m.ChannelID,
		UserID:         m.Author.ID,
		Args:           strings.TrimSpace(args),
		BotPermissions: -1,
	}
	if r.permissions != nil {
		if p, err := r.permissions(m.ChannelID); err == nil {
			inv.BotPermissions = p
		}
	}
	r.run(api, inv, func(ctx context.Context) Reply { return cmd.Run(ctx, inv) }, func(rep Reply) {
		send(api, inv.ChannelID, rep)
	})
}

// run executes handler, delivers its reply and schedules the follow-up.
func (r *CommandRouter) run(api API, inv Invocation, handler func(context.Context) Reply, deliver func(Reply)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	rep := handler(ctx)
	deliver(rep)
	if rep.Then == nil {
		cancel()
		return
	}
	r.wg.Go(func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("discord: command follow-up panicked", "panic", p)
			}
		}()
		if next := rep.Then(ctx); !next.empty() {
			send(api, inv.ChannelID, next)
		}
	})
}

func interactionInvocation(i *discordgo.InteractionCreate) Invocation {
	return Invocation{
		GuildID:        i.GuildID,
		ChannelID:      i.ChannelID,
		UserID:         interactionUserID(i),
		BotPermissions: i.AppPermissions,
	}
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
