package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voicescribe/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const inputChannelBuffer = 64

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It decodes incoming Opus packets per SSRC and
// demuxes them into per-speaker PCM input streams keyed by Discord user ID.
//
// Discord announces the SSRC → user binding through speaking updates. Audio
// from an SSRC that has not been announced yet is keyed "ssrc:<n>"; once the
// binding arrives that provisional stream is closed and later packets flow to
// the user's stream.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	inputsMu   sync.RWMutex
	inputs     map[string]chan audio.AudioFrame // keyed by speaker ID
	ssrcUser   map[uint32]string                // SSRC -> user ID from speaking updates
	ssrcStream map[uint32]string                // SSRC -> key of the stream it feeds

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		ssrcStream:   make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	return c
}

// InputStreams returns a snapshot of the current per-speaker audio channels.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OnParticipantChange registers cb as the callback for lifecycle events.
// Only one callback may be registered; subsequent calls replace the previous one.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect cleanly tears down the voice connection and stops all background
// goroutines. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		// Close all input channels so downstream consumers see EOF.
		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection, decodes them
// per SSRC, and delivers AudioFrames to the speaker's input channel.
func (c *Connection) recvLoop() {
	decoders := newDecoderSet()

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			pcm, err := decoders.decode(pkt.SSRC, pkt.Sequence, pkt.Opus)
			if err != nil {
				slog.Warn("discord: dropping undecodable packet", "ssrc", pkt.SSRC, "err", err)
				decoders.forget(pkt.SSRC)
				continue
			}

			frame := audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			speakerID, created, ok := c.deliver(pkt.SSRC, frame)
			if !ok {
				return // disconnected concurrently
			}
			if created {
				c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: speakerID})
			}
		}
	}
}

// deliver routes frame to the input channel fed by ssrc, creating the channel
// on first use. The send is non-blocking and happens under inputsMu so it can
// never race with a stream being closed; a full channel drops the frame.
func (c *Connection) deliver(ssrc uint32, frame audio.AudioFrame) (speakerID string, created, ok bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()

	select {
	case <-c.done:
		return "", false, false
	default:
	}

	key, bound := c.ssrcStream[ssrc]
	ch, exists := c.inputs[key]
	if !bound || !exists {
		var known bool
		key, known = c.ssrcUser[ssrc]
		if !known {
			key = provisionalKey(ssrc)
		}
		ch, exists = c.inputs[key]
		if !exists {
			ch = make(chan audio.AudioFrame, inputChannelBuffer)
			c.inputs[key] = ch
			created = true
		}
		c.ssrcStream[ssrc] = key
	}

	select {
	case ch <- frame:
	default:
	}
	return key, created, true
}

// handleSpeakingUpdate records the SSRC → user binding Discord announces when a
// user starts speaking. A provisional stream for the SSRC is closed so its
// consumer finalises what it buffered.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)

	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()

	c.ssrcUser[ssrc] = vs.UserID
	key, bound := c.ssrcStream[ssrc]
	if !bound || key == vs.UserID {
		return
	}
	delete(c.ssrcStream, ssrc)
	if ch, ok := c.inputs[key]; ok && key == provisionalKey(ssrc) {
		close(ch)
		delete(c.inputs, key)
	}
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves for the voice channel this connection is on,
// and the bot itself being removed from it.
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}

	channelID := c.vc.ChannelID

	if botID := selfID(s); botID != "" && vsu.UserID == botID {
		if vsu.ChannelID != channelID {
			c.emitEvent(audio.Event{Type: audio.EventDisconnected})
		}
		return
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID

	switch {
	case wasHere && !isHere:
		c.closeStream(vsu.UserID)
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: memberName(vsu.Member)})
	case isHere && !wasHere:
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: memberName(vsu.Member)})
	}
}

// closeStream closes the input stream of a departed user, if any.
func (c *Connection) closeStream(userID string) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	if ch, ok := c.inputs[userID]; ok {
		close(ch)
		delete(c.inputs, userID)
	}
	for ssrc, key := range c.ssrcStream {
		if key == userID {
			delete(c.ssrcStream, ssrc)
		}
	}
}

// emitEvent safely invokes the registered participant change callback.
func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}

// SSRCToUserID returns the user ID announced for the given SSRC, if known.
// Returns an empty string if the SSRC has not been bound yet.
func (c *Connection) SSRCToUserID(ssrc uint32) string {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	return c.ssrcUser[ssrc]
}

func provisionalKey(ssrc uint32) string {
	return audio.ProvisionalPrefix + strconv.FormatUint(uint64(ssrc), 10)
}

func selfID(s *discordgo.Session) string {
	if s == nil || s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

// memberName returns the best display name carried by a voice state update.
func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
