// Package mock provides test doubles for the Discord REST surface.
package mock

import (
	"errors"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// ErrNotFound is returned for unknown channels, members and users.
var ErrNotFound = errors.New("mock: not found")

// Session is an in-memory implementation of the bot's Discord API. Fields
// ending in Err are injected errors; set them before use. All recorded calls
// are safe to read through the accessor methods while handlers run.
type Session struct {
	mu sync.Mutex

	// Channels holds GuildChannels results per guild ID. Channel looks IDs up
	// across all guilds.
	Channels map[string][]*discordgo.Channel

	// Members holds guild members per guild ID in ascending user ID order.
	Members map[string][]*discordgo.Member

	// Users holds users returned by User.
	Users map[string]*discordgo.User

	// Messages holds channel history per channel ID, newest first.
	Messages map[string][]*discordgo.Message

	ChannelsErr error
	MemberErr   error
	SendErr     error
	DeleteErr   error
	RespondErr  error

	sent       []SentMessage
	responses  []*discordgo.InteractionResponse
	bulkCalls  [][]string
	singleDels []string
	memberReqs int
}

// SentMessage is one recorded outgoing message.
type SentMessage struct {
	ChannelID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
}

// Channel returns the channel with channelID.
func (s *Session) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chans := range s.Channels {
		for _, c := range chans {
			if c.ID == channelID {
				return c, nil
			}
		}
	}
	return nil, ErrNotFound
}

// GuildChannels returns the channels configured for guildID.
func (s *Session) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ChannelsErr != nil {
		return nil, s.ChannelsErr
	}
	return s.Channels[guildID], nil
}

// GuildMember returns the member userID of guildID.
func (s *Session) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberReqs++
	if s.MemberErr != nil {
		return nil, s.MemberErr
	}
	for _, m := range s.Members[guildID] {
		if m.User != nil && m.User.ID == userID {
			return m, nil
		}
	}
	return nil, ErrNotFound
}

// GuildMembers pages through the members of guildID after the given user ID.
func (s *Session) GuildMembers(guildID, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MemberErr != nil {
		return nil, s.MemberErr
	}
	all := s.Members[guildID]
	start := 0
	if after != "" {
		start = len(all)
		for i, m := range all {
			if m.User != nil && m.User.ID == after {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	return slices.Clone(all[start:end]), nil
}

// User returns the user with userID.
func (s *Session) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.Users[userID]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

// ChannelMessageSend records a plain message.
func (s *Session) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	return s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: content})
}

// ChannelMessageSendComplex records a message.
func (s *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	s.sent = append(s.sent, SentMessage{ChannelID: channelID, Content: data.Content, Embeds: data.Embeds})
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID, Content: data.Content}, nil
}

// ChannelMessages returns up to limit messages older than beforeID.
func (s *Session) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.Messages[channelID]
	start := 0
	if beforeID != "" {
		start = len(all)
		for i, m := range all {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	return slices.Clone(all[start:end]), nil
}

// ChannelMessageDelete records a single delete.
func (s *Session) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.singleDels = append(s.singleDels, messageID)
	return nil
}

// ChannelMessagesBulkDelete records a bulk delete.
func (s *Session) ChannelMessagesBulkDelete(_ string, messages []string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.bulkCalls = append(s.bulkCalls, slices.Clone(messages))
	return nil
}

// InteractionRespond records the response and returns RespondErr.
func (s *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return s.RespondErr
}

// Sent returns all recorded outgoing messages.
func (s *Session) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// Responses returns all recorded interaction responses.
func (s *Session) Responses() []*discordgo.InteractionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.responses)
}

// LastResponse returns the most recently recorded response, or nil.
func (s *Session) LastResponse() *discordgo.InteractionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil
	}
	return s.responses[len(s.responses)-1]
}

// BulkDeletes returns the ID batches passed to ChannelMessagesBulkDelete.
func (s *Session) BulkDeletes() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bulkCalls)
}

// SingleDeletes returns the IDs passed to ChannelMessageDelete.
func (s *Session) SingleDeletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.singleDels)
}

// MemberRequests returns how often GuildMember was called.
func (s *Session) MemberRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberReqs
}
