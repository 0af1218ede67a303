// Package audio defines the voice platform abstractions and the pure PCM
// transforms used by the voicescribe ingestion path.
//
// The two platform abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] is an active receive-only session on that channel, giving
//     callers per-speaker input streams and lifecycle events.
//
// The transforms ([ToMono], [ToContainer], [EncodeWAV], [DecodeWAV], [RMS])
// are stateless and safe to call from any goroutine.
package audio

import (
	"context"
	"strings"
)

// EventType classifies lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel or a new
	// speaker stream appears.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave

	// EventDisconnected is emitted when the connection itself was dropped by the
	// platform (kicked, moved, voice server change). Receivers typically hand
	// this to a reconnector.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
// Callbacks registered via [Connection.OnParticipantChange] receive values of this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	// Empty for [EventDisconnected].
	UserID string

	// Username is the human-readable name of the participant, if known.
	Username string
}

// ProvisionalPrefix starts the speaker ID of a stream whose user is not known
// yet. The stream is closed once the platform learns the user, and audio
// continues on a stream keyed by the user ID.
const ProvisionalPrefix = "ssrc:"

// IsProvisional reports whether speakerID is a provisional stream key.
func IsProvisional(speakerID string) bool {
	return strings.HasPrefix(speakerID, ProvisionalPrefix)
}

// Connection represents an active receive session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. All channels returned by
// [Connection] methods are closed automatically when the connection
// terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-speaker audio channels.
	// The map key is the speaker ID; the value is a read-only channel that
	// delivers [AudioFrame] values as they arrive from that speaker.
	//
	// Callers should call InputStreams again after receiving an [EventJoin] event
	// to pick up newly added channels.
	InputStreams() map[string]<-chan AudioFrame

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves, or the connection is dropped. Only one
	// callback may be registered at a time; subsequent calls replace the
	// previous registration. The callback is invoked on an internal goroutine.
	OnParticipantChange(cb func(Event))

	// Disconnect cleanly tears down the connection and closes all input
	// channels. It is safe to call Disconnect more than once; subsequent calls
	// are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID and returns an
	// active [Connection]. The supplied ctx governs the connection attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
