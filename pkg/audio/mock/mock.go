// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	ch := conn.AddStream("user-1", 16)
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "channel-42")
//	ch <- audio.AudioFrame{...}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicescribe/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams]. Streams added
	// with [Connection.AddStream] are merged in.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountOnParticipantChange records how many times OnParticipantChange was called.
	CallCountOnParticipantChange int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(audio.Event)

	streams map[string]chan audio.AudioFrame
}

// AddStream creates a buffered input stream for speakerID and returns its
// write side. The stream is visible to subsequent InputStreams calls and is
// closed by Disconnect.
func (c *Connection) AddStream(speakerID string, buffer int) chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams == nil {
		c.streams = make(map[string]chan audio.AudioFrame)
	}
	ch := make(chan audio.AudioFrame, buffer)
	c.streams[speakerID] = ch
	return ch
}

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	out := make(map[string]<-chan audio.AudioFrame, len(c.InputStreamsResult)+len(c.streams))
	for id, ch := range c.InputStreamsResult {
		out[id] = ch
	}
	for id, ch := range c.streams {
		out[id] = ch
	}
	return out
}

// OnParticipantChange implements [audio.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnParticipantChange++
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Disconnect implements [audio.Connection]. Closes streams created by
// AddStream on the first call and returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	for id, ch := range c.streams {
		close(ch)
		delete(c.streams, id)
	}
	return c.DisconnectError
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// EmitEvent calls all registered participant-change callbacks with the given event.
// Use this in tests to simulate participants joining or leaving.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect once
	// ConnectQueue is exhausted.
	ConnectResult audio.Connection

	// ConnectQueue, when non-empty, supplies the result of successive Connect
	// calls in order.
	ConnectQueue []audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns the next
// queued connection, ConnectResult, or ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if len(p.ConnectQueue) > 0 {
		conn := p.ConnectQueue[0]
		p.ConnectQueue = p.ConnectQueue[1:]
		return conn, nil
	}
	return p.ConnectResult, nil
}

// Calls returns the number of Connect invocations so far.
func (p *Platform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// SetConnectError replaces ConnectError under the mock's lock.
func (p *Platform) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectError = err
}
