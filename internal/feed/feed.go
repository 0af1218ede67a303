// Package feed broadcasts transcription results to websocket subscribers.
//
// Each subscriber gets a small outbound queue. A subscriber that cannot keep
// up is disconnected instead of slowing down delivery for everyone else.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/segment"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
)

// Message is the JSON document sent for every result.
type Message struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id,omitempty"`
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Text        string  `json:"text"`
	RawText     string  `json:"raw_text,omitempty"`
	Language    string  `json:"language,omitempty"`
	Duration    float64 `json:"duration"`
	Trigger     string  `json:"trigger"`
	Timestamp   string  `json:"timestamp"`
}

// NameFunc resolves a speaker ID to a display name.
type NameFunc func(ctx context.Context, speakerID string) string

// Option configures a [Hub].
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue length. Default: 64.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithOriginPatterns allows cross-origin subscribers matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithNames resolves speaker names for outgoing messages.
func WithNames(f NameFunc) Option {
	return func(h *Hub) { h.names = f }
}

// WithSessionID tags every message with id.
func WithSessionID(id string) Option {
	return func(h *Hub) { h.sessionID = id }
}

// WithMetrics tracks the subscriber count on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

type subscriber struct {
	msgs   chan Message
	cancel context.CancelFunc
}

// Hub is a [segment.Sink] and an [http.Handler]. Serve it on a path; every
// delivered result is sent to all connected clients.
type Hub struct {
	queueSize int
	origins   []string
	names     NameFunc
	sessionID string
	metrics   *observe.Metrics

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		queueSize: defaultQueueSize,
		subs:      make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Deliver implements [segment.Sink]. It never blocks on a subscriber.
func (h *Hub) Deliver(ctx context.Context, r segment.Result) {
	msg := Message{
		Type:      "transcript",
		SessionID: h.sessionID,
		SpeakerID: r.SpeakerID,
		Text:      r.Text,
		RawText:   r.RawText,
		Language:  r.Language,
		Duration:  r.Duration.Seconds(),
		Trigger:   string(r.Trigger),
		Timestamp: r.At.UTC().Format(time.RFC3339Nano),
	}
	if h.names != nil {
		msg.SpeakerName = h.names(ctx, r.SpeakerID)
	}
	h.Broadcast(msg)
}

// Broadcast queues msg for every subscriber. Subscribers with a full queue
// are disconnected.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.msgs <- msg:
		default:
			slog.Warn("feed: subscriber too slow, disconnecting")
			h.removeLocked(s)
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams messages until
// the client goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Debug("feed: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &subscriber{msgs: make(chan Message, h.queueSize), cancel: cancel}
	if !h.add(s) {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(s)

	slog.Debug("feed: subscriber connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "")
			return
		case msg := <-s.msgs:
			wctx, wcancel := context.WithTimeout(ctx, defaultWriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				slog.Debug("feed: write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s)
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	if h.metrics != nil {
		h.metrics.FeedSubscribers.Add(context.Background(), 1)
	}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.cancel()
	if h.metrics != nil {
		h.metrics.FeedSubscribers.Add(context.Background(), -1)
	}
}

var (
	_ segment.Sink  = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)
