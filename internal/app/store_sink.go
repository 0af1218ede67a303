package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
	"github.com/MrWong99/voicescribe/pkg/store"
)

// embedTimeout bounds the embeddings call made for one transcript.
const embedTimeout = 10 * time.Second

var _ segment.Sink = (*StoreSink)(nil)

// StoreSink persists every result to the transcript log and, when an index
// and an embeddings provider are set, to the semantic index. Failures are
// logged; the transcript has already reached the other sinks.
type StoreSink struct {
	log      store.TranscriptLog
	index    store.SemanticIndex
	embedder embeddings.Provider
	names    func(userID string) string
	metrics  *observe.Metrics

	sessionID atomic.Pointer[string]
}

// StoreSinkOption configures a [StoreSink].
type StoreSinkOption func(*StoreSink)

// WithIndex enables embedding every stored transcript into idx.
func WithIndex(idx store.SemanticIndex, embedder embeddings.Provider) StoreSinkOption {
	return func(s *StoreSink) {
		s.index = idx
		s.embedder = embedder
	}
}

// WithSpeakerNames resolves the SpeakerName column.
func WithSpeakerNames(fn func(userID string) string) StoreSinkOption {
	return func(s *StoreSink) { s.names = fn }
}

// WithStoreMetrics counts embedding requests on m.
func WithStoreMetrics(m *observe.Metrics) StoreSinkOption {
	return func(s *StoreSink) { s.metrics = m }
}

// NewStoreSink creates a sink writing to log.
func NewStoreSink(log store.TranscriptLog, opts ...StoreSinkOption) *StoreSink {
	s := &StoreSink{log: log}
	for _, o := range opts {
		o(s)
	}
	s.SetSession("")
	return s
}

// SetSession tags subsequent transcripts with sessionID.
func (s *StoreSink) SetSession(sessionID string) {
	s.sessionID.Store(&sessionID)
}

// Session returns the current session ID.
func (s *StoreSink) Session() string { return *s.sessionID.Load() }

// Deliver implements [segment.Sink].
func (s *StoreSink) Deliver(ctx context.Context, r segment.Result) {
	t := store.Transcript{
		SessionID: s.Session(),
		SpeakerID: r.SpeakerID,
		Text:      r.Text,
		RawText:   r.RawText,
		Language:  r.Language,
		Trigger:   string(r.Trigger),
		Timestamp: r.At,
		Duration:  r.Duration,
	}
	if s.names != nil {
		t.SpeakerName = s.names(r.SpeakerID)
	}

	id, err := s.log.Write(ctx, t)
	if err != nil {
		observe.Logger(ctx).Warn("app: store transcript", "speaker_id", r.SpeakerID, "err", err)
		return
	}
	if id == 0 || s.index == nil || s.embedder == nil {
		return
	}
	t.ID = id
	if err := s.indexTranscript(ctx, t); err != nil {
		observe.Logger(ctx).Warn("app: index transcript", "transcript_id", id, "err", err)
	}
}

func (s *StoreSink) indexTranscript(ctx context.Context, t store.Transcript) error {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, t.Text)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			s.metrics.RecordProviderError(ctx, s.embedder.ModelID(), "embeddings")
		}
		s.metrics.RecordProviderRequest(ctx, s.embedder.ModelID(), "embeddings", status)
	}
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	return s.index.IndexChunk(ctx, store.Chunk{
		ID:           fmt.Sprintf("%s-%d", t.SessionID, t.ID),
		TranscriptID: t.ID,
		SessionID:    t.SessionID,
		SpeakerID:    t.SpeakerID,
		Content:      t.Text,
		Embedding:    vec,
		Timestamp:    t.Timestamp,
	})
}
