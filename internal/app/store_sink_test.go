package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/internal/app"
	"github.com/MrWong99/voicescribe/internal/segment"
	embmock "github.com/MrWong99/voicescribe/pkg/provider/embeddings/mock"
	storemock "github.com/MrWong99/voicescribe/pkg/store/mock"
)

func testResult(text string) segment.Result {
	return segment.Result{
		SpeakerID: "111111111111111111",
		Text:      text,
		RawText:   text + " (raw)",
		Duration:  2 * time.Second,
		Trigger:   segment.TriggerTimeout,
		At:        time.Date(2026, 3, 1, 20, 16, 0, 0, time.UTC),
		Language:  "de",
	}
}

func TestStoreSink_WritesTranscript(t *testing.T) {
	t.Parallel()

	log := &storemock.Log{}
	sink := app.NewStoreSink(log, app.WithSpeakerNames(func(id string) string { return "Alice" }))
	sink.SetSession("session-v1-20260301T201500Z")

	sink.Deliver(context.Background(), testResult("hallo zusammen"))

	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("stored %d transcripts, want 1", len(entries))
	}
	got := entries[0]
	if got.SessionID != "session-v1-20260301T201500Z" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if got.SpeakerName != "Alice" || got.SpeakerID != "111111111111111111" {
		t.Errorf("speaker = %q/%q", got.SpeakerID, got.SpeakerName)
	}
	if got.Text != "hallo zusammen" || got.RawText != "hallo zusammen (raw)" {
		t.Errorf("text = %q raw = %q", got.Text, got.RawText)
	}
	if got.Trigger != "timeout" || got.Language != "de" || got.Duration != 2*time.Second {
		t.Errorf("metadata = %q/%q/%v", got.Trigger, got.Language, got.Duration)
	}
}

func TestStoreSink_IndexesWithEmbeddings(t *testing.T) {
	t.Parallel()

	log := &storemock.Log{}
	idx := &storemock.Index{}
	emb := &embmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
	sink := app.NewStoreSink(log, app.WithIndex(idx, emb))
	sink.SetSession("s1")

	sink.Deliver(context.Background(), testResult("first"))
	sink.Deliver(context.Background(), testResult("second"))

	chunks := idx.Chunks()
	if len(chunks) != 2 {
		t.Fatalf("indexed %d chunks, want 2", len(chunks))
	}
	if chunks[1].ID != "s1-2" || chunks[1].TranscriptID != 2 {
		t.Errorf("chunk = %s/%d, want s1-2/2", chunks[1].ID, chunks[1].TranscriptID)
	}
	if chunks[0].Content != "first" || len(chunks[0].Embedding) != 3 {
		t.Errorf("chunk content = %q, dims = %d", chunks[0].Content, len(chunks[0].Embedding))
	}
	if calls := emb.Calls(); len(calls) != 2 || calls[0] != "first" {
		t.Errorf("embedded %v", calls)
	}
}

func TestStoreSink_Failures(t *testing.T) {
	t.Parallel()

	t.Run("write error skips index", func(t *testing.T) {
		t.Parallel()
		log := &storemock.Log{WriteErr: errors.New("db down")}
		idx := &storemock.Index{}
		emb := &embmock.Provider{EmbedResult: []float32{1}}
		app.NewStoreSink(log, app.WithIndex(idx, emb)).Deliver(context.Background(), testResult("x"))
		if len(emb.Calls()) != 0 || len(idx.Chunks()) != 0 {
			t.Error("nothing should be embedded when the write fails")
		}
	})

	t.Run("embed error keeps transcript", func(t *testing.T) {
		t.Parallel()
		log := &storemock.Log{}
		idx := &storemock.Index{}
		emb := &embmock.Provider{EmbedErr: errors.New("quota")}
		app.NewStoreSink(log, app.WithIndex(idx, emb)).Deliver(context.Background(), testResult("x"))
		if len(log.Entries()) != 1 {
			t.Error("transcript should be stored despite the embedding failure")
		}
		if len(idx.Chunks()) != 0 {
			t.Error("no chunk expected after embedding failure")
		}
	})
}
