package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/pkg/store"
	"github.com/MrWong99/voicescribe/pkg/store/mock"
)

func TestLog_RecentAndSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := &mock.Log{}
	base := time.Unix(1_700_000_000, 0)
	for i, text := range []string{"Roll for initiative", "the goblin attacks", "I roll a twenty"} {
		if _, err := l.Write(ctx, store.Transcript{SpeakerID: "1", Text: text, Timestamp: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	recent, err := l.Recent(ctx, store.SearchOpts{Limit: 2})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Text != "the goblin attacks" || recent[1].ID != 3 {
		t.Errorf("Recent = %+v", recent)
	}

	hits, err := l.Search(ctx, "ROLL", store.SearchOpts{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("Search(ROLL) returned %d, want 2", len(hits))
	}

	l.WriteErr = errors.New("boom")
	if _, err := l.Write(ctx, store.Transcript{}); err == nil {
		t.Error("expected WriteErr")
	}
	if n := len(l.Entries()); n != 3 {
		t.Errorf("Entries = %d, want 3", n)
	}
}

func TestIndex_Search(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	x := &mock.Index{}
	_ = x.IndexChunk(ctx, store.Chunk{ID: "x", Embedding: []float32{1, 0}})
	_ = x.IndexChunk(ctx, store.Chunk{ID: "y", Embedding: []float32{0, 1}})

	res, err := x.Search(ctx, []float32{0, 2}, 1, store.ChunkFilter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Chunk.ID != "y" || res[0].Distance > 1e-9 {
		t.Errorf("Search = %+v, want y at distance 0", res)
	}
}
