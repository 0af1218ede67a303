package discord_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voicescribe/internal/discord"
	"github.com/MrWong99/voicescribe/internal/discord/mock"
)

func history(n int, age func(i int) time.Duration) []*discordgo.Message {
	msgs := make([]*discordgo.Message, n)
	for i := range msgs {
		msgs[i] = &discordgo.Message{ID: fmt.Sprintf("m%03d", i), Timestamp: testNow.Add(-age(i))}
	}
	return msgs
}

func TestPurge_Pages(t *testing.T) {
	t.Parallel()
	// 250 recent messages: three pages, the last with 50.
	api := &mock.Session{Messages: map[string][]*discordgo.Message{
		"c1": history(250, func(int) time.Duration { return time.Minute }),
	}}

	n, err := discord.Purge(context.Background(), api, "c1", testNow)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 250 {
		t.Errorf("deleted = %d, want 250", n)
	}
	bulk := api.BulkDeletes()
	if len(bulk) != 3 || len(bulk[0]) != 100 || len(bulk[2]) != 50 {
		t.Errorf("bulk batches = %d, want 3 (100, 100, 50)", len(bulk))
	}
	if len(api.SingleDeletes()) != 0 {
		t.Error("recent messages deleted one by one")
	}
}

func TestPurge_OldAndSingleMessages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		msgs       []*discordgo.Message
		wantBulk   int
		wantSingle int
	}{
		{
			name:       "all older than two weeks",
			msgs:       history(3, func(int) time.Duration { return 15 * 24 * time.Hour }),
			wantSingle: 3,
		},
		{
			name:       "single recent message",
			msgs:       history(1, func(int) time.Duration { return time.Second }),
			wantSingle: 1,
		},
		{
			name: "mixed",
			msgs: history(4, func(i int) time.Duration {
				if i < 2 {
					return time.Hour
				}
				return 20 * 24 * time.Hour
			}),
			wantBulk:   1,
			wantSingle: 2,
		},
		{name: "empty channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &mock.Session{Messages: map[string][]*discordgo.Message{"c1": tt.msgs}}
			n, err := discord.Purge(context.Background(), api, "c1", testNow)
			if err != nil {
				t.Fatalf("Purge: %v", err)
			}
			if n != len(tt.msgs) {
				t.Errorf("deleted = %d, want %d", n, len(tt.msgs))
			}
			if got := len(api.BulkDeletes()); got != tt.wantBulk {
				t.Errorf("bulk calls = %d, want %d", got, tt.wantBulk)
			}
			if got := len(api.SingleDeletes()); got != tt.wantSingle {
				t.Errorf("single deletes = %d, want %d", got, tt.wantSingle)
			}
		})
	}
}

func TestPurge_DeleteError(t *testing.T) {
	t.Parallel()
	api := &mock.Session{
		Messages:  map[string][]*discordgo.Message{"c1": history(5, func(int) time.Duration { return time.Minute })},
		DeleteErr: errors.New("missing access"),
	}
	n, err := discord.Purge(context.Background(), api, "c1", testNow)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if n != 0 {
		t.Errorf("deleted = %d, want 0", n)
	}
}

func TestPurge_CancelledContext(t *testing.T) {
	t.Parallel()
	api := &mock.Session{Messages: map[string][]*discordgo.Message{"c1": history(5, func(int) time.Duration { return time.Minute })}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := discord.Purge(ctx, api, "c1", testNow); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
