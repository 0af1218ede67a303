package app

import (
	"context"
	"time"

	"github.com/MrWong99/voicescribe/internal/discord"
	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// timedGateway records the latency and outcome of every transcription in the
// bot's status statistics.
type timedGateway struct {
	next  segment.Gateway
	stats *discord.Stats
}

func (g timedGateway) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	start := time.Now()
	res, err := g.next.Transcribe(ctx, wav, hints)
	g.stats.RecordSTT(time.Since(start), err)
	return res, err
}
