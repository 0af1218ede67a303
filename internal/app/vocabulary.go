package app

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicescribe/internal/discord"
	"github.com/MrWong99/voicescribe/internal/transcript"
)

const (
	memberVocabularyTTL   = 10 * time.Minute
	memberVocabularyLimit = 1000
)

// vocabulary is the correction word list: the configured terms, replaceable
// at runtime, followed by the display names of the voice guild's members.
type vocabulary struct {
	configured atomic.Pointer[[]string]
	members    *memberVocabulary
}

func newVocabulary(terms []string, resolver func() *discord.NameResolver) *vocabulary {
	v := &vocabulary{members: &memberVocabulary{resolver: resolver, ttl: memberVocabularyTTL, now: time.Now}}
	v.Set(terms)
	return v
}

// Set replaces the configured terms.
func (v *vocabulary) Set(terms []string) {
	terms = slices.Clone(terms)
	v.configured.Store(&terms)
}

// Vocabulary returns the merged list as a [transcript.Vocabulary].
func (v *vocabulary) Vocabulary() transcript.Vocabulary {
	return transcript.MergeVocabulary(
		transcript.VocabularyFunc(func(context.Context) []string { return *v.configured.Load() }),
		v.members,
	)
}

// memberVocabulary caches the guild's member names. The cache is refreshed
// after ttl and whenever the resolver changes guild.
type memberVocabulary struct {
	resolver func() *discord.NameResolver
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	source  *discord.NameResolver
	names   []string
	fetched time.Time
}

// Terms implements [transcript.Vocabulary].
func (m *memberVocabulary) Terms(ctx context.Context) []string {
	r := m.resolver()
	if r == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == m.source && m.now().Sub(m.fetched) < m.ttl {
		return m.names
	}
	names, err := r.MemberNames(ctx, memberVocabularyLimit)
	if err != nil {
		slog.Warn("app: list guild members for vocabulary", "err", err)
		if r == m.source {
			return m.names
		}
	}
	m.source = r
	m.names = names
	m.fetched = m.now()
	return names
}
