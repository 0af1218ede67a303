package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/segment"
)

const defaultCorrectionTimeout = 10 * time.Second

// Vocabulary supplies the terms to correct towards. It is consulted once per
// result so member lists can change while the bot runs.
type Vocabulary interface {
	Terms(ctx context.Context) []string
}

// StaticVocabulary is a fixed term list.
type StaticVocabulary []string

// Terms returns v.
func (v StaticVocabulary) Terms(context.Context) []string { return v }

// VocabularyFunc adapts a function to [Vocabulary].
type VocabularyFunc func(ctx context.Context) []string

// Terms calls f(ctx).
func (f VocabularyFunc) Terms(ctx context.Context) []string { return f(ctx) }

// MergeVocabulary combines sources, dropping blanks and case-insensitive
// duplicates. Earlier sources win on spelling.
func MergeVocabulary(sources ...Vocabulary) Vocabulary {
	return VocabularyFunc(func(ctx context.Context) []string {
		seen := make(map[string]struct{})
		var out []string
		for _, s := range sources {
			if s == nil {
				continue
			}
			for _, t := range s.Terms(ctx) {
				t = strings.TrimSpace(t)
				k := strings.ToLower(t)
				if t == "" {
					continue
				}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				out = append(out, t)
			}
		}
		return out
	})
}

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithTimeout bounds the time spent correcting one result. Default: 10s.
func WithTimeout(d time.Duration) CorrectorOption {
	return func(c *Corrector) { c.timeout = d }
}

// WithMetrics records correction latency on m.
func WithMetrics(m *observe.Metrics) CorrectorOption {
	return func(c *Corrector) { c.metrics = m }
}

// WithObserver calls fn with the duration of every correction attempt.
func WithObserver(fn func(time.Duration)) CorrectorOption {
	return func(c *Corrector) { c.onLatency = fn }
}

// Corrector is a [segment.Sink] decorator that corrects every result before
// passing it on. A result is always delivered: when correction fails the
// uncorrected text goes through.
type Corrector struct {
	next      segment.Sink
	pipeline  *Pipeline
	vocab     Vocabulary
	timeout   time.Duration
	metrics   *observe.Metrics
	onLatency func(time.Duration)
}

// NewCorrector wraps next.
func NewCorrector(next segment.Sink, p *Pipeline, vocab Vocabulary, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		next:     next,
		pipeline: p,
		vocab:    vocab,
		timeout:  defaultCorrectionTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Deliver implements [segment.Sink].
func (c *Corrector) Deliver(ctx context.Context, r segment.Result) {
	if c.pipeline != nil && c.pipeline.Enabled() && c.vocab != nil {
		r = c.correct(ctx, r)
	}
	c.next.Deliver(ctx, r)
}

func (c *Corrector) correct(ctx context.Context, r segment.Result) segment.Result {
	terms := c.vocab.Terms(ctx)
	if len(terms) == 0 {
		return r
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.pipeline.Correct(cctx, r.Text, terms)
	took := time.Since(start)
	if c.metrics != nil && c.pipeline.llm != nil {
		c.metrics.LLMDuration.Record(ctx, took.Seconds())
	}
	if c.onLatency != nil {
		c.onLatency(took)
	}
	if err != nil {
		observe.Logger(ctx).Warn("transcript: correction failed, delivering original",
			"speaker_id", r.SpeakerID, "err", err)
		return r
	}

	text := strings.TrimSpace(out.Text)
	if text == "" || text == r.Text {
		return r
	}
	observe.Logger(ctx).Debug("transcript: corrected",
		"speaker_id", r.SpeakerID, "corrections", len(out.Corrections))
	r.RawText = r.Text
	r.Text = text
	return r
}

var _ segment.Sink = (*Corrector)(nil)
