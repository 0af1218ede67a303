package transcript_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicescribe/internal/segment"
	"github.com/MrWong99/voicescribe/internal/transcript"
	"github.com/MrWong99/voicescribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voicescribe/internal/transcript/phonetic"
	"github.com/MrWong99/voicescribe/pkg/provider/llm"
	"github.com/MrWong99/voicescribe/pkg/provider/llm/mock"
)

// recordingSink collects delivered results.
type recordingSink struct {
	mu      sync.Mutex
	results []segment.Result
}

func (s *recordingSink) Deliver(_ context.Context, r segment.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) all() []segment.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

func llmAnswer(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

// ---- Pipeline ----

func TestPipeline_PhoneticOnly(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	out, err := p.Correct(context.Background(), "I think elder nacks is right.", []string{"Eldrinax", "Grimjaw"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "I think Eldrinax is right." {
		t.Errorf("Text = %q", out.Text)
	}
	if len(out.Corrections) != 1 {
		t.Fatalf("got %d corrections, want 1: %+v", len(out.Corrections), out.Corrections)
	}
	c := out.Corrections[0]
	if c.Original != "elder nacks" || c.Corrected != "Eldrinax" || c.Method != transcript.MethodPhonetic {
		t.Errorf("correction = %+v", c)
	}
}

func TestPipeline_KeepsTrailingPunctuation(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	out, err := p.Correct(context.Background(), "meet me at the tower of wispers.", []string{"Tower of Whispers"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "meet me at the Tower of Whispers." {
		t.Errorf("Text = %q", out.Text)
	}
}

func TestPipeline_BothStages(t *testing.T) {
	t.Parallel()

	provider := llmAnswer(`{"corrected_text": "Eldrinax restarted Kubernetes", "corrections": [
		{"original": "cube er nettis", "corrected": "Kubernetes", "confidence": 0.9}]}`)
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithLLMCorrector(llmcorrect.New(provider)),
	)

	out, err := p.Correct(context.Background(), "elder nacks restarted cube er nettis", []string{"Eldrinax", "Kubernetes"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "Eldrinax restarted Kubernetes" {
		t.Errorf("Text = %q", out.Text)
	}

	// The LLM stage sees the phonetic output.
	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req.Messages[0].Content; got != "Eldrinax restarted cube er nettis" {
		t.Errorf("LLM input = %q, want phonetic-corrected text", got)
	}

	methods := make([]string, 0, len(out.Corrections))
	for _, c := range out.Corrections {
		methods = append(methods, c.Method)
	}
	if !slices.Equal(methods, []string{transcript.MethodPhonetic, transcript.MethodLLM}) {
		t.Errorf("methods = %v", methods)
	}
}

func TestPipeline_NoVocabulary(t *testing.T) {
	t.Parallel()

	provider := llmAnswer(`{}`)
	p := transcript.NewPipeline(transcript.WithLLMCorrector(llmcorrect.New(provider)))
	out, err := p.Correct(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if out.Text != "hello there" || out.Corrections == nil || len(out.Corrections) != 0 {
		t.Errorf("Correct = %+v, want unchanged with empty non-nil corrections", out)
	}
	if len(provider.Calls()) != 0 {
		t.Error("LLM should not be called without vocabulary")
	}
}

func TestPipeline_Enabled(t *testing.T) {
	t.Parallel()
	if transcript.NewPipeline().Enabled() {
		t.Error("empty pipeline reports Enabled")
	}
	if !transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New())).Enabled() {
		t.Error("phonetic pipeline reports !Enabled")
	}
}

// ---- Corrector sink ----

func TestCorrector_RewritesTextAndKeepsRaw(t *testing.T) {
	t.Parallel()

	next := &recordingSink{}
	c := transcript.NewCorrector(next,
		transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New())),
		transcript.StaticVocabulary{"Eldrinax"},
	)

	at := time.Now()
	c.Deliver(context.Background(), segment.Result{SpeakerID: "7", Text: "hi elder nacks", Duration: time.Second, At: at})

	got := next.all()
	if len(got) != 1 {
		t.Fatalf("delivered %d results, want 1", len(got))
	}
	r := got[0]
	if r.Text != "hi Eldrinax" || r.RawText != "hi elder nacks" {
		t.Errorf("result = %+v", r)
	}
	if r.SpeakerID != "7" || r.Duration != time.Second || !r.At.Equal(at) {
		t.Errorf("other fields changed: %+v", r)
	}
}

func TestCorrector_FailureDeliversOriginal(t *testing.T) {
	t.Parallel()

	next := &recordingSink{}
	c := transcript.NewCorrector(next,
		transcript.NewPipeline(
			transcript.WithPhoneticMatcher(phonetic.New()),
			transcript.WithLLMCorrector(llmcorrect.New(&mock.Provider{CompleteErr: errors.New("down")})),
		),
		transcript.StaticVocabulary{"Eldrinax"},
	)

	c.Deliver(context.Background(), segment.Result{SpeakerID: "7", Text: "hi elder nacks"})

	got := next.all()
	if len(got) != 1 {
		t.Fatalf("delivered %d results, want 1", len(got))
	}
	if got[0].Text != "hi elder nacks" || got[0].RawText != "" {
		t.Errorf("result = %+v, want untouched original", got[0])
	}
}

func TestCorrector_TimeoutDeliversOriginal(t *testing.T) {
	t.Parallel()

	slow := &mock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	next := &recordingSink{}
	c := transcript.NewCorrector(next,
		transcript.NewPipeline(transcript.WithLLMCorrector(llmcorrect.New(slow))),
		transcript.StaticVocabulary{"Janek"},
		transcript.WithTimeout(20*time.Millisecond),
	)

	c.Deliver(context.Background(), segment.Result{Text: "yanek"})
	if got := next.all(); len(got) != 1 || got[0].Text != "yanek" {
		t.Errorf("delivered %+v, want original text", got)
	}
}

func TestCorrector_ObserverSeesEveryAttempt(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls []time.Duration
	)
	c := transcript.NewCorrector(&recordingSink{},
		transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New())),
		transcript.StaticVocabulary{"Eldrinax"},
		transcript.WithObserver(func(d time.Duration) {
			mu.Lock()
			calls = append(calls, d)
			mu.Unlock()
		}),
	)

	c.Deliver(context.Background(), segment.Result{Text: "hi elder nacks"})
	c.Deliver(context.Background(), segment.Result{Text: "nothing to fix"})

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Errorf("observer called %d times, want 2", len(calls))
	}
}

func TestCorrector_PassThrough(t *testing.T) {
	t.Parallel()

	next := &recordingSink{}
	// No stages configured.
	transcript.NewCorrector(next, transcript.NewPipeline(), transcript.StaticVocabulary{"X"}).
		Deliver(context.Background(), segment.Result{Text: "a"})
	// No vocabulary.
	transcript.NewCorrector(next, transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New())), nil).
		Deliver(context.Background(), segment.Result{Text: "b"})

	got := next.all()
	if len(got) != 2 || got[0].Text != "a" || got[1].Text != "b" {
		t.Errorf("delivered %+v", got)
	}
}

func TestMergeVocabulary(t *testing.T) {
	t.Parallel()

	members := transcript.VocabularyFunc(func(context.Context) []string {
		return []string{"Janek", "  ", "kasia"}
	})
	v := transcript.MergeVocabulary(transcript.StaticVocabulary{"Kasia", "Kubernetes"}, nil, members)

	got := v.Terms(context.Background())
	want := []string{"Kasia", "Kubernetes", "Janek"}
	if !slices.Equal(got, want) {
		t.Errorf("Terms = %v, want %v", got, want)
	}
}
