package llmcorrect_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voicescribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voicescribe/pkg/provider/llm"
	"github.com/MrWong99/voicescribe/pkg/provider/llm/mock"
)

func respond(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestCorrector_PromptCarriesVocabulary(t *testing.T) {
	t.Parallel()

	provider := respond(`{"corrected_text": "ping Janek", "corrections": []}`)
	c := llmcorrect.New(provider, llmcorrect.WithTemperature(0.3))

	vocab := []string{"Janek", "Kubernetes"}
	if _, _, err := c.Correct(context.Background(), "ping yanek", vocab); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(calls))
	}
	req := calls[0].Req
	for _, v := range vocab {
		if !strings.Contains(req.SystemPrompt, "- "+v) {
			t.Errorf("system prompt missing term %q", v)
		}
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "ping yanek" {
		t.Errorf("Messages = %+v, want the transcript as one user message", req.Messages)
	}
}

func TestCorrector_AppliesDeclaredCorrections(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond(`{
  "corrected_text": "Janek restarted Kubernetes",
  "corrections": [
    {"original": "yanek", "corrected": "Janek", "confidence": 0.9},
    {"original": "cube er nettis", "corrected": "Kubernetes", "confidence": 0.8}
  ]
}`))

	text, corrections, err := c.Correct(context.Background(), "yanek restarted cube er nettis", []string{"Janek", "Kubernetes"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if text != "Janek restarted Kubernetes" {
		t.Errorf("text = %q", text)
	}
	if len(corrections) != 2 {
		t.Fatalf("got %d corrections, want 2", len(corrections))
	}
	if corrections[1].Original != "cube er nettis" || corrections[1].Confidence != 0.8 {
		t.Errorf("corrections[1] = %+v", corrections[1])
	}
}

func TestCorrector_UndeclaredRewriteReverted(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond(`{"corrected_text": "Janek restarted everything", "corrections": [
		{"original": "yanek", "corrected": "Janek", "confidence": 0.9}]}`))

	text, _, err := c.Correct(context.Background(), "yanek restarted the server", []string{"Janek"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if text != "Janek restarted the server" {
		t.Errorf("text = %q, want only the declared change applied", text)
	}
}

func TestCorrector_MinConfidence(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond(`{"corrected_text": "Janek", "corrections": [
		{"original": "yanek", "corrected": "Janek", "confidence": 0.4}]}`),
		llmcorrect.WithMinConfidence(0.5))

	text, corrections, err := c.Correct(context.Background(), "yanek", []string{"Janek"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if text != "yanek" || len(corrections) != 0 {
		t.Errorf("Correct = %q, %v; want unchanged", text, corrections)
	}
}

func TestCorrector_FallbackOnUnparseable(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond("Sure! Here is the corrected text: Janek"))
	text, corrections, err := c.Correct(context.Background(), "yanek", []string{"Janek"})
	if err != nil {
		t.Fatalf("unparseable answer should not be an error, got %v", err)
	}
	if text != "yanek" || corrections != nil {
		t.Errorf("Correct = %q, %v; want original text and no corrections", text, corrections)
	}
}

func TestCorrector_MarkdownStripping(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(respond("```json\n" + `{"corrected_text": "hi Janek", "corrections": [{"original": "yanek", "corrected": "Janek", "confidence": 0.9}]}` + "\n```"))
	text, _, err := c.Correct(context.Background(), "hi yanek", []string{"Janek"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if text != "hi Janek" {
		t.Errorf("text = %q, want %q", text, "hi Janek")
	}
}

func TestCorrector_SkipsWithoutVocabularyOrText(t *testing.T) {
	t.Parallel()

	provider := respond(`{}`)
	c := llmcorrect.New(provider)

	if text, _, err := c.Correct(context.Background(), "hello", nil); err != nil || text != "hello" {
		t.Errorf("Correct(no vocabulary) = %q, %v", text, err)
	}
	if text, _, err := c.Correct(context.Background(), "   ", []string{"Janek"}); err != nil || text != "   " {
		t.Errorf("Correct(blank) = %q, %v", text, err)
	}
	if n := len(provider.Calls()); n != 0 {
		t.Errorf("LLM called %d times, want 0", n)
	}
}

func TestCorrector_LLMError(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	c := llmcorrect.New(&mock.Provider{CompleteErr: boom})
	text, _, err := c.Correct(context.Background(), "yanek", []string{"Janek"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if text != "yanek" {
		t.Errorf("text = %q, want original on error", text)
	}
}
