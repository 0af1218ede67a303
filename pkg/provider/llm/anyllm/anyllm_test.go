package anyllm

import (
	"context"
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicescribe/pkg/provider/llm"
)

func TestBackends(t *testing.T) {
	t.Parallel()

	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "gemini", "ollama", "llamacpp", "openai"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %q", want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   error
		wantAny   bool
		wantModel string
	}{
		{name: "local without key", cfg: Config{Backend: "ollama", Model: "llama3"}, wantModel: "ollama/llama3"},
		{name: "case folded", cfg: Config{Backend: "LlamaCpp", Model: "qwen"}, wantModel: "llamacpp/qwen"},
		{name: "local ignores key", cfg: Config{Backend: "llamafile", Model: "m", APIKey: "unused"}, wantModel: "llamafile/m"},
		{name: "hosted with key", cfg: Config{Backend: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: "sk-ant-test"}, wantModel: "anthropic/claude-3-5-haiku-latest"},
		{name: "unknown backend", cfg: Config{Backend: "fakecloud", Model: "m"}, wantErr: ErrUnknownBackend},
		{name: "missing model", cfg: Config{Backend: "ollama"}, wantAny: true},
		{name: "hosted without key", cfg: Config{Backend: "openai", Model: "gpt-4o-mini"}, wantAny: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			p, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.wantAny:
				if err == nil {
					t.Fatal("New() succeeded, want error")
				}
			case err != nil:
				t.Fatalf("New: %v", err)
			default:
				if got := p.ModelID(); got != tt.wantModel {
					t.Errorf("ModelID() = %q, want %q", got, tt.wantModel)
				}
			}
		})
	}
}

func TestParams(t *testing.T) {
	t.Parallel()

	p := &Provider{backend: "ollama", model: "llama3"}
	req := llm.CompletionRequest{
		SystemPrompt: "Fix names: Blindr.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "blinder joined", Name: "alice"},
			{Role: llm.RoleAssistant, Content: "Blindr joined"},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	}
	params := p.params(req)

	if params.Model != "llama3" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if m := params.Messages[0]; m.Role != anyllmlib.RoleSystem || m.ContentString() != "Fix names: Blindr." {
		t.Errorf("first message = %+v, want the system prompt", m)
	}
	if m := params.Messages[1]; m.Role != llm.RoleUser || m.Name != "alice" || m.ContentString() != "blinder joined" {
		t.Errorf("user message = %+v", m)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}

	bare := p.params(llm.CompletionRequest{Messages: req.Messages[:1]})
	if len(bare.Messages) != 1 || bare.Temperature != nil || bare.MaxTokens != nil {
		t.Errorf("zero request fields leaked into params: %+v", bare)
	}
}

func TestComplete_NoMessages(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Backend: "ollama", Model: "llama3"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("request without messages accepted")
	}
}
