// Package anyllm is an [llm.Provider] for every backend that
// github.com/mozilla-ai/any-llm-go speaks: hosted APIs such as Anthropic,
// Gemini, DeepSeek, Mistral and Groq, and local servers such as Ollama,
// llama.cpp and llamafile.
//
// The transcript corrector sends short prompts and expects short answers, so
// small fast models are the usual choice.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voicescribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// ErrUnknownBackend is returned by [New] for a backend name it does not know.
var ErrUnknownBackend = errors.New("anyllm: unknown backend")

type backend struct {
	open  func(...anyllmlib.Option) (anyllmlib.Provider, error)
	local bool // a local server; no API key
}

var backends = map[string]backend{
	"anthropic": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) }},
	"deepseek":  {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) }},
	"gemini":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) }},
	"groq":      {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) }},
	"mistral":   {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) }},
	"openai":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) }},
	"llamacpp":  {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) }, local: true},
	"llamafile": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) }, local: true},
	"ollama":    {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) }, local: true},
}

// Backends lists the backend names [New] accepts, sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Config selects a backend and model.
type Config struct {
	Backend string
	Model   string

	// APIKey is ignored by local backends. Empty falls back to the backend's
	// environment variable, e.g. ANTHROPIC_API_KEY.
	APIKey string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string
}

// Provider completes prompts through one any-llm-go backend.
type Provider struct {
	client  anyllmlib.Provider
	backend string
	model   string
}

// New opens cfg.Backend.
func New(cfg Config) (*Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(cfg.Backend)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownBackend, cfg.Backend, strings.Join(Backends(), ", "))
	}

	var opts []anyllmlib.Option
	if cfg.APIKey != "" && !b.local {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	client, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", name, err)
	}
	return &Provider{client: client, backend: name, model: cfg.Model}, nil
}

// Complete sends req and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: completion request has no messages")
	}
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.backend, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.backend)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// ModelID returns "backend/model".
func (p *Provider) ModelID() string { return p.backend + "/" + p.model }

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
