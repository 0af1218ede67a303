// Package openai is an [llm.Provider] on the OpenAI chat completions API.
// WithBaseURL points it at any compatible server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/voicescribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider sends completions to one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	json   bool
}

type settings struct {
	reqOpts []option.RequestOption
	json    bool
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL targets an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries sets how often the SDK retries a failed request itself.
// Default 2.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithMaxRetries(n)) }
}

// WithJSONResponse asks the model for a single JSON object, the format the
// transcript corrector parses.
func WithJSONResponse() Option {
	return func(s *settings) { s.json = true }
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}
	return &Provider{client: oai.NewClient(s.reqOpts...), model: model, json: s.json}, nil
}

func (p *Provider) ModelID() string { return p.model }

// Complete sends req and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, errors.New("openai: completion blocked by content filter")
	}
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: completion request has no messages")
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := message(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if p.json {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

func message(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		u := oai.ChatCompletionUserMessageParam{}
		u.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			u.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfUser: &u}, nil
	case llm.RoleAssistant:
		a := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			a.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &a}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
