// Package openai provides a batch STT gateway backed by the OpenAI audio API
// (Whisper and the gpt-4o transcription models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

const defaultFilename = "audio.wav"

// Compile-time interface assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Namer    = (*Provider)(nil)
)

// Provider implements [stt.Provider] using the OpenAI transcription and
// translation endpoints.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any OpenAI-compatible
// server (faster-whisper-server, LocalAI) works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are the resilience layer's job.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Name returns the provider label used in metrics and logs.
func (p *Provider) Name() string { return "openai" }

// ModelID returns the configured model.
func (p *Provider) ModelID() string { return p.model }

// Transcribe uploads wav to /audio/transcriptions, or /audio/translations
// when hints.Task is [stt.TaskTranslate].
func (p *Provider) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	if len(wav) == 0 {
		return stt.Result{}, errors.New("openai stt: empty audio")
	}
	name := hints.Filename
	if name == "" {
		name = defaultFilename
	}
	file := oai.File(bytes.NewReader(wav), name, "audio/wav")

	if hints.Task == stt.TaskTranslate {
		params := oai.AudioTranslationNewParams{
			File:  file,
			Model: oai.AudioModel(p.model),
		}
		if hints.Prompt != "" {
			params.Prompt = oai.String(hints.Prompt)
		}
		resp, err := p.client.Audio.Translations.New(ctx, params)
		if err != nil {
			return stt.Result{}, fmt.Errorf("openai stt: translate: %w", err)
		}
		return stt.Result{Text: strings.TrimSpace(resp.Text), Language: "en"}, nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:  file,
		Model: oai.AudioModel(p.model),
	}
	if hints.Language != "" {
		params.Language = oai.String(hints.Language)
	}
	if hints.Prompt != "" {
		params.Prompt = oai.String(hints.Prompt)
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text), Language: hints.Language}, nil
}
