// Package openai embeds transcripts through the OpenAI /embeddings endpoint.
// WithBaseURL targets compatible servers such as Ollama, vLLM or LocalAI.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
)

// DefaultModel is used when New is given no model.
const DefaultModel = string(oai.EmbeddingModelTextEmbedding3Small)

// maxInputs is the most texts the API accepts in one request.
const maxInputs = 2048

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text with one model.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
	batch      int
}

type settings struct {
	reqOpts    []option.RequestOption
	dimensions int
	batch      int
}

// Option configures a [Provider].
type Option func(*settings)

func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

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
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithMaxRetries(n)) }
}

// WithDimensions shortens vectors to n. Only the text-embedding-3 family
// supports it, and the store's vector column must have the same length.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dimensions = n }
}

// WithBatchSize caps the texts sent per request; larger batches are split.
// Default and upper bound 2048.
func WithBatchSize(n int) Option {
	return func(s *settings) { s.batch = n }
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	s := settings{reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(&s)
	}
	if s.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: negative dimensions %d", s.dimensions)
	}
	if s.batch <= 0 || s.batch > maxInputs {
		s.batch = maxInputs
	}
	return &Provider{
		client:     oai.NewClient(s.reqOpts...),
		model:      model,
		dimensions: s.dimensions,
		batch:      s.batch,
	}, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch splits texts into requests of at most the batch size and
// returns the vectors in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batch {
		vecs, err := p.request(ctx, texts[start:min(start+p.batch, len(texts))])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// request embeds one batch. The API may answer out of order; results are
// placed by their index and every slot must be filled exactly once.
func (p *Provider) request(ctx context.Context, texts []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model:          oai.EmbeddingModel(p.model),
		Input:          oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) || vecs[i] != nil {
			return nil, fmt.Errorf("openai embeddings: bad index %d in answer to %d inputs", d.Index, len(texts))
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("openai embeddings: no vector for input %d", i)
		}
	}
	return vecs, nil
}

// Dimensions reports WithDimensions, or the native length of well-known
// models. Unknown models are assumed to produce 1536.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return nativeDimensions(p.model)
}

func (p *Provider) ModelID() string { return p.model }

func nativeDimensions(model string) int {
	m := strings.ToLower(model)
	for _, known := range []struct {
		name string
		dims int
	}{
		{"text-embedding-3-large", 3072},
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	} {
		if strings.Contains(m, known.name) {
			return known.dims
		}
	}
	return 1536
}
