// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// When EmbedFunc is set it computes every vector (for Embed and EmbedBatch);
// otherwise EmbedResult is returned for each text.
type Provider struct {
	mu sync.Mutex

	EmbedResult []float32
	EmbedFunc   func(text string) []float32
	EmbedErr    error

	DimensionsValue int
	ModelIDValue    string

	// Texts records every text embedded, in order, across both methods.
	Texts []string
}

// Embed records text and returns its vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vector(text), nil
}

// EmbedBatch records texts and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *Provider) vector(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue, or "mock-embed" when unset.
func (p *Provider) ModelID() string {
	if p.ModelIDValue == "" {
		return "mock-embed"
	}
	return p.ModelIDValue
}

// Calls returns a copy of the recorded texts.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Texts...)
}

var _ embeddings.Provider = (*Provider)(nil)
