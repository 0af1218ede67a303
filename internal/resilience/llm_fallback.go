package resilience

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/voicescribe/pkg/provider/llm"
)

// ErrEmptyCompletion is the failure recorded for a backend that answered
// with no content. The transcript corrector cannot use an empty reply, so
// the next backend gets the request.
var ErrEmptyCompletion = errors.New("resilience: empty completion")

var errNoMessages = errors.New("resilience: completion request has no messages")

// LLMFallback is an [llm.Provider] over an ordered list of correction
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]

	// served is the model that answered the last request.
	served atomic.Pointer[string]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts a group with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend tried after every earlier one.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Group exposes the underlying group for status reporting.
func (f *LLMFallback) Group() *FallbackGroup[llm.Provider] { return f.group }

// Complete returns the first non-empty completion. A request without
// messages is rejected before any backend is charged.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	var model string
	resp, err := ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyCompletion
		}
		model = p.ModelID()
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	f.served.Store(&model)
	return resp, nil
}

// ModelID names the model of the backend that served the last request,
// or the primary's before any request succeeded.
func (f *LLMFallback) ModelID() string {
	if m := f.served.Load(); m != nil {
		return *m
	}
	return f.group.members[0].value.ModelID()
}
