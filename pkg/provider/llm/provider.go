// Package llm defines the Provider interface for Large Language Model backends.
//
// voicescribe uses an LLM only for optional post-processing of finished
// transcripts (fixing misheard names and jargon), so the contract is a single
// blocking completion. Implementations wrap a remote or local model API
// (OpenAI, Anthropic, Ollama) without leaking SDK types.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the user role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction. Providers without
	// a dedicated system field prepend it as a system-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the model identifier used for completions, for logs and
	// metric labels.
	ModelID() string
}
