// Package llmcorrect implements transcript correction with a language model.
//
// The [Corrector] sends a transcript and the known vocabulary (member names,
// configured terms) to an [llm.Provider] and asks for a JSON answer holding
// the corrected text and every substitution it made. Substitutions the model
// did not declare are reverted, so the model cannot silently rephrase.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/voicescribe/pkg/provider/llm"
)

const defaultTemperature = 0.1

// systemPromptTemplate receives the vocabulary list at call time.
const systemPromptTemplate = `You correct speech-to-text transcripts from a voice chat.

Your task: fix misheard names and terms in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard versions of the known terms listed below.
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- If you are not confident a word is a misheard term, leave it unchanged.
- Terms in the corrected text must use the exact spelling from the list.

Known terms:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original words>", "corrected": "<term>", "confidence": <0.0-1.0>}
  ]
}

If nothing needs correcting, return an empty corrections array and corrected_text equal to the input.`

// Correction is one substitution reported by the model and confirmed against
// the actual text change.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithMinConfidence drops declared corrections whose reported confidence is
// below threshold. Default: 0 (keep all).
func WithMinConfidence(threshold float64) Option {
	return func(c *Corrector) {
		c.minConfidence = threshold
	}
}

// Corrector asks an [llm.Provider] to fix misheard vocabulary. It is safe
// for concurrent use.
type Corrector struct {
	llm           llm.Provider
	temperature   float64
	minConfidence float64
}

// New returns a Corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with misheard vocabulary replaced.
//
// An unparseable model answer leaves text unchanged without error. Provider
// failures, including context cancellation, are returned.
func (c *Corrector) Correct(ctx context.Context, text string, vocabulary []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(vocabulary),
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: text},
		},
	})
	if err != nil {
		return text, nil, fmt.Errorf("llm corrector: complete: %w", err)
	}

	corrected, declared, err := parseResponse(resp.Content, text)
	if err != nil {
		return text, nil, nil //nolint:nilerr // an unusable answer means "no correction"
	}

	kept := declared[:0]
	for _, d := range declared {
		if d.Confidence >= c.minConfidence {
			kept = append(kept, d)
		}
	}
	out, verified := verifyCorrectedText(text, corrected, kept)
	return out, verified, nil
}

func buildSystemPrompt(vocabulary []string) string {
	var sb strings.Builder
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse decodes the model answer, tolerating markdown code fences.
func parseResponse(content, originalText string) (string, []Correction, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return "", nil, fmt.Errorf("llm corrector: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}
	return r.CorrectedText, corrections, nil
}

func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
