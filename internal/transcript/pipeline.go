// Package transcript corrects finished transcripts before they reach users.
//
// Speech recognisers routinely mangle names: server members, project names,
// jargon. [Pipeline] fixes them in two optional stages:
//
//  1. Phonetic matching ([PhoneticMatcher]): in-process Double Metaphone and
//     Jaro-Winkler alignment of word windows against the vocabulary.
//
//  2. LLM correction ([llmcorrect.Corrector]): a language model resolves what
//     the phonetic stage could not, constrained to declared substitutions.
//
// [Corrector] wraps a [segment.Sink] and applies the pipeline to every
// delivered result.
package transcript

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicescribe/internal/observe"
	"github.com/MrWong99/voicescribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voicescribe/internal/transcript/phonetic"
)

// Correction methods.
const (
	MethodPhonetic = "phonetic"
	MethodLLM      = "llm"
)

// Correction is one substitution made by the pipeline.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64

	// Method is MethodPhonetic or MethodLLM.
	Method string
}

// Corrected is the output of [Pipeline.Correct].
type Corrected struct {
	Text string

	// Corrections lists every substitution in order. Empty when Text equals
	// the input.
	Corrections []Correction
}

// PhoneticMatcher resolves a word or phrase to a vocabulary term by
// pronunciation. When matched is false, corrected equals word.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// PipelineOption is a functional option for configuring a [Pipeline].
type PipelineOption func(*Pipeline)

// WithPhoneticMatcher enables the phonetic stage.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *Pipeline) {
		p.phonetic = m
	}
}

// WithLLMCorrector enables the LLM stage.
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *Pipeline) {
		p.llm = c
	}
}

// Pipeline runs the configured correction stages. Both stages are off by
// default. Pipeline is safe for concurrent use.
type Pipeline struct {
	phonetic PhoneticMatcher
	llm      *llmcorrect.Corrector
}

// NewPipeline constructs a [Pipeline].
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enabled reports whether at least one stage is configured.
func (p *Pipeline) Enabled() bool {
	return p.phonetic != nil || p.llm != nil
}

// Correct applies the phonetic stage and then the LLM stage to text.
//
// On an LLM failure the phonetic result is returned together with the error
// so the caller can decide which text to use.
func (p *Pipeline) Correct(ctx context.Context, text string, vocabulary []string) (Corrected, error) {
	out := Corrected{Text: text, Corrections: []Correction{}}
	if len(vocabulary) == 0 {
		return out, nil
	}

	if p.phonetic != nil {
		_, span := observe.Tracer().Start(ctx, "transcript.phonetic")
		out.Text, out.Corrections = p.applyPhonetic(out.Text, vocabulary)
		span.SetAttributes(attribute.Int("corrections", len(out.Corrections)))
		span.End()
	}

	if p.llm != nil {
		ctx, span := observe.Tracer().Start(ctx, "transcript.llm")
		corrected, llmCorrections, err := p.llm.Correct(ctx, out.Text, vocabulary)
		observe.Fail(span, err)
		span.SetAttributes(attribute.Int("corrections", len(llmCorrections)))
		span.End()
		if err != nil {
			return out, err
		}
		out.Text = corrected
		for _, c := range llmCorrections {
			out.Corrections = append(out.Corrections, Correction{
				Original:   c.Original,
				Corrected:  c.Corrected,
				Confidence: c.Confidence,
				Method:     MethodLLM,
			})
		}
	}
	return out, nil
}

// applyPhonetic slides over the tokens of text. At each position every window
// up to the longest term's word count is tried, and the best-scoring match
// wins (the longer window on a tie). Trailing punctuation of the replaced
// window is kept.
func (p *Pipeline) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, []Correction{}
	}

	var match func(string) (string, float64, bool)
	maxWords := 1
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		v := phonetic.Prepare(vocabulary)
		maxWords = v.MaxWords()
		match = func(w string) (string, float64, bool) { return pm.MatchPrepared(w, v) }
	} else {
		for _, term := range vocabulary {
			maxWords = max(maxWords, len(strings.Fields(term)))
		}
		match = func(w string) (string, float64, bool) { return p.phonetic.Match(w, vocabulary) }
	}
	if maxWords == 0 {
		return text, []Correction{}
	}
	// A term may be heard as more words than it has.
	maxWords++

	var (
		output      []string
		corrections = []Correction{}
	)
	for i := 0; i < len(tokens); {
		var (
			bestN     int
			bestTerm  string
			bestScore float64
		)
		for n := min(maxWords, len(tokens)-i); n >= 1; n-- {
			term, score, ok := match(strings.Join(tokens[i:i+n], " "))
			if ok && score > bestScore {
				bestN, bestTerm, bestScore = n, term, score
			}
		}
		if bestN == 0 {
			output = append(output, tokens[i])
			i++
			continue
		}

		window := tokens[i : i+bestN]
		original := strings.Join(window, " ")
		core := strings.TrimRight(original, trailingPunct)
		if core != bestTerm {
			corrections = append(corrections, Correction{
				Original:   core,
				Corrected:  bestTerm,
				Confidence: bestScore,
				Method:     MethodPhonetic,
			})
		}
		output = append(output, bestTerm+original[len(core):])
		i += bestN
	}
	return strings.Join(output, " "), corrections
}

const trailingPunct = ".,;:!?\"')"
