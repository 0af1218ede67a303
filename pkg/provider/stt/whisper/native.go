// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time interface assertions.
var (
	_ stt.Provider = (*NativeProvider)(nil)
	_ stt.Namer    = (*NativeProvider)(nil)
)

// NativeProvider implements [stt.Provider] using whisper.cpp Go bindings
// (CGO), eliminating the HTTP hop entirely. The model is loaded once at
// startup and shared; every call creates its own inference context, so
// concurrent Transcribe calls do not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when [stt.Hints.Language] is
// empty (e.g. "en", "de"). Defaults to "auto".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: "auto",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns the provider label used in metrics and logs.
func (p *NativeProvider) Name() string { return "whisper-native" }

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV container, normalises it to 16 kHz mono float
// samples, and runs whisper.cpp inference. Inference itself cannot be
// interrupted; ctx is only checked before it starts.
func (p *NativeProvider) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	pcm, err := samples(wav, nativeSampleRate)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Result{}, nil
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := hints.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	wctx.SetTranslate(hints.Task == stt.TaskTranslate)
	if hints.Prompt != "" {
		wctx.SetInitialPrompt(hints.Prompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = lang
	}
	return stt.Result{Text: strings.Join(parts, " "), Language: detected}, nil
}
