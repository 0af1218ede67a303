// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// An STT provider wraps a transcription service (a Whisper ASR web service,
// the OpenAI audio API, Deepgram, or an in-process whisper.cpp model) and
// exposes one uniform call: a finished speech segment goes in as a mono
// 16-bit WAV container and recognised text comes out. Segmentation happens
// upstream; providers never see partial utterances.
//
// Implementations must be safe for concurrent use. The segmentation engine
// may transcribe segments of several speakers at the same time.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional operations a provider does not
// implement, e.g. translation on a backend that can only transcribe.
var ErrNotSupported = errors.New("stt: operation not supported")

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe recognises the speech in wav, a complete RIFF/WAVE container
	// holding mono 16-bit PCM. An empty Result.Text is a valid answer meaning
	// nothing intelligible was said; it is not an error.
	//
	// The call is not retried by the caller. Implementations should honour ctx
	// cancellation and deadlines.
	Transcribe(ctx context.Context, wav []byte, hints Hints) (Result, error)
}

// HealthChecker is implemented by providers that can report the state of
// their backend. The readiness endpoint probes it.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// LanguageDetector is implemented by providers that can identify the spoken
// language of a segment without transcribing it.
type LanguageDetector interface {
	DetectLanguage(ctx context.Context, wav []byte) (Detection, error)
}

// Namer is implemented by providers that report a short name used as the
// provider label on metrics and logs.
type Namer interface {
	Name() string
}

// NameOf returns p's name when it implements [Namer] and "unknown" otherwise.
func NameOf(p Provider) string {
	if n, ok := p.(Namer); ok {
		return n.Name()
	}
	return "unknown"
}
