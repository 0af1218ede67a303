package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
//
// A segment is transcribed by exactly one backend; a failed attempt is not
// retried on the same backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider         = (*STTFallback)(nil)
	_ stt.Namer            = (*STTFallback)(nil)
	_ stt.HealthChecker    = (*STTFallback)(nil)
	_ stt.LanguageDetector = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Name reports the primary's name.
func (f *STTFallback) Name() string { return f.group.Primary() }

// Group exposes the underlying group for status reporting.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe sends the segment to the first healthy provider. A provider that
// answers [stt.ErrNotSupported] for the requested task is skipped without
// tripping its breaker.
func (f *STTFallback) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	var unsupported error
	res, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		res, err := p.Transcribe(ctx, wav, hints)
		if errors.Is(err, stt.ErrNotSupported) {
			unsupported = err
			return stt.Result{}, errSkip
		}
		return res, err
	})
	if errors.Is(err, errSkip) {
		return stt.Result{}, unsupported
	}
	return res, err
}

// Healthy reports nil when at least one backend is healthy. Backends that do
// not implement [stt.HealthChecker] are assumed healthy.
func (f *STTFallback) Healthy(ctx context.Context) error {
	var (
		errs    []error
		healthy bool
	)
	f.group.Each(func(name string, p stt.Provider) bool {
		hc, ok := p.(stt.HealthChecker)
		if !ok {
			healthy = true
			return false
		}
		if err := hc.Healthy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return true
		}
		healthy = true
		return false
	})
	if healthy {
		return nil
	}
	return errors.Join(errs...)
}

// DetectLanguage asks the first backend that supports language detection.
func (f *STTFallback) DetectLanguage(ctx context.Context, wav []byte) (stt.Detection, error) {
	var detector stt.LanguageDetector
	f.group.Each(func(_ string, p stt.Provider) bool {
		detector, _ = p.(stt.LanguageDetector)
		return detector == nil
	})
	if detector == nil {
		return stt.Detection{}, fmt.Errorf("detect language: %w", stt.ErrNotSupported)
	}
	return detector.DetectLanguage(ctx, wav)
}
