// Package mock provides test doubles for the stt package interfaces.
//
// Provider records every Transcribe call and answers with a fixed Result, a
// fixed error, or the result of TranscribeFunc. Setting Block holds every call
// until the channel is closed or the call's context ends, which lets tests
// observe a speaker while its transcription is in flight.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Result{Text: "hello"}}
//	res, _ := p.Transcribe(ctx, wav, stt.Hints{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicescribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the container passed to Transcribe.
	WAV []byte
	// Hints is the Hints value passed to Transcribe.
	Hints stt.Hints
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, if set, computes the response instead of Result/Err.
	TranscribeFunc func(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error)

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx is done.
	Block chan struct{}

	// Started, if non-nil, receives one value per call after it is recorded.
	Started chan struct{}

	// HealthErr is returned by Healthy.
	HealthErr error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured response.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, hints stt.Hints) (stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{WAV: append([]byte(nil), wav...), Hints: hints})
	block, started, fn := p.Block, p.Started, p.TranscribeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, wav, hints)
	}
	return res, err
}

// Healthy returns HealthErr.
func (p *Provider) Healthy(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HealthErr
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// RecordedCalls returns a copy of all recorded calls. Thread-safe.
func (p *Provider) RecordedCalls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.Calls...)
}

// SetResult replaces Result and Err. Thread-safe.
func (p *Provider) SetResult(res stt.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Result, p.Err = res, err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.HealthChecker = (*Provider)(nil)
	_ stt.Namer         = (*Provider)(nil)
)
