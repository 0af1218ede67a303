// Package mock provides test doubles for the vad package.
//
// A [Session] answers frames from a script, a function or a fixed event, so
// tests can gate audio exactly where they want speech:
//
//	sess := &mock.Session{Script: []vad.VADEvent{
//	    {Type: vad.VADSilence},
//	    {Type: vad.VADSpeechStart, Probability: 0.9},
//	}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/voicescribe/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine hands out sessions and remembers the config of each request.
type Engine struct {
	// Session is returned by every NewSession call. Nil creates a fresh
	// [Session] per call.
	Session vad.SessionHandle

	// NewSessionErr fails every NewSession call.
	NewSessionErr error

	mu      sync.Mutex
	configs []vad.Config
}

// NewSession records cfg and returns Session or NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	default:
		return &Session{}, nil
	}
}

// Configs returns the config of every NewSession call in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session answers ProcessFrame from, in order of precedence: Script while it
// lasts, EventFunc, then EventResult.
type Session struct {
	Script      []vad.VADEvent
	EventFunc   func(frame []byte) vad.VADEvent
	EventResult vad.VADEvent

	// ProcessFrameErr fails every frame; the frame is still recorded.
	ProcessFrameErr error
	CloseErr        error

	mu     sync.Mutex
	frames [][]byte
	resets int
	closes int
}

// ProcessFrame records a copy of frame and answers it.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), frame...)
	s.frames = append(s.frames, cp)

	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	if len(s.Script) > 0 {
		ev := s.Script[0]
		s.Script = s.Script[1:]
		return ev, nil
	}
	if s.EventFunc != nil {
		return s.EventFunc(cp), nil
	}
	return s.EventResult, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.CloseErr
}

// Frames returns copies of the frames processed so far.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Resets reports how often Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closes reports how often Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
