package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/voicescribe/pkg/provider/embeddings"
	"github.com/MrWong99/voicescribe/pkg/provider/llm"
	"github.com/MrWong99/voicescribe/pkg/provider/stt"
	"github.com/MrWong99/voicescribe/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned when no factory answers to
// [ProviderEntry.Name].
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factorySet holds the factories of one provider kind.
type factorySet[T any] struct {
	kind string

	mu sync.RWMutex
	by map[string]Factory[T]
}

func newFactorySet[T any](kind string) *factorySet[T] {
	return &factorySet[T]{kind: kind, by: make(map[string]Factory[T])}
}

func (s *factorySet[T]) add(name string, f Factory[T]) {
	s.mu.Lock()
	s.by[name] = f
	s.mu.Unlock()
}

func (s *factorySet[T]) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.by))
	for name := range s.by {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (s *factorySet[T]) build(entry ProviderEntry) (T, error) {
	s.mu.RLock()
	f, ok := s.by[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		known := "none"
		if names := s.names(); len(names) > 0 {
			known = strings.Join(names, ", ")
		}
		return zero, fmt.Errorf("%w: %s/%q (known: %s)", ErrProviderNotRegistered, s.kind, entry.Name, known)
	}
	return f(entry)
}

// Registry resolves provider names from the config file to constructors. A
// later registration under the same name replaces the earlier one. Safe for
// concurrent use.
type Registry struct {
	stt        *factorySet[stt.Provider]
	llm        *factorySet[llm.Provider]
	embeddings *factorySet[embeddings.Provider]
	vad        *factorySet[vad.Engine]
}

func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactorySet[stt.Provider]("stt"),
		llm:        newFactorySet[llm.Provider]("llm"),
		embeddings: newFactorySet[embeddings.Provider]("embeddings"),
		vad:        newFactorySet[vad.Engine]("vad"),
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.stt.add(name, f) }
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.add(name, f) }
func (r *Registry) RegisterVAD(name string, f Factory[vad.Engine]) { r.vad.add(name, f) }
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.embeddings.add(name, f)
}

func (r *Registry) CreateSTT(e ProviderEntry) (stt.Provider, error) { return r.stt.build(e) }
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return r.llm.build(e) }
func (r *Registry) CreateVAD(e ProviderEntry) (vad.Engine, error) { return r.vad.build(e) }
func (r *Registry) CreateEmbeddings(e ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.build(e)
}

// Names lists the registered names per kind ("stt", "llm", "embeddings",
// "vad"), each sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		r.stt.kind:        r.stt.names(),
		r.llm.kind:        r.llm.names(),
		r.embeddings.kind: r.embeddings.names(),
		r.vad.kind:        r.vad.names(),
	}
}
