package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/fishtank/pkg/provider/llm"
	"github.com/MrWong99/fishtank/pkg/provider/stt"
	"github.com/MrWong99/fishtank/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is one kind's name to constructor table.
type factories[P any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[P]
}

func newFactories[P any](kind string) *factories[P] {
	return &factories[P]{kind: kind, m: make(map[string]Factory[P])}
}

func (f *factories[P]) register(name string, fn Factory[P]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

func (f *factories[P]) create(entry ProviderEntry) (P, error) {
	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("config: create %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[P]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Registry maps provider names to constructors for the chat, transcription
// and synthesis backends. Registering a name twice replaces the first
// factory. It is safe for concurrent use.
type Registry struct {
	llm *factories[llm.Provider]
	stt *factories[stt.Provider]
	tts *factories[tts.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[llm.Provider]("llm"),
		stt: newFactories[stt.Provider]("stt"),
		tts: newFactories[tts.Provider]("tts"),
	}
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.register(name, f) }
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.stt.register(name, f) }
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.tts.register(name, f) }

// CreateLLM builds the chat provider entry names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateSTT builds the transcription provider entry names.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.create(entry) }

// CreateTTS builds the synthesis provider entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// Names returns the sorted names registered for kind, which is "llm", "stt"
// or "tts". Other kinds yield nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "llm":
		return r.llm.names()
	case "stt":
		return r.stt.names()
	case "tts":
		return r.tts.names()
	}
	return nil
}
