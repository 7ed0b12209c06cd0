package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/whisperstream/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTranscriber] when no
// factory has been registered under the requested engine name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TranscriberFactory builds a transcriber from the engine entry and the
// transcription section.
type TranscriberFactory func(entry ProviderEntry, tc TranscriptionConfig) (stt.Transcriber, error)

// Registry maps engine names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]TranscriberFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]TranscriberFactory),
	}
}

// RegisterTranscriber registers a transcriber factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// CreateTranscriber instantiates the engine registered under cfg.Engine.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateTranscriber(cfg *Config) (stt.Transcriber, error) {
	return r.Create(cfg.Engine, cfg.Transcription)
}

// Create instantiates the engine described by entry. It is used for the
// primary engine and for every entry of fallback_engines.
func (r *Registry) Create(entry ProviderEntry, tc TranscriptionConfig) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, tc)
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transcriber))
	for name := range r.transcriber {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
