package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/bus"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures per provider kind.
type (
	STTFactory   func(ProviderEntry) (stt.Provider, error)
	VADFactory   func(VADConfig) (vad.Engine, error)
	AudioFactory func(AudioConfig) (audio.Source, error)
	BusFactory   func(context.Context, BusConfig) (bus.Client, error)
)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stt   map[string]STTFactory
	vad   map[string]VADFactory
	audio map[string]AudioFactory
	bus   map[string]BusFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:   make(map[string]STTFactory),
		vad:   make(map[string]VADFactory),
		audio: make(map[string]AudioFactory),
		bus:   make(map[string]BusFactory),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudio registers an audio source factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterBus registers a bus client factory under name.
func (r *Registry) RegisterBus(name string, factory BusFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bus[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateAudio opens an audio source using the factory registered under cfg.Name.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateBus connects a bus client using the factory registered under cfg.Name.
func (r *Registry) CreateBus(ctx context.Context, cfg BusConfig) (bus.Client, error) {
	r.mu.RLock()
	factory, ok := r.bus[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: bus/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}
