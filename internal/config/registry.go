package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ggwave-go/pkg/ggwave"
)

// ErrEngineNotRegistered is returned by [Registry.CreateEngine] when no
// factory has been registered under the requested name.
var ErrEngineNotRegistered = errors.New("config: engine not registered")

// Registry maps engine names to constructors. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]func(CodecConfig) (ggwave.Engine, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]func(CodecConfig) (ggwave.Engine, error)),
	}
}

// RegisterEngine registers an engine factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory func(CodecConfig) (ggwave.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// CreateEngine instantiates the engine named by c.Engine, defaulting to
// "native" when it is empty.
func (r *Registry) CreateEngine(c CodecConfig) (ggwave.Engine, error) {
	name := c.Engine
	if name == "" {
		name = EngineNative
	}
	r.mu.RLock()
	factory, ok := r.engines[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotRegistered, name)
	}
	return factory(c)
}

// Engines lists the registered names in sorted order.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
