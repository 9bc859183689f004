package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"nexd/internal/fault"
	"nexd/pkg/types"
)

// Registry holds the named providers for one daemon instance.
type Registry struct {
	mu    sync.RWMutex
	provs map[string]ModelProvider
	log   zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{provs: make(map[string]ModelProvider), log: log}
}

// Register initializes p and adds it under its name. A duplicate name or a
// failed Initialize rejects the provider; the registry is unchanged either
// way.
func (r *Registry) Register(ctx context.Context, p ModelProvider) error {
	r.mu.Lock()
	if _, dup := r.provs[p.Name()]; dup {
		r.mu.Unlock()
		return fault.Newf(fault.InvalidArgument, "provider %q already registered", p.Name())
	}
	r.mu.Unlock()

	if err := p.Initialize(ctx); err != nil {
		r.log.Error().Err(err).Str("provider", p.Name()).Msg("provider initialize failed")
		return fault.Wrap(fault.ProviderError, "initialize "+p.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.provs[p.Name()]; dup {
		return fault.Newf(fault.InvalidArgument, "provider %q already registered", p.Name())
	}
	r.provs[p.Name()] = p
	r.log.Info().Str("provider", p.Name()).Str("version", p.Version()).Msg("provider registered")
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (ModelProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.provs[name]
	return p, ok
}

// Names returns registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.provs))
	for n := range r.provs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the registered providers in name order.
func (r *Registry) All() []ModelProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelProvider, 0, len(r.provs))
	for _, n := range r.namesLocked() {
		out = append(out, r.provs[n])
	}
	return out
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.provs))
	for n := range r.provs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AvailableModels aggregates model descriptors across providers that report
// themselves available. Unavailable providers contribute nothing.
func (r *Registry) AvailableModels(ctx context.Context) []types.Model {
	var out []types.Model
	for _, p := range r.All() {
		if !p.Available(ctx) {
			continue
		}
		out = append(out, p.Models()...)
	}
	return out
}
