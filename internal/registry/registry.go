// Package registry loads the configured image providers and answers which of
// them are enabled for a capability.
package registry

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Source loads validated provider records.
type Source interface {
	Providers(ctx context.Context) ([]model.Provider, error)
}

// Registry is a read-only view over a provider Source.
type Registry struct {
	src Source
}

// New creates a Registry backed by src.
func New(src Source) *Registry {
	return &Registry{src: src}
}

// All returns every provider record, active or not.
func (r *Registry) All(ctx context.Context) ([]model.Provider, error) {
	ps, err := r.src.Providers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load providers")
	}
	return ps, nil
}

// Enabled returns the active providers advertising capability, sorted
// ascending by that capability's priority.
func (r *Registry) Enabled(ctx context.Context, capability string) ([]model.Provider, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Provider
	for _, p := range all {
		if p.IsActive && p.Can(capability) {
			out = append(out, p)
		}
	}
	model.SortByPriority(out, capability)
	return out, nil
}

// Get returns the named provider.
func (r *Registry) Get(ctx context.Context, name string) (model.Provider, error) {
	all, err := r.All(ctx)
	if err != nil {
		return model.Provider{}, err
	}
	for _, p := range all {
		if p.Name == name {
			return p, nil
		}
	}
	return model.Provider{}, eris.Errorf("registry: unknown provider %q", name)
}

// Static is an in-memory Source.
type Static struct {
	providers []model.Provider
}

// NewStatic validates providers and wraps them as a Source.
func NewStatic(providers []model.Provider) (*Static, error) {
	if err := model.ValidateProviders(providers); err != nil {
		return nil, eris.Wrap(err, "registry: validate")
	}
	return &Static{providers: providers}, nil
}

// Providers returns a copy of the static records.
func (s *Static) Providers(_ context.Context) ([]model.Provider, error) {
	out := make([]model.Provider, len(s.providers))
	copy(out, s.providers)
	return out, nil
}
