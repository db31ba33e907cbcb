package registry

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Lister is the slice of the store the registry reads providers from.
type Lister interface {
	ListProviders(ctx context.Context) ([]model.Provider, error)
}

// StoreSource reads providers from the providers table. Malformed rows are
// skipped with a warning rather than failing every fetch.
type StoreSource struct {
	Store Lister
}

// Providers implements Source.
func (s StoreSource) Providers(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.Store.ListProviders(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "registry: list providers")
	}

	out := make([]model.Provider, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, p := range rows {
		if err := p.Validate(); err != nil {
			zap.L().Warn("registry: skipping malformed provider row",
				zap.String("provider", p.Name),
				zap.Error(err),
			)
			continue
		}
		if seen[p.Name] {
			zap.L().Warn("registry: skipping duplicate provider row", zap.String("provider", p.Name))
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}
