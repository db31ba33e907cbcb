// Package store persists venues, cities, countries and provider records.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/model"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for imagery enrichment.
type Store interface {
	// Entities
	GetVenue(ctx context.Context, id string) (*model.Venue, error)
	GetCity(ctx context.Context, id string) (*model.City, error)
	GetCountry(ctx context.Context, id string) (*model.Country, error)

	// SaveVenueEnrichment writes the metadata trail and, when images is
	// non-nil, replaces the venue's images.
	SaveVenueEnrichment(ctx context.Context, id string, images []model.ImageDescriptor, meta model.EnrichmentMetadata) error
	// SaveGallery replaces the gallery of a city or country.
	SaveGallery(ctx context.Context, entityType model.EntityType, id string, gallery model.Gallery) error

	// Fan-out enumeration
	EligibleCities(ctx context.Context, minVenues int) ([]model.City, error)
	EligibleCountries(ctx context.Context) ([]model.Country, error)

	// Providers
	ListProviders(ctx context.Context) ([]model.Provider, error)
	UpsertProviders(ctx context.Context, providers []model.Provider) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func galleryTable(t model.EntityType) (string, error) {
	switch t {
	case model.EntityCity:
		return "cities", nil
	case model.EntityCountry:
		return "countries", nil
	default:
		return "", eris.Errorf("store: entity type %q has no gallery", t)
	}
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
