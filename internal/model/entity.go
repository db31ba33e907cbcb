package model

import (
	"strings"
	"time"
)

// EntityType identifies which table an enrichment target lives in.
type EntityType string

const (
	EntityVenue   EntityType = "venue"
	EntityCity    EntityType = "city"
	EntityCountry EntityType = "country"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVenue, EntityCity, EntityCountry:
		return true
	}
	return false
}

// ImageDescriptor is one image attached to an entity.
type ImageDescriptor struct {
	URL            string `json:"url"`
	Position       int    `json:"position"`
	SourceProvider string `json:"source_provider"`
	Category       string `json:"category,omitempty"`
	Attribution    string `json:"attribution,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// EnrichmentMetadata is the persisted audit trail of the last venue fetch.
type EnrichmentMetadata struct {
	LastCheckedAt      *time.Time `json:"last_checked_at"`
	ProvidersAttempted []string   `json:"providers_attempted"`
	ProvidersSucceeded []string   `json:"providers_succeeded"`
	ProvidersFailed    []string   `json:"providers_failed"`
	TotalCost          float64    `json:"total_cost"`
}

// GalleryCategory holds the images of one gallery category. LastRefreshedAt is
// kept as the raw persisted string so malformed values survive a round trip
// and can be treated as stale.
type GalleryCategory struct {
	Images          []ImageDescriptor `json:"images"`
	LastRefreshedAt string            `json:"last_refreshed_at"`
}

// RefreshedAt parses LastRefreshedAt. ok is false when the value is missing or
// unparseable.
func (c GalleryCategory) RefreshedAt() (t time.Time, ok bool) {
	s := strings.TrimSpace(c.LastRefreshedAt)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Gallery is the persisted category gallery of a city or country.
type Gallery struct {
	Categories map[string]GalleryCategory `json:"categories"`
}

// Venue is an enrichable point of interest.
type Venue struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	CityID      string              `json:"city_id,omitempty"`
	ProviderIDs map[string]string   `json:"provider_ids"`
	Images      []ImageDescriptor   `json:"images"`
	Enrichment  *EnrichmentMetadata `json:"enrichment_metadata,omitempty"`
}

// City is an enrichable city with a category gallery.
type City struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CountryID   string            `json:"country_id"`
	CountryName string            `json:"country_name,omitempty"`
	VenueCount  int               `json:"venue_count"`
	ProviderIDs map[string]string `json:"provider_ids"`
	Gallery     *Gallery          `json:"gallery,omitempty"`
}

// SearchQuery is the free-text query used against stock-photo providers.
func (c City) SearchQuery() string {
	if c.CountryName == "" {
		return c.Name
	}
	return c.Name + " " + c.CountryName
}

// Country is an enrichable country with a category gallery.
type Country struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Code        string            `json:"code"`
	CityCount   int               `json:"city_count"`
	ProviderIDs map[string]string `json:"provider_ids"`
	Gallery     *Gallery          `json:"gallery,omitempty"`
}

// SearchQuery is the free-text query used against stock-photo providers.
func (c Country) SearchQuery() string {
	return c.Name
}
