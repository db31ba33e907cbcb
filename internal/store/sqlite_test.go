package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed loads two countries, three cities and two venues.
func seed(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, stmt := range []string{
		`INSERT INTO countries (id, name, code) VALUES ('pt', 'Portugal', 'PT'), ('is', 'Iceland', 'IS')`,
		`INSERT INTO cities (id, name, country_id, venue_count, provider_ids) VALUES
			('lisbon', 'Lisbon', 'pt', 12, '{"unsplash":"lisbon"}'),
			('porto', 'Porto', 'pt', 1, '{}'),
			('evora', 'Évora', 'pt', 0, '{}')`,
		`INSERT INTO venues (id, name, city_id, provider_ids) VALUES
			('v1', 'Time Out Market', 'lisbon', '{"google_places":"ChIJ1","foursquare":"4b0"}'),
			('v2', 'Unknown Bar', 'porto', '{}')`,
	} {
		_, err := st.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
}

func TestSQLite_GetVenue(t *testing.T) {
	st := newTestSQLiteStore(t)
	seed(t, st)
	ctx := context.Background()

	v, err := st.GetVenue(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Time Out Market", v.Name)
	assert.Equal(t, "lisbon", v.CityID)
	assert.Equal(t, map[string]string{"google_places": "ChIJ1", "foursquare": "4b0"}, v.ProviderIDs)
	assert.Empty(t, v.Images)
	assert.Nil(t, v.Enrichment)

	_, err = st.GetVenue(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_SaveVenueEnrichment(t *testing.T) {
	st := newTestSQLiteStore(t)
	seed(t, st)
	ctx := context.Background()

	checked := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := model.EnrichmentMetadata{
		LastCheckedAt:      &checked,
		ProvidersAttempted: []string{"google_places", "foursquare"},
		ProvidersSucceeded: []string{"google_places"},
		ProvidersFailed:    []string{"foursquare"},
		TotalCost:          0.014,
	}
	images := []model.ImageDescriptor{
		{URL: "https://img/1.jpg", Position: 0, SourceProvider: "google_places"},
		{URL: "https://img/2.jpg", Position: 1, SourceProvider: "google_places"},
	}
	require.NoError(t, st.SaveVenueEnrichment(ctx, "v1", images, meta))

	v, err := st.GetVenue(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, images, v.Images)
	require.NotNil(t, v.Enrichment)
	assert.True(t, checked.Equal(*v.Enrichment.LastCheckedAt))
	assert.Equal(t, []string{"foursquare"}, v.Enrichment.ProvidersFailed)

	// A metadata-only write keeps the existing images.
	later := checked.Add(24 * time.Hour)
	require.NoError(t, st.SaveVenueEnrichment(ctx, "v1", nil, model.EnrichmentMetadata{LastCheckedAt: &later}))
	v, err = st.GetVenue(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, v.Images, 2)
	assert.True(t, later.Equal(*v.Enrichment.LastCheckedAt))

	err = st.SaveVenueEnrichment(ctx, "gone", nil, meta)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Gallery(t *testing.T) {
	st := newTestSQLiteStore(t)
	seed(t, st)
	ctx := context.Background()

	c, err := st.GetCity(ctx, "lisbon")
	require.NoError(t, err)
	assert.Nil(t, c.Gallery)
	assert.Equal(t, "Portugal", c.CountryName)
	assert.Equal(t, "lisbon", c.ProviderIDs["unsplash"])

	g := model.Gallery{Categories: map[string]model.GalleryCategory{
		"food": {
			Images:          []model.ImageDescriptor{{URL: "https://img/f.jpg", SourceProvider: "pexels", Category: "food"}},
			LastRefreshedAt: "2026-03-01T12:00:00Z",
		},
	}}
	require.NoError(t, st.SaveGallery(ctx, model.EntityCity, "lisbon", g))
	require.NoError(t, st.SaveGallery(ctx, model.EntityCountry, "pt", g))

	c, err = st.GetCity(ctx, "lisbon")
	require.NoError(t, err)
	require.NotNil(t, c.Gallery)
	assert.Equal(t, g, *c.Gallery)

	co, err := st.GetCountry(ctx, "pt")
	require.NoError(t, err)
	assert.Equal(t, 3, co.CityCount)
	require.NotNil(t, co.Gallery)
	assert.Equal(t, "2026-03-01T12:00:00Z", co.Gallery.Categories["food"].LastRefreshedAt)

	assert.True(t, errors.Is(st.SaveGallery(ctx, model.EntityCity, "atlantis", g), ErrNotFound))
	assert.Error(t, st.SaveGallery(ctx, model.EntityVenue, "v1", g))

	_, err = st.GetCountry(ctx, "zz")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_Eligible(t *testing.T) {
	st := newTestSQLiteStore(t)
	seed(t, st)
	ctx := context.Background()

	cities, err := st.EligibleCities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, "lisbon", cities[0].ID)
	assert.Equal(t, "porto", cities[1].ID)

	cities, err = st.EligibleCities(ctx, 5)
	require.NoError(t, err)
	require.Len(t, cities, 1)

	// Iceland has no cities.
	countries, err := st.EligibleCountries(ctx)
	require.NoError(t, err)
	require.Len(t, countries, 1)
	assert.Equal(t, "pt", countries[0].ID)
	assert.Equal(t, 3, countries[0].CityCount)
}

func TestSQLite_Providers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ps := []model.Provider{
		{
			Name:         "google_places",
			IsActive:     true,
			Capabilities: map[string]bool{"images": true},
			Priorities:   map[string]int{"images": 1},
			Metadata: model.ProviderMetadata{
				RateLimits:   model.RateLimits{PerSecond: model.IntPtr(10)},
				CostPerImage: 0.007,
			},
		},
		{Name: "pexels", Capabilities: map[string]bool{"images": true}},
	}
	n, err := st.UpsertProviders(ctx, ps)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ps[1].IsActive = true
	_, err = st.UpsertProviders(ctx, ps)
	require.NoError(t, err)

	got, err := st.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ps[0], got[0])
	assert.True(t, got[1].IsActive)

	n, err = st.UpsertProviders(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, st.Ping(ctx))
}
