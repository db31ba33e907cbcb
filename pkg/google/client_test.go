package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/resilience"
)

func TestPlaceDetails_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/places/ChIJ123", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "photos")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Place{
			ID:          "ChIJ123",
			DisplayName: DisplayName{Text: "Time Out Market"},
			Photos: []Photo{
				{
					Name:     "places/ChIJ123/photos/AbC",
					WidthPx:  4032,
					HeightPx: 3024,
					AuthorAttributions: []AuthorAttribution{
						{DisplayName: "Ana", URI: "https://maps.google.com/maps/contrib/1"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	place, err := client.PlaceDetails(context.Background(), "ChIJ123")

	require.NoError(t, err)
	assert.Equal(t, "Time Out Market", place.DisplayName.Text)
	require.Len(t, place.Photos, 1)
	assert.Equal(t, 4032, place.Photos[0].WidthPx)
	assert.Equal(t, "Ana", place.Photos[0].AuthorAttributions[0].DisplayName)
}

func TestPhotoMedia_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places/ChIJ123/photos/AbC/media", r.URL.Path)
		assert.Equal(t, "1600", r.URL.Query().Get("maxWidthPx"))
		assert.Equal(t, "true", r.URL.Query().Get("skipHttpRedirect"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PhotoMedia{
			Name:     "places/ChIJ123/photos/AbC/media",
			PhotoURI: "https://lh3.googleusercontent.com/p/AbC=w1600",
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	media, err := client.PhotoMedia(context.Background(), "places/ChIJ123/photos/AbC", 1600)

	require.NoError(t, err)
	assert.Equal(t, "https://lh3.googleusercontent.com/p/AbC=w1600", media.PhotoURI)
}

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.photos")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Lisbon Portugal landmarks", body.TextQuery)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TextSearchResponse{
			Places: []Place{{ID: "p1", Photos: []Photo{{Name: "places/p1/photos/x"}}}},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "Lisbon Portugal landmarks")

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "places/p1/photos/x", resp.Places[0].Photos[0].Name)
}

func TestPlaceDetails_APIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`)) //nolint:errcheck
			}))
			defer srv.Close()

			client := NewClient("bad-key", WithBaseURL(srv.URL))
			place, err := client.PlaceDetails(context.Background(), "ChIJ123")

			require.Error(t, err)
			assert.Nil(t, place)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestPlaceDetails_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).PlaceDetails(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(ctx, "test")

	assert.Error(t, err)
	assert.Nil(t, resp)
}
