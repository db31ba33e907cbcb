package provider

import (
	"context"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/pkg/foursquare"
)

// FoursquareClient fetches venue photos by Foursquare place id.
type FoursquareClient struct {
	api   foursquare.Client
	limit int
}

// NewFoursquare wraps a Foursquare client.
func NewFoursquare(api foursquare.Client, limit int) *FoursquareClient {
	return &FoursquareClient{api: api, limit: limit}
}

func (f *FoursquareClient) Name() string { return Foursquare }

func (f *FoursquareClient) FetchByID(ctx context.Context, fsqID string) ([]model.ImageDescriptor, error) {
	photos, err := f.api.PlacePhotos(ctx, fsqID, f.limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.ImageDescriptor, 0, len(photos))
	for _, p := range photos {
		if u := p.URL(); u != "" {
			out = append(out, model.ImageDescriptor{URL: u, Width: p.Width, Height: p.Height})
		}
	}
	return descriptors(Foursquare, out), nil
}
