package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/pkg/google"
)

// GoogleClient resolves Google Places photos. Each photo reference costs one
// media lookup, capped at maxPhotos per place.
type GoogleClient struct {
	api       google.Client
	maxPhotos int
	maxWidth  int
}

// NewGoogle wraps a Places client.
func NewGoogle(api google.Client, maxPhotos, maxWidth int) *GoogleClient {
	if maxPhotos <= 0 {
		maxPhotos = 10
	}
	if maxWidth <= 0 {
		maxWidth = 1600
	}
	return &GoogleClient{api: api, maxPhotos: maxPhotos, maxWidth: maxWidth}
}

func (g *GoogleClient) Name() string { return GooglePlaces }

func (g *GoogleClient) FetchByID(ctx context.Context, placeID string) ([]model.ImageDescriptor, error) {
	place, err := g.api.PlaceDetails(ctx, placeID)
	if err != nil {
		return nil, err
	}
	return g.resolve(ctx, place.Photos)
}

func (g *GoogleClient) Search(ctx context.Context, query string) ([]model.ImageDescriptor, error) {
	resp, err := g.api.TextSearch(ctx, query)
	if err != nil {
		return nil, err
	}
	var photos []google.Photo
	for _, p := range resp.Places {
		photos = append(photos, p.Photos...)
		if len(photos) >= g.maxPhotos {
			break
		}
	}
	return g.resolve(ctx, photos)
}

// resolve turns photo references into URLs. A failed lookup drops that photo;
// the error is returned only when nothing resolved.
func (g *GoogleClient) resolve(ctx context.Context, photos []google.Photo) ([]model.ImageDescriptor, error) {
	if len(photos) > g.maxPhotos {
		photos = photos[:g.maxPhotos]
	}
	out := make([]model.ImageDescriptor, 0, len(photos))
	var firstErr error
	for _, p := range photos {
		media, err := g.api.PhotoMedia(ctx, p.Name, g.maxWidth)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			zap.L().Debug("provider: google photo media failed",
				zap.String("photo", p.Name), zap.Error(err))
			continue
		}
		if media.PhotoURI == "" {
			continue
		}
		d := model.ImageDescriptor{URL: media.PhotoURI, Width: p.WidthPx, Height: p.HeightPx}
		if len(p.AuthorAttributions) > 0 {
			d.Attribution = p.AuthorAttributions[0].DisplayName
		}
		out = append(out, d)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, eris.Wrap(firstErr, "provider: google photo media")
	}
	return descriptors(GooglePlaces, out), nil
}
