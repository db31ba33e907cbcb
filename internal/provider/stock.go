package provider

import (
	"context"

	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/pkg/pexels"
	"github.com/sells-group/imagery-cli/pkg/unsplash"
)

// UnsplashClient searches Unsplash. Its provider id is a collection id.
type UnsplashClient struct {
	api     unsplash.Client
	perPage int
}

// NewUnsplash wraps an Unsplash client.
func NewUnsplash(api unsplash.Client, perPage int) *UnsplashClient {
	return &UnsplashClient{api: api, perPage: perPage}
}

func (u *UnsplashClient) Name() string { return Unsplash }

func (u *UnsplashClient) FetchByID(ctx context.Context, collectionID string) ([]model.ImageDescriptor, error) {
	photos, err := u.api.CollectionPhotos(ctx, collectionID, u.perPage)
	if err != nil {
		return nil, err
	}
	return unsplashImages(photos), nil
}

func (u *UnsplashClient) Search(ctx context.Context, query string) ([]model.ImageDescriptor, error) {
	photos, err := u.api.SearchPhotos(ctx, query, u.perPage)
	if err != nil {
		return nil, err
	}
	return unsplashImages(photos), nil
}

func unsplashImages(photos []unsplash.Photo) []model.ImageDescriptor {
	out := make([]model.ImageDescriptor, 0, len(photos))
	for _, p := range photos {
		if p.URLs.Regular == "" {
			continue
		}
		out = append(out, model.ImageDescriptor{
			URL:         p.URLs.Regular,
			Attribution: p.User.Name,
			Width:       p.Width,
			Height:      p.Height,
		})
	}
	return descriptors(Unsplash, out)
}

// PexelsClient searches Pexels. Its provider id is a collection id.
type PexelsClient struct {
	api     pexels.Client
	perPage int
}

// NewPexels wraps a Pexels client.
func NewPexels(api pexels.Client, perPage int) *PexelsClient {
	return &PexelsClient{api: api, perPage: perPage}
}

func (p *PexelsClient) Name() string { return Pexels }

func (p *PexelsClient) FetchByID(ctx context.Context, collectionID string) ([]model.ImageDescriptor, error) {
	photos, err := p.api.Collection(ctx, collectionID, p.perPage)
	if err != nil {
		return nil, err
	}
	return pexelsImages(photos), nil
}

func (p *PexelsClient) Search(ctx context.Context, query string) ([]model.ImageDescriptor, error) {
	photos, err := p.api.Search(ctx, query, p.perPage)
	if err != nil {
		return nil, err
	}
	return pexelsImages(photos), nil
}

func pexelsImages(photos []pexels.Photo) []model.ImageDescriptor {
	out := make([]model.ImageDescriptor, 0, len(photos))
	for _, ph := range photos {
		u := ph.Src.Large2x
		if u == "" {
			u = ph.Src.Original
		}
		if u == "" {
			continue
		}
		out = append(out, model.ImageDescriptor{
			URL:         u,
			Attribution: ph.Photographer,
			Width:       ph.Width,
			Height:      ph.Height,
		})
	}
	return descriptors(Pexels, out)
}
