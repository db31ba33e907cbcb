package provider

import (
	"github.com/sells-group/imagery-cli/internal/config"
	"github.com/sells-group/imagery-cli/pkg/foursquare"
	"github.com/sells-group/imagery-cli/pkg/google"
	"github.com/sells-group/imagery-cli/pkg/pexels"
	"github.com/sells-group/imagery-cli/pkg/unsplash"
)

// FromConfig builds a Set holding a client for every provider that has
// credentials. Providers without credentials are left out and are treated as
// unconfigured by the orchestrator.
func FromConfig(cfg *config.Config) *Set {
	s := NewSet()
	if cfg.Google.Key != "" {
		api := google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
		s.Register(NewGoogle(api, cfg.Google.MaxPhotos, cfg.Google.MaxWidth))
	}
	if cfg.Foursquare.Key != "" {
		api := foursquare.NewClient(cfg.Foursquare.Key, foursquare.WithBaseURL(cfg.Foursquare.BaseURL))
		s.Register(NewFoursquare(api, cfg.Foursquare.Limit))
	}
	if cfg.Unsplash.AccessKey != "" {
		api := unsplash.NewClient(cfg.Unsplash.AccessKey, unsplash.WithBaseURL(cfg.Unsplash.BaseURL))
		s.Register(NewUnsplash(api, cfg.Unsplash.PerPage))
	}
	if cfg.Pexels.Key != "" {
		api := pexels.NewClient(cfg.Pexels.Key, pexels.WithBaseURL(cfg.Pexels.BaseURL))
		s.Register(NewPexels(api, cfg.Pexels.PerPage))
	}
	return s
}
