// Package worker refreshes the images of a single venue, city or country.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/orchestrator"
	"github.com/sells-group/imagery-cli/internal/staleness"
	"github.com/sells-group/imagery-cli/internal/store"
)

// ErrAllProvidersFailed is returned when every callable provider failed for a
// venue, or every category failed for a gallery. The job is retryable.
var ErrAllProvidersFailed = eris.New("worker: all providers failed")

// Result reasons not covered by the staleness package.
const (
	ReasonNoIdentifiers     = "no provider identifiers"
	ReasonNoSearchProviders = "no search-capable providers"
	ReasonMissingCategory   = "missing category"
)

// Store is the persistence the worker needs.
type Store interface {
	GetVenue(ctx context.Context, id string) (*model.Venue, error)
	GetCity(ctx context.Context, id string) (*model.City, error)
	GetCountry(ctx context.Context, id string) (*model.Country, error)
	SaveVenueEnrichment(ctx context.Context, id string, images []model.ImageDescriptor, meta model.EnrichmentMetadata) error
	SaveGallery(ctx context.Context, entityType model.EntityType, id string, gallery model.Gallery) error
}

// Fetcher fetches images across providers.
type Fetcher interface {
	FetchImages(ctx context.Context, target orchestrator.Target) (*orchestrator.Result, error)
	FetchCategory(ctx context.Context, entityID, query, category string) (*orchestrator.Result, error)
}

// Handler runs worker jobs.
type Handler struct {
	store       Store
	fetcher     Fetcher
	policy      *staleness.Policy
	categories  []string
	refreshDays int
	now         func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces time.Now for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler refreshing the given gallery categories.
func New(st Store, fetcher Fetcher, policy *staleness.Policy, categories []string, refreshDays int, opts ...Option) *Handler {
	h := &Handler{
		store:       st,
		fetcher:     fetcher,
		policy:      policy,
		categories:  categories,
		refreshDays: refreshDays,
		now:         time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle runs one job. Errors wrapped with jobs.Terminal must not be retried.
func (h *Handler) Handle(ctx context.Context, job model.EnrichmentJob) (*model.WorkerResult, error) {
	switch job.EntityType {
	case model.EntityVenue:
		return h.Venue(ctx, job.EntityID, job.Force)
	case model.EntityCity:
		return h.City(ctx, job.EntityID, job.Force)
	case model.EntityCountry:
		return h.Country(ctx, job.EntityID, job.Force)
	default:
		return nil, jobs.Terminal(eris.Errorf("worker: unknown entity type %q", job.EntityType))
	}
}

// Venue refreshes a venue's images from every provider it has an id for.
func (h *Handler) Venue(ctx context.Context, id string, force bool) (*model.WorkerResult, error) {
	log := zap.L().With(zap.String("entity_type", "venue"), zap.String("entity_id", id))

	v, err := h.store.GetVenue(ctx, id)
	if err != nil {
		return nil, loadError(err, "venue", id)
	}

	res := &model.WorkerResult{EntityID: id, EntityType: model.EntityVenue}
	d := h.policy.CheckVenue(*v, force)
	if !d.Refresh {
		res.Skipped, res.Reason, res.AgeDays = true, d.Reason, d.AgeDays
		log.Debug("worker: venue fresh, skipping", zap.Float64("age_days", d.AgeDays))
		return res, nil
	}

	fetched, err := h.fetcher.FetchImages(ctx, orchestrator.VenueTarget(*v))
	if err != nil {
		return nil, eris.Wrapf(err, "worker: fetch venue %s", id)
	}
	md := fetched.Metadata

	now := h.now().UTC()
	meta := model.EnrichmentMetadata{
		LastCheckedAt:      &now,
		ProvidersAttempted: md.ProvidersAttempted,
		ProvidersSucceeded: md.ProvidersSucceeded,
		ProvidersFailed:    md.ProvidersFailed,
		TotalCost:          md.TotalCost,
	}
	// A failed check must not make the venue look fresh to the retry.
	if md.AllFailed() {
		meta.LastCheckedAt = nil
		if v.Enrichment != nil {
			meta.LastCheckedAt = v.Enrichment.LastCheckedAt
		}
	}
	// Existing images are kept unless some provider answered.
	var images []model.ImageDescriptor
	if len(md.ProvidersSucceeded) > 0 {
		images = fetched.Images
	}
	if err := h.store.SaveVenueEnrichment(ctx, id, images, meta); err != nil {
		return nil, eris.Wrapf(err, "worker: save venue %s", id)
	}

	res.ImagesFetched = len(fetched.Images)
	res.TotalCost = md.TotalCost
	res.Reason = d.Reason
	if md.Callable() == 0 {
		res.Reason = ReasonNoIdentifiers
	}
	if md.AllFailed() {
		log.Warn("worker: every provider failed",
			zap.Strings("failed", md.ProvidersFailed),
			zap.Any("reasons", md.FailureReasons))
		return res, eris.Wrapf(ErrAllProvidersFailed, "venue %s", id)
	}

	log.Info("worker: venue enriched",
		zap.Int("images", res.ImagesFetched),
		zap.Strings("succeeded", md.ProvidersSucceeded),
		zap.Float64("total_cost", md.TotalCost))
	return res, nil
}

// City refreshes a city's gallery.
func (h *Handler) City(ctx context.Context, id string, force bool) (*model.WorkerResult, error) {
	c, err := h.store.GetCity(ctx, id)
	if err != nil {
		return nil, loadError(err, "city", id)
	}
	return h.gallery(ctx, model.EntityCity, id, c.SearchQuery(), c.Gallery, force)
}

// Country refreshes a country's gallery.
func (h *Handler) Country(ctx context.Context, id string, force bool) (*model.WorkerResult, error) {
	c, err := h.store.GetCountry(ctx, id)
	if err != nil {
		return nil, loadError(err, "country", id)
	}
	return h.gallery(ctx, model.EntityCountry, id, c.SearchQuery(), c.Gallery, force)
}

// gallery refreshes each configured category independently. Categories that
// fail keep their previous images; the job fails only if none succeeded.
func (h *Handler) gallery(ctx context.Context, entityType model.EntityType, id, query string, existing *model.Gallery, force bool) (*model.WorkerResult, error) {
	log := zap.L().With(zap.String("entity_type", string(entityType)), zap.String("entity_id", id))
	res := &model.WorkerResult{EntityID: id, EntityType: entityType}

	existing = h.configured(existing)
	d := h.checkGallery(existing, force)
	if !d.Refresh {
		res.Skipped, res.Reason, res.AgeDays = true, d.Reason, d.AgeDays
		log.Debug("worker: gallery fresh, skipping", zap.Float64("age_days", d.AgeDays))
		return res, nil
	}
	res.Reason = d.Reason

	next := model.Gallery{Categories: make(map[string]model.GalleryCategory)}
	if existing != nil {
		for name, cat := range existing.Categories {
			next.Categories[name] = cat
		}
	}

	stamp := h.now().UTC().Format(time.RFC3339)
	attempted := 0
	for _, category := range h.categories {
		fetched, err := h.fetcher.FetchCategory(ctx, id, query, category)
		if err != nil {
			return nil, eris.Wrapf(err, "worker: fetch %s %s category %s", entityType, id, category)
		}
		md := fetched.Metadata
		res.TotalCost += md.TotalCost
		if len(md.ProvidersAttempted) == 0 {
			continue
		}
		attempted++
		if len(md.ProvidersSucceeded) == 0 || len(fetched.Images) == 0 {
			res.CategoriesFailed = append(res.CategoriesFailed, category)
			log.Warn("worker: category refresh failed",
				zap.String("category", category),
				zap.Any("reasons", md.FailureReasons))
			continue
		}
		next.Categories[category] = model.GalleryCategory{Images: fetched.Images, LastRefreshedAt: stamp}
		res.CategoriesRefreshed++
	}

	if attempted == 0 {
		res.Skipped, res.Reason = true, ReasonNoSearchProviders
		log.Warn("worker: no search-capable provider is enabled")
		return res, nil
	}
	if res.CategoriesRefreshed == 0 {
		return res, eris.Wrapf(ErrAllProvidersFailed, "%s %s: every category failed", entityType, id)
	}

	if err := h.store.SaveGallery(ctx, entityType, id, next); err != nil {
		return nil, eris.Wrapf(err, "worker: save %s %s gallery", entityType, id)
	}
	log.Info("worker: gallery refreshed",
		zap.Int("categories_refreshed", res.CategoriesRefreshed),
		zap.Strings("categories_failed", res.CategoriesFailed),
		zap.Float64("total_cost", res.TotalCost))
	return res, nil
}

// configured returns g restricted to the configured categories. Dropped
// categories neither age the gallery nor survive the next save.
func (h *Handler) configured(g *model.Gallery) *model.Gallery {
	if g == nil || len(h.categories) == 0 {
		return g
	}
	out := &model.Gallery{Categories: make(map[string]model.GalleryCategory, len(h.categories))}
	for _, name := range h.categories {
		if cat, ok := g.Categories[name]; ok {
			out.Categories[name] = cat
		}
	}
	return out
}

func (h *Handler) checkGallery(g *model.Gallery, force bool) staleness.Decision {
	if force {
		return staleness.Decision{Refresh: true, Reason: staleness.ReasonForced}
	}
	if g != nil && len(g.Categories) > 0 {
		for _, c := range h.categories {
			if _, ok := g.Categories[c]; !ok {
				return staleness.Decision{Refresh: true, Reason: ReasonMissingCategory}
			}
		}
	}
	return h.policy.ShouldRefreshGallery(g, h.refreshDays)
}

func loadError(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return jobs.Terminal(eris.Wrapf(err, "worker: %s %s", entity, id))
	}
	return eris.Wrapf(err, "worker: load %s %s", entity, id)
}
