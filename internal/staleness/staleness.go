// Package staleness decides whether an entity's stored images are old enough
// to fetch again.
package staleness

import (
	"time"

	"github.com/sells-group/imagery-cli/internal/model"
)

const day = 24 * time.Hour

// Defaults.
const (
	DefaultEmptyAfter         = 7 * day
	DefaultFoundAfter         = 90 * day
	DefaultGalleryRefreshDays = 30
)

// Reasons reported in a Decision.
const (
	ReasonForced         = "forced"
	ReasonNeverChecked   = "never checked"
	ReasonEmptyExpired   = "no images, recheck due"
	ReasonFoundExpired   = "images expired"
	ReasonFresh          = "fresh"
	ReasonNoGallery      = "no gallery"
	ReasonNoCategories   = "no categories"
	ReasonUnparseable    = "unparseable timestamp"
	ReasonGalleryExpired = "gallery expired"
)

// Decision is the outcome of a staleness check. AgeDays is the age of the
// data the decision was based on, zero when unknown.
type Decision struct {
	Refresh bool    `json:"refresh"`
	Reason  string  `json:"reason"`
	AgeDays float64 `json:"age_days,omitempty"`
}

// Policy holds the refresh thresholds.
type Policy struct {
	EmptyAfter         time.Duration
	FoundAfter         time.Duration
	GalleryRefreshDays int

	now func() time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New creates a Policy. Non-positive thresholds take the defaults of 7 days
// for empty results, 90 days for found images and 30 days for galleries.
func New(emptyAfterDays, foundAfterDays, galleryRefreshDays int, opts ...Option) *Policy {
	p := &Policy{
		EmptyAfter:         time.Duration(emptyAfterDays) * day,
		FoundAfter:         time.Duration(foundAfterDays) * day,
		GalleryRefreshDays: galleryRefreshDays,
		now:                time.Now,
	}
	if p.EmptyAfter <= 0 {
		p.EmptyAfter = DefaultEmptyAfter
	}
	if p.FoundAfter <= 0 {
		p.FoundAfter = DefaultFoundAfter
	}
	if p.GalleryRefreshDays <= 0 {
		p.GalleryRefreshDays = DefaultGalleryRefreshDays
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NeedsEnrichment reports whether the venue should be fetched again.
func (p *Policy) NeedsEnrichment(v model.Venue, force bool) bool {
	return p.CheckVenue(v, force).Refresh
}

// CheckVenue is NeedsEnrichment with the reason and age attached.
func (p *Policy) CheckVenue(v model.Venue, force bool) Decision {
	if force {
		return Decision{Refresh: true, Reason: ReasonForced}
	}
	if v.Enrichment == nil || v.Enrichment.LastCheckedAt == nil {
		return Decision{Refresh: true, Reason: ReasonNeverChecked}
	}

	age := p.now().Sub(*v.Enrichment.LastCheckedAt)
	d := Decision{Reason: ReasonFresh, AgeDays: days(age)}
	switch {
	case len(v.Images) == 0 && age > p.EmptyAfter:
		d.Refresh, d.Reason = true, ReasonEmptyExpired
	case len(v.Images) > 0 && age > p.FoundAfter:
		d.Refresh, d.Reason = true, ReasonFoundExpired
	}
	return d
}

// ShouldRefreshGallery checks a city or country gallery against refreshDays
// (the policy default when non-positive). The gallery is as old as its
// stalest category; a category without a parseable timestamp makes the whole
// gallery stale.
func (p *Policy) ShouldRefreshGallery(g *model.Gallery, refreshDays int) Decision {
	if g == nil {
		return Decision{Refresh: true, Reason: ReasonNoGallery}
	}
	if len(g.Categories) == 0 {
		return Decision{Refresh: true, Reason: ReasonNoCategories}
	}
	if refreshDays <= 0 {
		refreshDays = p.GalleryRefreshDays
	}

	var oldest time.Time
	for _, c := range g.Categories {
		t, ok := c.RefreshedAt()
		if !ok {
			return Decision{Refresh: true, Reason: ReasonUnparseable}
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}

	now := p.now()
	d := Decision{Reason: ReasonFresh, AgeDays: days(now.Sub(oldest))}
	if oldest.Before(now.Add(-time.Duration(refreshDays) * day)) {
		d.Refresh, d.Reason = true, ReasonGalleryExpired
	}
	return d
}

func days(d time.Duration) float64 {
	return float64(d) / float64(day)
}
