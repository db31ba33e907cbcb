// Package orchestrator fetches images for one entity from every enabled
// provider in priority order, honouring rate limits and tolerating partial
// provider failure.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/imagery-cli/internal/cost"
	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/provider"
	"github.com/sells-group/imagery-cli/internal/ratelimit"
	"github.com/sells-group/imagery-cli/internal/resilience"
)

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 15 * time.Second

// Failure reasons recorded per provider.
const (
	ReasonMissingIdentifier = "missing_identifier"
	ReasonRateLimited       = "rate_limited"
	ReasonCircuitOpen       = "circuit_open"
	ReasonProviderError     = "provider_error"
)

// Providers lists enabled providers for a capability in priority order.
type Providers interface {
	Enabled(ctx context.Context, capability string) ([]model.Provider, error)
}

// Target is the entity being enriched.
type Target struct {
	EntityType  model.EntityType
	EntityID    string
	ProviderIDs map[string]string
}

// VenueTarget builds the Target for a venue.
func VenueTarget(v model.Venue) Target {
	return Target{EntityType: model.EntityVenue, EntityID: v.ID, ProviderIDs: v.ProviderIDs}
}

// Metadata describes one fetch.
type Metadata struct {
	ProvidersAttempted []string           `json:"providers_attempted"`
	ProvidersSucceeded []string           `json:"providers_succeeded"`
	ProvidersFailed    []string           `json:"providers_failed"`
	FailureReasons     map[string]string  `json:"failure_reasons,omitempty"`
	CostBreakdown      map[string]float64 `json:"cost_breakdown"`
	RequestsMade       map[string]int     `json:"requests_made"`
	TotalCost          float64            `json:"total_cost"`
	TotalImagesFound   int                `json:"total_images_found"`
	FetchedAt          time.Time          `json:"fetched_at"`
}

// Callable returns the number of attempted providers that had an identifier
// for the entity.
func (m Metadata) Callable() int {
	n := 0
	for _, name := range m.ProvidersAttempted {
		if m.FailureReasons[name] != ReasonMissingIdentifier {
			n++
		}
	}
	return n
}

// AllFailed reports whether at least one provider could have been called and
// none of them succeeded.
func (m Metadata) AllFailed() bool {
	return len(m.ProvidersSucceeded) == 0 && m.Callable() > 0
}

// Result is the output of a fetch.
type Result struct {
	Images   []model.ImageDescriptor `json:"images"`
	Metadata Metadata                `json:"metadata"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProviderTimeout overrides the per-provider call timeout.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreakers guards each provider with a circuit breaker.
func WithBreakers(b *resilience.ProviderBreakers) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// WithCalculator overrides per-image pricing.
func WithCalculator(c *cost.Calculator) Option {
	return func(o *Orchestrator) { o.pricing = c }
}

// WithObserver registers a callback invoked after each provider call.
func WithObserver(fn func(provider string, outcome string, images int, elapsed time.Duration)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// WithClock replaces time.Now for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the per-provider fetch fold. It is safe for concurrent
// use; the limiter is shared across every caller in the process.
type Orchestrator struct {
	providers Providers
	clients   *provider.Set
	limiter   *ratelimit.Limiter
	breakers  *resilience.ProviderBreakers
	pricing   *cost.Calculator
	timeout   time.Duration
	observe   func(provider string, outcome string, images int, elapsed time.Duration)
	now       func() time.Time
	limitLog  *rate.Sometimes
	log       *zap.Logger
}

// New creates an Orchestrator.
func New(providers Providers, clients *provider.Set, limiter *ratelimit.Limiter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		clients:   clients,
		limiter:   limiter,
		timeout:   DefaultProviderTimeout,
		now:       time.Now,
		limitLog:  &rate.Sometimes{First: 3, Interval: 10 * time.Second},
		log:       zap.L().With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// call is one provider invocation. It returns the images found.
type call func(ctx context.Context) ([]model.ImageDescriptor, error)

// aggregate is the fold state across providers.
type aggregate struct {
	attempted []string
	succeeded []string
	failed    []string
	reasons   map[string]string
	images    []model.ImageDescriptor
	tally     *cost.Tally
}

func newAggregate() *aggregate {
	return &aggregate{reasons: make(map[string]string), tally: cost.NewTally()}
}

func (a *aggregate) fail(name, reason string) {
	a.attempted = append(a.attempted, name)
	a.failed = append(a.failed, name)
	a.reasons[name] = reason
}

func (a *aggregate) succeed(name string, images []model.ImageDescriptor) {
	a.attempted = append(a.attempted, name)
	a.succeeded = append(a.succeeded, name)
	a.images = append(a.images, images...)
}

// FetchImages fetches images for target from every enabled image provider.
// Provider failures are captured in the metadata; the only error returned is
// a failure to load the provider registry.
func (o *Orchestrator) FetchImages(ctx context.Context, target Target) (*Result, error) {
	enabled, err := o.providers.Enabled(ctx, model.CapabilityImages)
	if err != nil {
		return nil, err
	}

	agg := newAggregate()
	for _, p := range enabled {
		client := o.clients.Get(p.Name)
		if client == nil {
			o.log.Debug("orchestrator: provider not configured, skipping",
				zap.String("provider", p.Name))
			continue
		}
		id := target.ProviderIDs[p.Name]
		if id == "" {
			agg.fail(p.Name, ReasonMissingIdentifier)
			continue
		}
		o.attempt(ctx, agg, p, target.EntityID, func(ctx context.Context) ([]model.ImageDescriptor, error) {
			return client.FetchByID(ctx, id)
		})
	}

	return o.finish(agg), nil
}

// FetchCategory searches every enabled provider that supports free-text
// search for "<query> <category>" and tags the results with category.
// Providers without search support are not attempted.
func (o *Orchestrator) FetchCategory(ctx context.Context, entityID, query, category string) (*Result, error) {
	enabled, err := o.providers.Enabled(ctx, model.CapabilityImages)
	if err != nil {
		return nil, err
	}

	q := SearchQuery(query, category)
	agg := newAggregate()
	for _, p := range enabled {
		searcher, ok := o.clients.Searcher(p.Name)
		if !ok {
			continue
		}
		o.attempt(ctx, agg, p, entityID, func(ctx context.Context) ([]model.ImageDescriptor, error) {
			images, err := searcher.Search(ctx, q)
			for i := range images {
				images[i].Category = category
			}
			return images, err
		})
	}

	return o.finish(agg), nil
}

// attempt runs one provider through the breaker, the rate limiter and the
// client call, folding the outcome into agg. Breaker.Allow is only called once
// the call is certain, so every Allow is paired with a Record.
func (o *Orchestrator) attempt(ctx context.Context, agg *aggregate, p model.Provider, entityID string, fn call) {
	var breaker *resilience.Breaker
	if o.breakers != nil {
		breaker = o.breakers.Get(p.Name)
		if breaker.State() == resilience.CircuitOpen {
			o.circuitOpen(agg, p.Name)
			return
		}
	}

	if d := o.limiter.Acquire(p); !d.Allowed {
		agg.fail(p.Name, ReasonRateLimited)
		o.notify(p.Name, ReasonRateLimited, 0, 0)
		o.limitLog.Do(func() {
			o.log.Warn("orchestrator: provider rate limited",
				zap.String("provider", p.Name),
				zap.String("window", d.Window),
				zap.Int("limit", d.Limit),
				zap.Int("count", d.Count))
		})
		return
	}
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			o.circuitOpen(agg, p.Name)
			return
		}
	}
	agg.tally.Request(p.Name)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	start := time.Now()
	images, err := fn(callCtx)
	elapsed := time.Since(start)
	cancel()

	if breaker != nil {
		breaker.Record(err)
	}
	if err != nil {
		agg.fail(p.Name, ReasonProviderError)
		o.notify(p.Name, ReasonProviderError, 0, elapsed)
		o.log.Warn("orchestrator: provider call failed",
			zap.String("provider", p.Name),
			zap.String("entity_id", entityID),
			zap.String("kind", string(resilience.Classify(err))),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}

	for i := range images {
		images[i].SourceProvider = p.Name
	}
	agg.succeed(p.Name, images)
	agg.tally.Add(p.Name, o.pricing.Images(p, len(images)))
	o.notify(p.Name, "success", len(images), elapsed)
}

func (o *Orchestrator) circuitOpen(agg *aggregate, name string) {
	agg.fail(name, ReasonCircuitOpen)
	o.notify(name, ReasonCircuitOpen, 0, 0)
}

func (o *Orchestrator) notify(name, outcome string, images int, elapsed time.Duration) {
	if o.observe != nil {
		o.observe(name, outcome, images, elapsed)
	}
}

func (o *Orchestrator) finish(agg *aggregate) *Result {
	images := Dedupe(agg.images)
	return &Result{
		Images: images,
		Metadata: Metadata{
			ProvidersAttempted: nonNil(agg.attempted),
			ProvidersSucceeded: nonNil(agg.succeeded),
			ProvidersFailed:    nonNil(agg.failed),
			FailureReasons:     agg.reasons,
			CostBreakdown:      agg.tally.Breakdown(),
			RequestsMade:       agg.tally.Requests(),
			TotalCost:          agg.tally.Total(),
			TotalImagesFound:   len(images),
			FetchedAt:          o.now().UTC(),
		},
	}
}

// Dedupe drops images whose URL was already seen, keeping the first
// occurrence, and renumbers positions from zero.
func Dedupe(images []model.ImageDescriptor) []model.ImageDescriptor {
	seen := make(map[string]bool, len(images))
	out := make([]model.ImageDescriptor, 0, len(images))
	for _, img := range images {
		if img.URL == "" || seen[img.URL] {
			continue
		}
		seen[img.URL] = true
		img.Position = len(out)
		out = append(out, img)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
