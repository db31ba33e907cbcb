package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/imagery-cli/internal/cost"
	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/provider"
	"github.com/sells-group/imagery-cli/internal/ratelimit"
	"github.com/sells-group/imagery-cli/internal/registry"
	"github.com/sells-group/imagery-cli/internal/resilience"
)

type fakeClient struct {
	name   string
	images []string
	err    error
	block  bool

	mu      sync.Mutex
	calls   int
	lastArg string
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchByID(ctx context.Context, id string) ([]model.ImageDescriptor, error) {
	return f.run(ctx, id)
}

func (f *fakeClient) run(ctx context.Context, arg string) ([]model.ImageDescriptor, error) {
	f.mu.Lock()
	f.calls++
	f.lastArg = arg
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.ImageDescriptor, 0, len(f.images))
	for _, u := range f.images {
		out = append(out, model.ImageDescriptor{URL: u})
	}
	return out, nil
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSearcher struct {
	fakeClient
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]model.ImageDescriptor, error) {
	return f.run(ctx, query)
}

type failingProviders struct{}

func (failingProviders) Enabled(context.Context, string) ([]model.Provider, error) {
	return nil, errors.New("db down")
}

func imagesProvider(name string, priority int, costPerImage float64, rl model.RateLimits) model.Provider {
	return model.Provider{
		Name:         name,
		IsActive:     true,
		Capabilities: map[string]bool{model.CapabilityImages: true},
		Priorities:   map[string]int{model.CapabilityImages: priority},
		Metadata:     model.ProviderMetadata{RateLimits: rl, CostPerImage: costPerImage},
	}
}

func newRegistry(t *testing.T, ps ...model.Provider) *registry.Registry {
	t.Helper()
	src, err := registry.NewStatic(ps)
	require.NoError(t, err)
	return registry.New(src)
}

func urls(images []model.ImageDescriptor) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.URL
	}
	return out
}

func TestFetchImages_PriorityOrderAndDedupe(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 2, 0.01, model.RateLimits{}),
		imagesProvider("B", 1, 0.02, model.RateLimits{}),
	)
	a := &fakeClient{name: "A", images: []string{"https://x/2", "https://x/3"}}
	b := &fakeClient{name: "B", images: []string{"https://x/1", "https://x/2"}}
	o := New(reg, provider.NewSet(a, b), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{
		EntityType:  model.EntityVenue,
		EntityID:    "v1",
		ProviderIDs: map[string]string{"A": "a-id", "B": "b-id"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://x/1", "https://x/2", "https://x/3"}, urls(res.Images))
	for i, img := range res.Images {
		assert.Equal(t, i, img.Position)
	}
	assert.Equal(t, "B", res.Images[1].SourceProvider, "first occurrence in priority order wins")
	assert.Equal(t, []string{"B", "A"}, res.Metadata.ProvidersAttempted)
	assert.Equal(t, []string{"B", "A"}, res.Metadata.ProvidersSucceeded)
	assert.Empty(t, res.Metadata.ProvidersFailed)
	assert.Equal(t, 3, res.Metadata.TotalImagesFound)
	assert.Equal(t, "a-id", a.lastArg)
}

func TestFetchImages_CostPerImage(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("google_places", 1, 0.007, model.RateLimits{}),
		imagesProvider("unsplash", 2, 0, model.RateLimits{}),
	)
	g := &fakeClient{name: "google_places", images: []string{"g1", "g2", "g3"}}
	u := &fakeClient{name: "unsplash", images: []string{"u1"}}
	o := New(reg, provider.NewSet(g, u), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{
		ProviderIDs: map[string]string{"google_places": "p", "unsplash": "c"},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.021, res.Metadata.CostBreakdown["google_places"], 1e-9)
	assert.InDelta(t, 0.0, res.Metadata.CostBreakdown["unsplash"], 1e-9)
	assert.InDelta(t, 0.021, res.Metadata.TotalCost, 1e-9)
	assert.Equal(t, map[string]int{"google_places": 1, "unsplash": 1}, res.Metadata.RequestsMade)
}

func TestFetchImages_PricingOverride(t *testing.T) {
	reg := newRegistry(t, imagesProvider("A", 1, 0.5, model.RateLimits{}))
	a := &fakeClient{name: "A", images: []string{"1", "2"}}
	o := New(reg, provider.NewSet(a), ratelimit.New(),
		WithCalculator(cost.NewCalculator(map[string]float64{"A": 0.1})))

	res, err := o.FetchImages(context.Background(), Target{ProviderIDs: map[string]string{"A": "x"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Metadata.TotalCost, 1e-9)
}

func TestFetchImages_EmptyProviderIDs(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 1, 0.01, model.RateLimits{}),
		imagesProvider("B", 2, 0.01, model.RateLimits{}),
	)
	a := &fakeClient{name: "A", images: []string{"1"}}
	b := &fakeClient{name: "B", images: []string{"2"}}
	o := New(reg, provider.NewSet(a, b), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{EntityID: "v1"})
	require.NoError(t, err)

	assert.Empty(t, res.Images)
	assert.Equal(t, 0, res.Metadata.TotalImagesFound)
	assert.Equal(t, []string{"A", "B"}, res.Metadata.ProvidersAttempted)
	assert.Equal(t, []string{"A", "B"}, res.Metadata.ProvidersFailed)
	assert.Equal(t, ReasonMissingIdentifier, res.Metadata.FailureReasons["A"])
	assert.Zero(t, a.Calls())
	assert.Zero(t, res.Metadata.Callable())
	assert.False(t, res.Metadata.AllFailed())
}

func TestFetchImages_NoEnabledProviders(t *testing.T) {
	inactive := imagesProvider("A", 1, 0, model.RateLimits{})
	inactive.IsActive = false
	reg := newRegistry(t, inactive)
	o := New(reg, provider.NewSet(&fakeClient{name: "A"}), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{ProviderIDs: map[string]string{"A": "x"}})
	require.NoError(t, err)

	assert.NotNil(t, res.Images)
	assert.Empty(t, res.Images)
	assert.Equal(t, []string{}, res.Metadata.ProvidersAttempted)
	assert.NotNil(t, res.Metadata.CostBreakdown)
	assert.False(t, res.Metadata.FetchedAt.IsZero())
}

func TestFetchImages_RateLimitedMakesNoCall(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 1, 0.05, model.RateLimits{PerSecond: model.IntPtr(5)}),
		imagesProvider("B", 2, 0.01, model.RateLimits{}),
	)
	limiter := ratelimit.New()
	for i := 0; i < 5; i++ {
		limiter.Record("A")
	}
	a := &fakeClient{name: "A", images: []string{"a"}}
	b := &fakeClient{name: "B", images: []string{"b"}}
	o := New(reg, provider.NewSet(a, b), limiter)

	res, err := o.FetchImages(context.Background(), Target{
		ProviderIDs: map[string]string{"A": "1", "B": "2"},
	})
	require.NoError(t, err)

	assert.Zero(t, a.Calls())
	assert.Equal(t, []string{"A"}, res.Metadata.ProvidersFailed)
	assert.Equal(t, ReasonRateLimited, res.Metadata.FailureReasons["A"])
	assert.Zero(t, res.Metadata.CostBreakdown["A"])
	assert.Zero(t, res.Metadata.RequestsMade["A"])
	assert.Equal(t, []string{"b"}, urls(res.Images))
	assert.Equal(t, 5, limiter.Stats("A").LastSecond)
}

func TestFetchImages_ProviderErrorDoesNotAbort(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 1, 0.01, model.RateLimits{}),
		imagesProvider("B", 2, 0.01, model.RateLimits{}),
		imagesProvider("C", 3, 0.01, model.RateLimits{}),
	)
	a := &fakeClient{name: "A", err: resilience.StatusError("a", 503, nil)}
	b := &fakeClient{name: "B", err: resilience.StatusError("b", 403, nil)}
	c := &fakeClient{name: "C", images: []string{"c1"}}
	o := New(reg, provider.NewSet(a, b, c), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{
		ProviderIDs: map[string]string{"A": "1", "B": "2", "C": "3"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, res.Metadata.ProvidersAttempted)
	assert.Equal(t, []string{"A", "B"}, res.Metadata.ProvidersFailed)
	assert.Equal(t, []string{"C"}, res.Metadata.ProvidersSucceeded)
	assert.Equal(t, ReasonProviderError, res.Metadata.FailureReasons["B"])
	assert.Equal(t, 1, res.Metadata.RequestsMade["A"], "a failed call still counts as a request")
	assert.Equal(t, 1, res.Metadata.TotalImagesFound)
	assert.False(t, res.Metadata.AllFailed())
}

func TestFetchImages_AllCallableFailed(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 1, 0, model.RateLimits{}),
		imagesProvider("B", 2, 0, model.RateLimits{}),
	)
	a := &fakeClient{name: "A", err: errors.New("boom")}
	b := &fakeClient{name: "B"}
	o := New(reg, provider.NewSet(a, b), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{ProviderIDs: map[string]string{"A": "1"}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Metadata.Callable())
	assert.True(t, res.Metadata.AllFailed())
}

func TestFetchImages_Timeout(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("slow", 1, 0, model.RateLimits{}),
		imagesProvider("fast", 2, 0, model.RateLimits{}),
	)
	slow := &fakeClient{name: "slow", block: true}
	fast := &fakeClient{name: "fast", images: []string{"f"}}
	o := New(reg, provider.NewSet(slow, fast), ratelimit.New(),
		WithProviderTimeout(20*time.Millisecond))

	res, err := o.FetchImages(context.Background(), Target{
		ProviderIDs: map[string]string{"slow": "1", "fast": "2"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"slow"}, res.Metadata.ProvidersFailed)
	assert.Equal(t, []string{"f"}, urls(res.Images))
}

func TestFetchImages_UnconfiguredClientExcluded(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("A", 1, 0, model.RateLimits{}),
		imagesProvider("B", 2, 0, model.RateLimits{}),
	)
	b := &fakeClient{name: "B", images: []string{"b"}}
	o := New(reg, provider.NewSet(b), ratelimit.New())

	res, err := o.FetchImages(context.Background(), Target{
		ProviderIDs: map[string]string{"A": "1", "B": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Metadata.ProvidersAttempted)
}

func TestFetchImages_CircuitOpen(t *testing.T) {
	reg := newRegistry(t, imagesProvider("A", 1, 0, model.RateLimits{}))
	a := &fakeClient{name: "A", err: resilience.NewTransientError(errors.New("503"), 503)}
	breakers := resilience.NewProviderBreakers(resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	limiter := ratelimit.New()

	var outcomes []string
	o := New(reg, provider.NewSet(a), limiter, WithBreakers(breakers),
		WithObserver(func(_ string, outcome string, _ int, _ time.Duration) {
			outcomes = append(outcomes, outcome)
		}))
	target := Target{ProviderIDs: map[string]string{"A": "1"}}

	for i := 0; i < 2; i++ {
		_, err := o.FetchImages(context.Background(), target)
		require.NoError(t, err)
	}
	res, err := o.FetchImages(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, ReasonCircuitOpen, res.Metadata.FailureReasons["A"])
	assert.Equal(t, []string{ReasonProviderError, ReasonProviderError, ReasonCircuitOpen}, outcomes)
	assert.Equal(t, 2, limiter.Stats("A").LastSecond, "an open circuit does not use a rate-limit slot")
}

func TestFetchImages_RateLimitedLeavesBreakerOpen(t *testing.T) {
	reg := newRegistry(t, imagesProvider("A", 1, 0, model.RateLimits{PerHour: model.IntPtr(1)}))
	a := &fakeClient{name: "A", err: resilience.NewTransientError(errors.New("503"), 503)}

	var transitions []string
	breakers := resilience.NewProviderBreakers(resilience.BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange: func(_ string, from, to resilience.CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	o := New(reg, provider.NewSet(a), ratelimit.New(), WithBreakers(breakers))
	target := Target{ProviderIDs: map[string]string{"A": "1"}}

	_, err := o.FetchImages(context.Background(), target)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	res, err := o.FetchImages(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, ReasonRateLimited, res.Metadata.FailureReasons["A"])
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, []string{"closed->open"}, transitions, "no probe was made, so the breaker must not go half-open")
}

func TestFetchImages_RegistryError(t *testing.T) {
	o := New(failingProviders{}, provider.NewSet(), ratelimit.New())
	_, err := o.FetchImages(context.Background(), Target{})
	assert.Error(t, err)
}

func TestFetchImages_FetchedAtUsesClock(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	o := New(newRegistry(t), provider.NewSet(), ratelimit.New(),
		WithClock(func() time.Time { return fixed }))

	res, err := o.FetchImages(context.Background(), Target{})
	require.NoError(t, err)
	assert.Equal(t, fixed, res.Metadata.FetchedAt)
}

func TestFetchCategory_SearchersOnly(t *testing.T) {
	reg := newRegistry(t,
		imagesProvider("google_places", 1, 0.007, model.RateLimits{}),
		imagesProvider("foursquare", 2, 0, model.RateLimits{}),
		imagesProvider("unsplash", 3, 0, model.RateLimits{}),
	)
	g := &fakeSearcher{fakeClient{name: "google_places", images: []string{"g1"}}}
	fsq := &fakeClient{name: "foursquare", images: []string{"f1"}}
	u := &fakeSearcher{fakeClient{name: "unsplash", images: []string{"u1", "g1"}}}
	o := New(reg, provider.NewSet(g, fsq, u), ratelimit.New())

	res, err := o.FetchCategory(context.Background(), "c1", "Évora  Portugal", "food")
	require.NoError(t, err)

	assert.Zero(t, fsq.Calls())
	assert.Equal(t, "Evora Portugal food", u.lastArg)
	assert.Equal(t, []string{"google_places", "unsplash"}, res.Metadata.ProvidersAttempted)
	assert.Equal(t, []string{"g1", "u1"}, urls(res.Images))
	for _, img := range res.Images {
		assert.Equal(t, "food", img.Category)
	}
	assert.InDelta(t, 0.007, res.Metadata.TotalCost, 1e-9)
}

func TestFetchCategory_ConcurrentCallersShareLimiter(t *testing.T) {
	reg := newRegistry(t, imagesProvider("unsplash", 1, 0, model.RateLimits{PerHour: model.IntPtr(3)}))
	u := &fakeSearcher{fakeClient{name: "unsplash", images: []string{"u"}}}
	o := New(reg, provider.NewSet(u), ratelimit.New())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.FetchCategory(context.Background(), "c", "Lisbon", "streets")
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, u.Calls())
}

func TestDedupe(t *testing.T) {
	in := []model.ImageDescriptor{
		{URL: "a", Position: 9}, {URL: ""}, {URL: "b"}, {URL: "a", SourceProvider: "late"},
	}
	out := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].URL)
	assert.Equal(t, 0, out[0].Position)
	assert.Empty(t, out[0].SourceProvider)
	assert.Equal(t, 1, out[1].Position)
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "Sao Paulo Brazil landmarks", SearchQuery("São Paulo  Brazil", "landmarks"))
	assert.Equal(t, "Reykjavik nature", SearchQuery("Reykjavík", "nature"))
}
