// Package cost accounts for per-provider image spend.
package cost

import (
	"math"
	"sort"
	"sync"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Calculator prices provider calls, optionally overriding the per-image rate
// a provider record declares.
type Calculator struct {
	overrides map[string]float64
}

// NewCalculator creates a Calculator. overrides maps provider name to a
// per-image price in USD; nil means every provider's own rate applies.
func NewCalculator(overrides map[string]float64) *Calculator {
	return &Calculator{overrides: overrides}
}

// PerImage returns the per-image rate charged for p.
func (c *Calculator) PerImage(p model.Provider) float64 {
	if c != nil {
		if rate, ok := c.overrides[p.Name]; ok {
			return rate
		}
	}
	return p.Metadata.CostPerImage
}

// Images returns the cost of count images from p, rounded to micro-dollars.
func (c *Calculator) Images(p model.Provider, count int) float64 {
	if count <= 0 {
		return 0
	}
	return Round(float64(count) * c.PerImage(p))
}

// Round rounds a USD amount to six decimal places.
func Round(usd float64) float64 {
	return math.Round(usd*1e6) / 1e6
}

// Tally accumulates requests and spend per provider for one fetch. It is safe
// for concurrent use.
type Tally struct {
	mu       sync.Mutex
	costs    map[string]float64
	requests map[string]int
}

// NewTally creates an empty Tally.
func NewTally() *Tally {
	return &Tally{
		costs:    make(map[string]float64),
		requests: make(map[string]int),
	}
}

// Request counts one outbound request to provider.
func (t *Tally) Request(provider string) {
	t.mu.Lock()
	t.requests[provider]++
	t.mu.Unlock()
}

// Add charges usd to provider.
func (t *Tally) Add(provider string, usd float64) {
	t.mu.Lock()
	t.costs[provider] = Round(t.costs[provider] + usd)
	t.mu.Unlock()
}

// Breakdown returns a copy of the per-provider cost map.
func (t *Tally) Breakdown() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.costs))
	for k, v := range t.costs {
		out[k] = v
	}
	return out
}

// Requests returns a copy of the per-provider request counts.
func (t *Tally) Requests() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.requests))
	for k, v := range t.requests {
		out[k] = v
	}
	return out
}

// Total returns the summed cost across providers.
func (t *Tally) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.costs))
	for name := range t.costs {
		names = append(names, name)
	}
	// Fixed summation order keeps totals reproducible.
	sort.Strings(names)
	var total float64
	for _, name := range names {
		total += t.costs[name]
	}
	return Round(total)
}
