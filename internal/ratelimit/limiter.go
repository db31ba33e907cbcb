// Package ratelimit tracks per-provider request timestamps and answers whether
// another call to a provider fits inside its sliding-window limits.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Window is a named trailing duration.
type Window struct {
	Name     string
	Duration time.Duration
}

var (
	PerSecond = Window{Name: "per_second", Duration: time.Second}
	PerMinute = Window{Name: "per_minute", Duration: time.Minute}
	PerHour   = Window{Name: "per_hour", Duration: time.Hour}
)

// Decision is the outcome of a limit check. When Allowed is false, Window,
// Limit and Count describe the first window found exhausted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Window  string `json:"window,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Stats are the request counts of one provider at a point in time.
type Stats struct {
	LastSecond int `json:"last_second"`
	LastMinute int `json:"last_minute"`
	LastHour   int `json:"last_hour"`
}

type limit struct {
	window Window
	max    int
}

// limitsFor returns the configured limits in evaluation order.
func limitsFor(rl model.RateLimits) []limit {
	var out []limit
	if rl.PerSecond != nil {
		out = append(out, limit{PerSecond, *rl.PerSecond})
	}
	if rl.PerMinute != nil {
		out = append(out, limit{PerMinute, *rl.PerMinute})
	}
	if rl.PerHour != nil {
		out = append(out, limit{PerHour, *rl.PerHour})
	}
	return out
}

// ledger holds one provider's timestamps in ascending order.
type ledger struct {
	mu     sync.Mutex
	stamps []time.Time
}

// prune drops timestamps at or before now-horizon. Caller holds mu.
func (l *ledger) prune(now time.Time, horizon time.Duration) {
	cutoff := now.Add(-horizon)
	i := sort.Search(len(l.stamps), func(i int) bool { return l.stamps[i].After(cutoff) })
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// count returns the number of timestamps strictly after now-window. Caller holds mu.
func (l *ledger) count(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	i := sort.Search(len(l.stamps), func(i int) bool { return l.stamps[i].After(cutoff) })
	return len(l.stamps) - i
}

// push adds a timestamp, clamping to the last entry so the slice stays sorted
// if the wall clock steps backwards. Caller holds mu.
func (l *ledger) push(now time.Time) {
	if n := len(l.stamps); n > 0 && now.Before(l.stamps[n-1]) {
		now = l.stamps[n-1]
	}
	l.stamps = append(l.stamps, now)
}

func (l *ledger) decide(now time.Time, limits []limit) Decision {
	for _, lim := range limits {
		if c := l.count(now, lim.window.Duration); c >= lim.max {
			return Decision{Allowed: false, Window: lim.window.Name, Limit: lim.max, Count: c}
		}
	}
	return Decision{Allowed: true}
}

// Limiter is a set of per-provider ledgers. The map lock is only taken to
// look up or create a ledger; checks and records lock the ledger alone, so
// different providers never contend.
type Limiter struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	horizon time.Duration
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithHorizon sets how much history is retained. It must cover the largest
// window in use; shorter values are raised to one hour.
func WithHorizon(d time.Duration) Option {
	return func(l *Limiter) { l.horizon = d }
}

// New creates an empty Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		ledgers: make(map[string]*ledger),
		horizon: PerHour.Duration,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.horizon < PerHour.Duration {
		l.horizon = PerHour.Duration
	}
	return l
}

func (l *Limiter) get(name string) *ledger {
	l.mu.RLock()
	lg := l.ledgers[name]
	l.mu.RUnlock()
	return lg
}

func (l *Limiter) getOrCreate(name string) *ledger {
	if lg := l.get(name); lg != nil {
		return lg
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lg, ok := l.ledgers[name]; ok {
		return lg
	}
	lg := &ledger{}
	l.ledgers[name] = lg
	return lg
}

// Check reports whether a call to p is allowed right now. Windows are checked
// per second, then per minute, then per hour, stopping at the first one that
// is full. A provider with no limits is always allowed.
func (l *Limiter) Check(p model.Provider) Decision {
	limits := limitsFor(p.Metadata.RateLimits)
	if len(limits) == 0 {
		return Decision{Allowed: true}
	}
	lg := l.get(p.Name)
	if lg == nil {
		return Decision{Allowed: true}
	}
	now := l.now()
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.prune(now, l.horizon)
	return lg.decide(now, limits)
}

// Record appends a request timestamp to the provider's ledger.
func (l *Limiter) Record(name string) {
	lg := l.getOrCreate(name)
	now := l.now()
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.prune(now, l.horizon)
	lg.push(now)
}

// Acquire checks and, when allowed, records in one critical section so that
// concurrent callers cannot both take the last slot of a window.
func (l *Limiter) Acquire(p model.Provider) Decision {
	lg := l.getOrCreate(p.Name)
	now := l.now()
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.prune(now, l.horizon)
	d := lg.decide(now, limitsFor(p.Metadata.RateLimits))
	if d.Allowed {
		lg.push(now)
	}
	return d
}

// Stats returns the provider's request counts for each window.
func (l *Limiter) Stats(name string) Stats {
	lg := l.get(name)
	if lg == nil {
		return Stats{}
	}
	now := l.now()
	lg.mu.Lock()
	defer lg.mu.Unlock()
	lg.prune(now, l.horizon)
	return Stats{
		LastSecond: lg.count(now, PerSecond.Duration),
		LastMinute: lg.count(now, PerMinute.Duration),
		LastHour:   lg.count(now, PerHour.Duration),
	}
}

// Reset clears the provider's history.
func (l *Limiter) Reset(name string) {
	lg := l.get(name)
	if lg == nil {
		return
	}
	lg.mu.Lock()
	lg.stamps = nil
	lg.mu.Unlock()
}

// Providers returns the names of every provider with a ledger.
func (l *Limiter) Providers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.ledgers))
	for name := range l.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats returns a snapshot of every provider's counts.
func (l *Limiter) AllStats() map[string]Stats {
	out := make(map[string]Stats)
	for _, name := range l.Providers() {
		out[name] = l.Stats(name)
	}
	return out
}
