// Package monitoring watches job outcomes and provider breakers and posts
// webhook alerts when thresholds are crossed.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Snapshot is a point-in-time view of queue and provider health. Job counts
// are cumulative; the checker compares consecutive snapshots.
type Snapshot struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`

	OpenCircuits []string  `json:"open_circuits,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Counter reports job counts by status.
type Counter interface {
	Counts(ctx context.Context) (map[model.JobStatus]int, error)
}

// StateSource reports circuit breaker states by provider.
type StateSource interface {
	States() map[string]string
}

// Collector gathers snapshots from the job queue and the breakers.
type Collector struct {
	counter  Counter
	breakers StateSource
	now      func() time.Time
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(counter Counter, breakers StateSource) *Collector {
	return &Collector{counter: counter, breakers: breakers, now: time.Now}
}

// Collect takes a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.counter.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count jobs")
	}

	snap := &Snapshot{
		Queued:      counts[model.JobStatusQueued],
		Running:     counts[model.JobStatusRunning],
		Succeeded:   counts[model.JobStatusSucceeded],
		Failed:      counts[model.JobStatusFailed],
		Dead:        counts[model.JobStatusDead],
		CollectedAt: c.now().UTC(),
	}

	if c.breakers != nil {
		for name, state := range c.breakers.States() {
			if state == "open" {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}
	return snap, nil
}

// Since returns the job outcomes recorded between prev and s. A nil prev
// yields s itself. Counts that went down (a truncated jobs table) are
// clamped to zero.
func (s *Snapshot) Since(prev *Snapshot) *Snapshot {
	if prev == nil {
		return s
	}
	d := *s
	d.Succeeded = clamp(s.Succeeded - prev.Succeeded)
	d.Failed = clamp(s.Failed - prev.Failed)
	d.Dead = clamp(s.Dead - prev.Dead)
	return &d
}

// FailRate is the share of finished jobs that failed or died.
func (s *Snapshot) FailRate() float64 {
	finished := s.Finished()
	if finished == 0 {
		return 0
	}
	return float64(s.Failed+s.Dead) / float64(finished)
}

// Finished counts jobs that reached a final status.
func (s *Snapshot) Finished() int {
	return s.Succeeded + s.Failed + s.Dead
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
