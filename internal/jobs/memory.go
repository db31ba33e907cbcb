package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/imagery-cli/internal/model"
)

// MemoryQueue is an in-process Queue for single-binary runs and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	jobs  map[string]*model.EnrichmentJob
	order []string
	now   func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*model.EnrichmentJob), now: time.Now}
}

func (q *MemoryQueue) EnqueueMany(_ context.Context, jobs []model.EnrichmentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			return eris.Errorf("jobs: job %d has no id", i)
		}
		if _, ok := q.jobs[j.ID]; ok || seen[j.ID] {
			return eris.Errorf("jobs: duplicate job id %s", j.ID)
		}
		seen[j.ID] = true
	}

	now := q.now()
	for _, j := range jobs {
		j.Status = model.JobStatusQueued
		j.Attempt = 0
		if j.MaxAttempts <= 0 {
			j.MaxAttempts = DefaultMaxAttempts
		}
		if j.RunAfter.IsZero() {
			j.RunAfter = now
		}
		j.CreatedAt = now
		q.jobs[j.ID] = &j
		q.order = append(q.order, j.ID)
	}
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, limit int) ([]model.EnrichmentJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var due []*model.EnrichmentJob
	for _, id := range q.order {
		j := q.jobs[id]
		if j.Status == model.JobStatusQueued && !j.RunAfter.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].RunAfter.Before(due[b].RunAfter) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]model.EnrichmentJob, 0, len(due))
	for _, j := range due {
		j.Status = model.JobStatusRunning
		j.Attempt++
		out = append(out, *j)
	}
	return out, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	return q.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusSucceeded
		j.LastError = ""
	})
}

func (q *MemoryQueue) Retry(_ context.Context, id string, runAfter time.Time, lastErr string) error {
	return q.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusQueued
		j.RunAfter = runAfter
		j.LastError = lastErr
	})
}

func (q *MemoryQueue) Fail(_ context.Context, id string, lastErr string) error {
	return q.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusFailed
		j.LastError = lastErr
	})
}

func (q *MemoryQueue) MarkDead(_ context.Context, id string, lastErr string) error {
	return q.update(id, func(j *model.EnrichmentJob) {
		j.Status = model.JobStatusDead
		j.LastError = lastErr
	})
}

func (q *MemoryQueue) update(id string, fn func(*model.EnrichmentJob)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return eris.Errorf("jobs: unknown job %s", id)
	}
	fn(j)
	return nil
}

// Get returns a copy of the job.
func (q *MemoryQueue) Get(id string) (model.EnrichmentJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return model.EnrichmentJob{}, false
	}
	return *j, true
}

// Jobs returns copies of every job in enqueue order.
func (q *MemoryQueue) Jobs() []model.EnrichmentJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.EnrichmentJob, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Counts returns the number of jobs per status.
func (q *MemoryQueue) Counts(context.Context) (map[model.JobStatus]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[model.JobStatus]int)
	for _, j := range q.jobs {
		out[j.Status]++
	}
	return out, nil
}
