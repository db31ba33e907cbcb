// Package jobs stores enrichment jobs and runs them with bounded concurrency,
// retrying transient failures with backoff.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/imagery-cli/internal/model"
)

// DefaultMaxAttempts is used for jobs enqueued without a MaxAttempts.
const DefaultMaxAttempts = 5

// Queue is a durable list of jobs.
type Queue interface {
	// EnqueueMany stores every job or none of them.
	EnqueueMany(ctx context.Context, jobs []model.EnrichmentJob) error
	// Claim marks up to limit due jobs as running and returns them with
	// Attempt incremented.
	Claim(ctx context.Context, limit int) ([]model.EnrichmentJob, error)
	// Complete marks a job succeeded.
	Complete(ctx context.Context, id string) error
	// Retry puts a job back in the queue, due at runAfter.
	Retry(ctx context.Context, id string, runAfter time.Time, lastErr string) error
	// Fail marks a job failed without further retries.
	Fail(ctx context.Context, id string, lastErr string) error
	// MarkDead marks a job whose retries are exhausted.
	MarkDead(ctx context.Context, id string, lastErr string) error
}

// NewWorkerJob builds a queued per-entity job.
func NewWorkerJob(entityType model.EntityType, entityID string, force bool, parentJobID string) model.EnrichmentJob {
	return model.EnrichmentJob{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		EntityType:  entityType,
		Force:       force,
		ParentJobID: parentJobID,
		JobRole:     model.JobRoleWorker,
		Status:      model.JobStatusQueued,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// NewCoordinatorJob builds a queued planning job.
func NewCoordinatorJob(force bool) model.EnrichmentJob {
	return model.EnrichmentJob{
		ID:          uuid.NewString(),
		Force:       force,
		JobRole:     model.JobRoleCoordinator,
		Status:      model.JobStatusQueued,
		MaxAttempts: 1,
	}
}

// TerminalError marks a job failure that must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the runner fails the job instead of retrying it.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err was wrapped with Terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
