// Package temporal exposes coordinator and worker runs as Temporal
// activities and workflows.
package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
)

// ErrTypeTerminal is the application error type of failures Temporal must not
// retry.
const ErrTypeTerminal = "TerminalError"

// Enricher runs one worker job.
type Enricher interface {
	Handle(ctx context.Context, job model.EnrichmentJob) (*model.WorkerResult, error)
}

// Planner runs one coordinator pass.
type Planner interface {
	Run(ctx context.Context, parentJobID string, force bool) (*model.CoordinatorResult, error)
}

// CoordinateInput is the input of the Coordinate activity.
type CoordinateInput struct {
	RunID string `json:"run_id,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// Activities holds the activity implementations.
type Activities struct {
	enricher Enricher
	planner  Planner
}

// NewActivities creates the activity set.
func NewActivities(enricher Enricher, planner Planner) *Activities {
	return &Activities{enricher: enricher, planner: planner}
}

// Enrich refreshes a single venue, city or country.
func (a *Activities) Enrich(ctx context.Context, job model.EnrichmentJob) (*model.WorkerResult, error) {
	info := activity.GetInfo(ctx)
	if job.ID == "" {
		job.ID = info.ActivityID
	}
	job.Attempt = int(info.Attempt)

	res, err := a.enricher.Handle(ctx, job)
	if err != nil {
		activity.GetLogger(ctx).Warn("enrich failed",
			"entity_type", job.EntityType,
			"entity_id", job.EntityID,
			"attempt", info.Attempt,
			"terminal", jobs.IsTerminal(err),
			"error", err)
		return res, toApplicationError(err)
	}
	return res, nil
}

// Coordinate plans one worker job per eligible city and country. When RunID
// is empty the workflow id is used as the parent job id.
func (a *Activities) Coordinate(ctx context.Context, in CoordinateInput) (*model.CoordinatorResult, error) {
	runID := in.RunID
	if runID == "" {
		runID = activity.GetInfo(ctx).WorkflowExecution.ID
	}
	logger := activity.GetLogger(ctx)
	res, err := a.planner.Run(ctx, runID, in.Force)
	if err != nil {
		logger.Error("coordinate failed", "run_id", runID, "error", err)
		return nil, toApplicationError(err)
	}
	logger.Info("coordinate complete", "run_id", runID, "total_queued", res.TotalQueued)
	return res, nil
}

func toApplicationError(err error) error {
	if jobs.IsTerminal(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTerminal, err)
	}
	return err
}
