package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/imagery-cli/internal/model"
)

// Workflow names.
const (
	EnrichEntityWorkflowName = "enrichEntityWorkflow"
	CoordinateWorkflowName   = "coordinateWorkflow"
)

var enrichActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 5 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:        30 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Minute,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{ErrTypeTerminal},
	},
}

var coordinateActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 10 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    5 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    1,
	},
}

// EnrichEntityWorkflow runs the Enrich activity for one entity.
func EnrichEntityWorkflow(ctx workflow.Context, job model.EnrichmentJob) (*model.WorkerResult, error) {
	ctx = workflow.WithActivityOptions(ctx, enrichActivityOptions)

	var a *Activities
	var res model.WorkerResult
	if err := workflow.ExecuteActivity(ctx, a.Enrich, job).Get(ctx, &res); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("entity enriched",
		"entity_type", res.EntityType,
		"entity_id", res.EntityID,
		"skipped", res.Skipped)
	return &res, nil
}

// CoordinateWorkflow runs one coordinator pass.
func CoordinateWorkflow(ctx workflow.Context, in CoordinateInput) (*model.CoordinatorResult, error) {
	ctx = workflow.WithActivityOptions(ctx, coordinateActivityOptions)

	var a *Activities
	var res model.CoordinatorResult
	if err := workflow.ExecuteActivity(ctx, a.Coordinate, in).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
