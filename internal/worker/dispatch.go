package worker

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
)

var errNoPlanner = eris.New("worker: coordinator job without a planner")

// Planner runs a coordinator job.
type Planner interface {
	Run(ctx context.Context, parentJobID string, force bool) (*model.CoordinatorResult, error)
}

// JobFunc routes queued jobs: coordinator jobs go to planner, everything
// else to h.
func JobFunc(h *Handler, planner Planner) jobs.HandlerFunc {
	return func(ctx context.Context, job model.EnrichmentJob) error {
		if job.JobRole == model.JobRoleCoordinator {
			if planner == nil {
				return jobs.Terminal(errNoPlanner)
			}
			res, err := planner.Run(ctx, job.ID, job.Force)
			if err != nil {
				return err
			}
			zap.L().Info("worker: coordinator job done",
				zap.String("job_id", job.ID),
				zap.Int("total_queued", res.TotalQueued))
			return nil
		}
		_, err := h.Handle(ctx, job)
		return err
	}
}
