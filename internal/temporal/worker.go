package temporal

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/imagery-cli/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "temporal: dial %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the workflows and activities on the task queue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(EnrichEntityWorkflow, workflow.RegisterOptions{Name: EnrichEntityWorkflowName})
	w.RegisterWorkflowWithOptions(CoordinateWorkflow, workflow.RegisterOptions{Name: CoordinateWorkflowName})
	w.RegisterActivity(acts)
	return w
}
