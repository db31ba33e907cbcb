package main

import (
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/imagery-cli/internal/temporal"
)

var temporalWorkerCmd = &cobra.Command{
	Use:   "temporal-worker",
	Short: "Serve enrichment activities and workflows on a Temporal task queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "temporal")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := temporal.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		w := temporal.NewWorker(c, cfg.Temporal.TaskQueue, temporal.NewActivities(env.Handler, env.Coordinator))
		zap.L().Info("temporal worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
		return w.Run(worker.InterruptCh())
	},
}

func init() {
	rootCmd.AddCommand(temporalWorkerCmd)
}
