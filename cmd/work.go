package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workOnce bool

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run queued enrichment jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "work")
		if err != nil {
			return err
		}
		defer env.Close()

		runner := env.Runner()
		env.startMonitoring(ctx)
		if workOnce {
			n, err := runner.Drain(ctx)
			zap.L().Info("queue drained", zap.Int("attempts", n))
			return err
		}
		return runner.Run(ctx)
	},
}

func init() {
	workCmd.Flags().BoolVar(&workOnce, "once", false, "exit when no due job is left")
	rootCmd.AddCommand(workCmd)
}
