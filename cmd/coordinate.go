package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	coordinateForce bool
	coordinateDrain bool
)

var coordinateCmd = &cobra.Command{
	Use:   "coordinate",
	Short: "Queue a gallery refresh job for every eligible city and country",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "coordinate")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Coordinator.Run(ctx, "", coordinateForce)
		if err != nil {
			return eris.Wrap(err, "coordinate")
		}

		if coordinateDrain {
			n, err := env.Runner().Drain(ctx)
			if err != nil {
				return eris.Wrap(err, "drain queue")
			}
			zap.L().Info("queue drained", zap.Int("attempts", n))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	coordinateCmd.Flags().BoolVar(&coordinateForce, "force", false, "refresh galleries regardless of age")
	coordinateCmd.Flags().BoolVar(&coordinateDrain, "drain", false, "run the queued jobs in-process before exiting")
	rootCmd.AddCommand(coordinateCmd)
}
