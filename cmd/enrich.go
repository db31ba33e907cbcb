package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/imagery-cli/internal/model"
)

var enrichForce bool

var enrichCmd = &cobra.Command{
	Use:   "enrich <venue|city|country> <id>",
	Short: "Enrich a single entity synchronously",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType := model.EntityType(args[0])
		if !entityType.Valid() {
			return eris.Errorf("unknown entity type %q", args[0])
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Handler.Handle(ctx, model.EnrichmentJob{
			EntityType: entityType,
			EntityID:   args[1],
			Force:      enrichForce,
			JobRole:    model.JobRoleWorker,
		})
		if res != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(res)
		}
		return err
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichForce, "force", false, "ignore staleness thresholds")
	rootCmd.AddCommand(enrichCmd)
}
