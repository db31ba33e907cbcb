package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/imagery-cli/internal/jobs"
	"github.com/sells-group/imagery-cli/internal/model"
	"github.com/sells-group/imagery-cli/internal/store"
)

var jobsDeadLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the job queue",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job counts by status and recent dead jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return eris.New("jobs status requires the postgres store")
		}
		return printJobStatus(ctx, jobs.NewPostgresQueue(ps.Pool()), jobsDeadLimit)
	},
}

func printJobStatus(ctx context.Context, q *jobs.PostgresQueue, deadLimit int) error {
	counts, err := q.Counts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tJOBS")
	for _, s := range []model.JobStatus{
		model.JobStatusQueued, model.JobStatusRunning, model.JobStatusSucceeded,
		model.JobStatusFailed, model.JobStatusDead,
	} {
		fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
	}
	_ = w.Flush()

	if deadLimit <= 0 {
		return nil
	}
	dead, err := q.Dead(ctx, deadLimit)
	if err != nil {
		return err
	}
	if len(dead) == 0 {
		return nil
	}
	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENTITY\tATTEMPTS\tLAST ERROR")
	for _, j := range dead {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", j.ID, j.EntityType, j.EntityID, j.Attempt, j.LastError)
	}
	return w.Flush()
}

func init() {
	jobsStatusCmd.Flags().IntVar(&jobsDeadLimit, "dead", 20, "number of dead jobs to list")
	jobsCmd.AddCommand(jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}
