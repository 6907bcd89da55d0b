package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fotad.sh/internal/models"
)

func newRolloutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Manage batched firmware rollout jobs",
	}

	cmd.AddCommand(
		newRolloutStartCmd(),
		newRolloutListCmd(),
		newRolloutGetCmd(),
		newRolloutCancelCmd(),
	)
	return cmd
}

func newRolloutStartCmd() *cobra.Command {
	var (
		routerIDs     []string
		batchSize     int
		includeErrors bool
		follow        bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a batched rollout",
		Long: `Starts one rollout job over the selected routers. Without --routers,
every router marked update_available is included; --include-errors widens
that to error and unreachable routers for a retry wave.

Only one job can run at a time. Routers update in windows of --batch-size,
with the configured pause between windows.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"batchSize":     batchSize,
				"includeErrors": includeErrors,
			}
			if len(routerIDs) > 0 {
				body["routerIds"] = routerIDs
			}

			var job models.BatchJob
			if err := newClient().post("/api/rollouts", body, &job); err != nil {
				return err
			}
			printSuccess("rollout %s started: %d routers in batches of %d",
				job.ID, job.TotalRouters, job.BatchSize)

			if follow {
				return followEvents(cmd.Context(), job.ID, true)
			}
			printInfo("follow progress with: fotactl watch --job %s", job.ID)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&routerIDs, "routers", nil, "router ids to update (default: all with updates available)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 10, "routers updated concurrently per batch (5, 10, 25 or 100)")
	cmd.Flags().BoolVar(&includeErrors, "include-errors", false, "also retry routers in error or unreachable state")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream job progress until it finishes")
	return cmd
}

func newRolloutListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rollout jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobs []models.BatchJob
			if err := newClient().get("/api/rollouts", &jobs); err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(jobs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tBATCH\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d/%d (%d failed)\t%d\t%s\n",
					j.ID,
					colorJobStatus(j.Status),
					j.CompletedRouters+j.FailedRouters, j.TotalRouters, j.FailedRouters,
					j.BatchSize,
					j.CreatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")
	return cmd
}

func newRolloutGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [job-id]",
		Short: "Show one rollout job, or the active one without arguments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/rollouts/active"
			if len(args) == 1 {
				path = "/api/rollouts/" + args[0]
			}

			var job models.BatchJob
			if err := newClient().get(path, &job); err != nil {
				return err
			}

			fmt.Printf("%s %s\n", bold("Job:"), job.ID)
			fmt.Printf("%s %s\n", bold("Status:"), colorJobStatus(job.Status))
			fmt.Printf("%s %d routers, batches of %d\n", bold("Scope:"), job.TotalRouters, job.BatchSize)
			fmt.Printf("%s %d completed, %d failed\n", bold("Progress:"), job.CompletedRouters, job.FailedRouters)
			fmt.Printf("%s %s\n", bold("Created:"), job.CreatedAt.Local().Format(time.RFC1123))
			if job.StartedAt != nil {
				fmt.Printf("%s %s\n", bold("Started:"), job.StartedAt.Local().Format(time.RFC1123))
			}
			if job.CompletedAt != nil {
				fmt.Printf("%s %s\n", bold("Finished:"), job.CompletedAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newRolloutCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Cancel a running rollout",
		Long: `Cancellation is cooperative: the job stops before its next batch, and
routers already mid-update run to completion. Interrupting a flash can
brick a device, so in-flight updates are never torn down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]string
			if err := newClient().post("/api/rollouts/"+args[0]+"/cancel", nil, &result); err != nil {
				return err
			}
			printSuccess("cancel requested for job %s; in-flight routers finish their current step", args[0])
			return nil
		},
	}
}

func colorJobStatus(status models.JobStatus) string {
	switch status {
	case models.JobStatusRunning:
		return yellow(string(status))
	case models.JobStatusCompleted:
		return green(string(status))
	case models.JobStatusCancelled:
		return red(string(status))
	default:
		return string(status)
	}
}
