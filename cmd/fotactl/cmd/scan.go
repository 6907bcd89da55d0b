package cmd

import (
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var routerIDs []string
	var follow bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan firmware state across the fleet",
		Long: `Asks the daemon to probe routers over SSH: current firmware version,
availability of a newer one, and reachability. Without --routers the whole
inventory is scanned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if len(routerIDs) > 0 {
				body["routerIds"] = routerIDs
			}

			var result map[string]string
			if err := newClient().post("/api/scan", body, &result); err != nil {
				return err
			}
			printSuccess("scan started (job %s)", result["jobId"])

			if follow {
				return followEvents(cmd.Context(), result["jobId"], false)
			}
			printInfo("follow progress with: fotactl watch --job %s", result["jobId"])
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&routerIDs, "routers", nil, "router ids to scan (default: all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream scan progress until it finishes")
	return cmd
}
