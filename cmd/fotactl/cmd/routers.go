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

func newRoutersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routers",
		Short: "Manage the router inventory",
	}

	cmd.AddCommand(
		newRoutersListCmd(),
		newRoutersStatsCmd(),
		newRoutersAddCmd(),
		newRoutersImportCmd(),
		newRoutersDeleteCmd(),
	)
	return cmd
}

func newRoutersListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all routers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var routers []models.Router
			if err := newClient().get("/api/routers", &routers); err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(routers)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tIP\tSTATUS\tCURRENT\tAVAILABLE\tLAST CHECK")
			for _, r := range routers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.DeviceName,
					r.IPAddress,
					colorStatus(r.Status),
					strOrDash(r.CurrentFirmware),
					strOrDash(r.AvailableFirmware),
					timeOrDash(r.LastCheck),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")
	return cmd
}

func newRoutersStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show router counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats struct {
				Total    int            `json:"total"`
				ByStatus map[string]int `json:"by_status"`
			}
			if err := newClient().get("/api/routers/stats", &stats); err != nil {
				return err
			}

			fmt.Printf("%s %d\n", bold("Total routers:"), stats.Total)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for status, n := range stats.ByStatus {
				fmt.Fprintf(w, "%s\t%d\n", colorStatus(models.RouterStatus(status)), n)
			}
			return w.Flush()
		},
	}
}

func newRoutersAddCmd() *cobra.Command {
	var name, ip, username, password string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one router to the inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"device_name": name,
				"ip_address":  ip,
			}
			if username != "" {
				body["username"] = username
			}
			if password != "" {
				body["password"] = password
			}

			var created models.Router
			if err := newClient().post("/api/routers", body, &created); err != nil {
				return err
			}
			printSuccess("router %s (%s) added with id %s", created.DeviceName, created.IPAddress, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "device name")
	cmd.Flags().StringVar(&ip, "ip", "", "IPv4 address")
	cmd.Flags().StringVar(&username, "username", "", "per-device SSH username (optional)")
	cmd.Flags().StringVar(&password, "password", "", "per-device SSH password (optional)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("ip")
	return cmd
}

func newRoutersImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Bulk-import routers from a JSON inventory file",
		Long: `Imports routers from a JSON file of the form:

  {"routers": [{"device_name": "...", "ip_address": "...",
                "username": "...", "password": "..."}, ...]}

The import is transactional and idempotent: re-importing the same file
updates existing routers by IP address instead of duplicating them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var payload struct {
				Routers []json.RawMessage `json:"routers"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("invalid inventory file: %w", err)
			}

			var result map[string]int
			if err := newClient().post("/api/routers/import", json.RawMessage(data), &result); err != nil {
				return err
			}
			printSuccess("imported %d routers", result["imported"])
			return nil
		},
	}
	return cmd
}

func newRoutersDeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [router-id]",
		Short: "Delete one router, or the whole inventory with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if all {
				var result map[string]int64
				if err := client.delete("/api/routers", &result); err != nil {
					return err
				}
				printSuccess("deleted %d routers", result["deleted"])
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("provide a router id or --all")
			}
			if err := client.delete("/api/routers/"+args[0], nil); err != nil {
				return err
			}
			printSuccess("router %s deleted", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "delete every router (history goes with them)")
	return cmd
}

func colorStatus(status models.RouterStatus) string {
	switch status {
	case models.RouterStatusUpToDate:
		return green(string(status))
	case models.RouterStatusUpdateAvailable:
		return cyan(string(status))
	case models.RouterStatusUpdating:
		return yellow(string(status))
	case models.RouterStatusUnreachable, models.RouterStatusError:
		return red(string(status))
	default:
		return string(status)
	}
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
