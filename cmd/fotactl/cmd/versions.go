package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fotad.sh/internal/models"
)

func newVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage the firmware version table",
		Long: `The version table maps a device-family prefix (e.g. RUT9) to the
latest firmware the operator has approved. Scans use it as a second
opinion when the on-device update agent reports nothing newer.`,
	}

	cmd.AddCommand(
		newVersionsListCmd(),
		newVersionsSetCmd(),
		newVersionsDeleteCmd(),
	)
	return cmd
}

func newVersionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known firmware versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var versions []models.FirmwareVersion
			if err := newClient().get("/api/firmware-versions", &versions); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PREFIX\tLATEST VERSION\tUPDATED")
			for _, v := range versions {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					v.DevicePrefix, v.LatestVersion,
					v.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newVersionsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [prefix] [version]",
		Short: "Set the latest version for a device family",
		Long:  `Example: fotactl versions set RUT9 RUT9_R_00.07.06.20`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"devicePrefix":  args[0],
				"latestVersion": args[1],
			}
			var entry models.FirmwareVersion
			if err := newClient().put("/api/firmware-versions", body, &entry); err != nil {
				return err
			}
			printSuccess("%s → %s", entry.DevicePrefix, entry.LatestVersion)
			return nil
		},
	}
}

func newVersionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [prefix]",
		Short: "Remove a device family from the table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/api/firmware-versions/"+args[0], nil); err != nil {
				return err
			}
			printSuccess("removed %s", args[0])
			return nil
		},
	}
}
