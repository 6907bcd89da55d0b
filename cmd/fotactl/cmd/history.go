package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fotad.sh/internal/models"
)

func newHistoryCmd() *cobra.Command {
	var routerID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show update attempt history",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			query.Set("limit", strconv.Itoa(limit))
			if routerID != "" {
				query.Set("routerId", routerID)
			}

			var records []models.UpdateHistory
			if err := newClient().get("/api/history?"+query.Encode(), &records); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTER\tIP\tSTATUS\tBEFORE\tAFTER\tSTARTED\tERROR")
			for _, h := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					h.DeviceName,
					h.IPAddress,
					colorHistoryStatus(h.Status),
					strOrDash(h.FirmwareBefore),
					strOrDash(h.FirmwareAfter),
					h.StartedAt.Local().Format("2006-01-02 15:04"),
					strOrDash(h.ErrorMessage),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&routerID, "router", "", "limit to one router id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show")
	return cmd
}

func colorHistoryStatus(status models.HistoryStatus) string {
	switch status {
	case models.HistoryStatusSuccess:
		return green(string(status))
	case models.HistoryStatusFailed:
		return red(string(status))
	case models.HistoryStatusRunning:
		return yellow(string(status))
	default:
		return string(status)
	}
}
