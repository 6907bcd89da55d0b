package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fotad.sh/internal/events"
)

// reconnectBackoff is how long the watcher waits before re-dialing a
// dropped event stream.
const reconnectBackoff = 3 * time.Second

func newWatchCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live progress events from the daemon",
		Long: `Follows the daemon's event stream and renders scan and rollout
progress as it happens. With --job the stream is scoped to one job and the
command exits when that job finishes; without it, everything is shown until
interrupted. Dropped connections are retried every few seconds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return followEvents(cmd.Context(), jobID, jobID != "")
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "job id to follow (empty: all events)")
	return cmd
}

// followEvents tails the SSE stream. When exitOnCompletion is set the
// function returns after the followed job's job_completed event.
func followEvents(ctx context.Context, jobID string, exitOnCompletion bool) error {
	streamURL := strings.TrimRight(viper.GetString("server"), "/") + "/api/events"
	if jobID != "" {
		streamURL += "?jobId=" + url.QueryEscape(jobID)
	}

	for {
		done, err := streamOnce(ctx, streamURL, exitOnCompletion)
		if done || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			printError("stream lost (%v), reconnecting", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectBackoff):
		}
	}
}

// streamOnce reads one SSE connection until it drops or the followed job
// completes. The first return value reports clean completion.
func streamOnce(ctx context.Context, streamURL string, exitOnCompletion bool) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout: the stream is long-lived by design.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("server returned %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		// The type also rides inside the data payload, so the event:
		// frame name can be skipped.
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.UpdateEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}
		renderEvent(event)
		if exitOnCompletion && event.Type == events.TypeJobCompleted {
			return true, nil
		}
	}
	return false, scanner.Err()
}

func renderEvent(ev events.UpdateEvent) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	d := ev.Data

	switch ev.Type {
	case events.TypeJobStarted:
		fmt.Printf("%s %s job %s: %d routers\n", ts, bold("started"), ev.JobID, d.Total)
	case events.TypeJobProgress:
		fmt.Printf("%s progress %d%% (%d ok, %d failed)\n", ts, d.Progress, d.Completed, d.Failed)
	case events.TypeJobCompleted:
		status := d.Status
		if status == "cancelled" {
			status = red(status)
		} else {
			status = green(status)
		}
		fmt.Printf("%s %s job %s: %s (%d ok, %d failed)\n", ts, bold("finished"), ev.JobID, status, d.Completed, d.Failed)
	case events.TypeBatchStarted:
		fmt.Printf("%s batch %d/%d started\n", ts, d.BatchNumber, d.TotalBatches)
	case events.TypeBatchCompleted:
		fmt.Printf("%s batch %d/%d done\n", ts, d.BatchNumber, d.TotalBatches)
	case events.TypeBatchWaiting:
		fmt.Printf("%s %s %d minute(s) before next batch\n", ts, yellow("waiting"), d.WaitTimeRemaining)
	case events.TypeRouterStarted:
		fmt.Printf("%s   %s (%s): update started\n", ts, d.DeviceName, d.IPAddress)
	case events.TypeRouterProgress:
		fmt.Printf("%s   %s (%s): %s\n", ts, d.DeviceName, d.IPAddress, d.Status)
	case events.TypeRouterCompleted:
		fmt.Printf("%s   %s (%s): %s %s → %s\n", ts, d.DeviceName, d.IPAddress,
			green("updated"), d.FirmwareBefore, d.FirmwareAfter)
	case events.TypeRouterFailed:
		fmt.Printf("%s   %s (%s): %s %s\n", ts, d.DeviceName, d.IPAddress,
			red("failed"), d.Error)
	default:
		fmt.Printf("%s %s %+v\n", ts, ev.Type, d)
	}
}
