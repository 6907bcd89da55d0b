// Package scan probes the fleet's firmware state.
//
// A scan walks the selected routers in chunks, fully parallel within a
// chunk, and persists what it finds: current firmware, advertised update,
// and a reachability status. Progress streams over the event bus under the
// reserved job id "check".
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fotad.sh/internal/config"
	"fotad.sh/internal/events"
	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/metrics"
	"fotad.sh/internal/models"
	"fotad.sh/internal/policy"
	"fotad.sh/internal/probe"
	"fotad.sh/internal/sshclient"
	"fotad.sh/internal/store"
)

// Engine runs fleet scans. One scan at a time; a second request while one is
// in flight is refused.
type Engine struct {
	store    *store.Store
	bus      *events.Bus
	runner   sshclient.Runner
	probeCfg config.ProbeConfig
	cfg      config.ScanConfig
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// Summary is what one scan found.
type Summary struct {
	Total           int `json:"total"`
	UpdateAvailable int `json:"updateAvailable"`
	UpToDate        int `json:"upToDate"`
	Unreachable     int `json:"unreachable"`
	Errors          int `json:"errors"`
	Skipped         int `json:"skipped"`
}

// New builds a scan engine on the shared store, bus and SSH runner.
func New(st *store.Store, bus *events.Bus, runner sshclient.Runner, probeCfg config.ProbeConfig, cfg config.ScanConfig) *Engine {
	return &Engine{
		store:    st,
		bus:      bus,
		runner:   runner,
		probeCfg: probeCfg,
		cfg:      cfg,
		logger:   slog.With("component", "scan"),
	}
}

// outcome is the result of probing one router.
type outcome struct {
	router    *models.Router
	status    models.RouterStatus
	current   *string
	available *string
	err       error
}

// Scan probes the given routers, or the whole inventory when ids is empty,
// and returns the tally. Routers mid-update are skipped. The call blocks
// until the scan finishes; progress streams over the event bus meanwhile.
func (e *Engine) Scan(ctx context.Context, routerIDs []string) (*Summary, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ferrors.New(ferrors.ErrCodeConflict, "a scan is already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	routers, skipped, err := e.candidates(ctx, routerIDs)
	if err != nil {
		return nil, err
	}

	globalUser, globalPass, err := e.store.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary := &Summary{Total: len(routers), Skipped: skipped}
	e.logger.Info("scan started", "routers", len(routers), "skipped", skipped)

	e.bus.Publish(events.NewEvent(events.TypeJobStarted, events.ScanJobID, events.EventData{
		Total:   len(routers),
		Message: "firmware check started",
	}))

	chunkSize := e.cfg.ChunkSize
	if chunkSize < 1 {
		chunkSize = 1
	}
	totalChunks := (len(routers) + chunkSize - 1) / chunkSize

	checked := 0
	for i := 0; i < len(routers); i += chunkSize {
		end := i + chunkSize
		if end > len(routers) {
			end = len(routers)
		}
		chunk := routers[i:end]

		e.bus.Publish(events.NewEvent(events.TypeBatchStarted, events.ScanJobID, events.EventData{
			BatchNumber:  i/chunkSize + 1,
			TotalBatches: totalChunks,
			Total:        len(chunk),
		}))

		results := make([]outcome, len(chunk))
		g, gctx := errgroup.WithContext(ctx)
		for idx, router := range chunk {
			g.Go(func() error {
				results[idx] = e.scanRouter(gctx, router, globalUser, globalPass)
				return nil
			})
		}
		// Workers report failures through their outcome, never as errors.
		_ = g.Wait()

		for _, res := range results {
			e.record(ctx, res, summary)
		}

		checked += len(chunk)
		e.bus.Publish(events.NewEvent(events.TypeJobProgress, events.ScanJobID, events.EventData{
			Progress:  percent(checked, len(routers)),
			Completed: checked,
			Total:     len(routers),
		}))
	}

	e.bus.Publish(events.NewEvent(events.TypeJobCompleted, events.ScanJobID, events.EventData{
		Total:     summary.Total,
		Completed: summary.UpdateAvailable + summary.UpToDate,
		Failed:    summary.Unreachable + summary.Errors,
		Message: fmt.Sprintf("firmware check finished: %d with updates, %d up to date, %d unreachable, %d errors",
			summary.UpdateAvailable, summary.UpToDate, summary.Unreachable, summary.Errors),
	}))

	metrics.RecordScan(time.Since(start).Seconds())
	e.refreshStatusGauge(ctx)
	e.logger.Info("scan finished",
		"duration", time.Since(start),
		"updates", summary.UpdateAvailable,
		"up_to_date", summary.UpToDate,
		"unreachable", summary.Unreachable,
		"errors", summary.Errors)
	return summary, nil
}

// Busy reports whether a scan is currently in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// candidates resolves the router set and drops anything mid-update.
func (e *Engine) candidates(ctx context.Context, ids []string) ([]*models.Router, int, error) {
	var (
		routers []*models.Router
		err     error
	)
	if len(ids) > 0 {
		routers, err = e.store.GetRoutersByIDs(ctx, ids)
	} else {
		routers, err = e.store.ListRouters(ctx)
	}
	if err != nil {
		return nil, 0, err
	}

	kept := make([]*models.Router, 0, len(routers))
	skipped := 0
	for _, r := range routers {
		if r.Status == models.RouterStatusUpdating {
			skipped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, skipped, nil
}

// scanRouter probes one router. It never returns an error; failures become
// the outcome's status.
func (e *Engine) scanRouter(ctx context.Context, router *models.Router, globalUser, globalPass string) outcome {
	username, password := effectiveCredentials(router, globalUser, globalPass)
	if username == "" {
		return outcome{
			router: router,
			status: models.RouterStatusError,
			err:    ferrors.New(ferrors.ErrCodeNoCredentials, "no credentials configured"),
		}
	}

	target := sshclient.Target{Host: router.IPAddress, Username: username, Password: password}
	p := probe.New(e.runner, target, e.probeCfg)

	if err := p.Ping(ctx); err != nil {
		return outcome{router: router, status: models.RouterStatusUnreachable, err: err}
	}

	current, err := p.CurrentVersion(ctx)
	if err != nil {
		return outcome{router: router, status: models.RouterStatusError, err: err}
	}

	available, err := p.AvailableVersion(ctx)
	if err != nil {
		return outcome{router: router, status: models.RouterStatusError, err: err}
	}

	// The on-device agent only knows what the vendor server advertises. When
	// it reports nothing, the operator's version table gets the second word.
	if !probe.UpdateAvailable(current, available) && current != "" {
		res := policy.Evaluate(current, func(prefix string) (string, bool) {
			v, ok, lookupErr := e.store.LatestForPrefix(ctx, prefix)
			if lookupErr != nil {
				e.logger.Warn("version table lookup failed", "prefix", prefix, "error", lookupErr)
				return "", false
			}
			return v, ok
		})
		if res.Available {
			available = res.LatestVersion
		}
	}

	status := models.RouterStatusUpToDate
	if probe.UpdateAvailable(current, available) {
		status = models.RouterStatusUpdateAvailable
	}

	out := outcome{router: router, status: status}
	if current != "" {
		out.current = &current
	}
	if probe.UpdateAvailable(current, available) {
		out.available = &available
	}
	return out
}

// record persists one outcome and publishes its event. Failed probes keep
// the router's previously known firmware; only the status and last_check
// move.
func (e *Engine) record(ctx context.Context, res outcome, summary *Summary) {
	router := res.router

	current, available := res.current, res.available
	if res.err != nil {
		current, available = router.CurrentFirmware, router.AvailableFirmware
	}
	if err := e.store.UpdateRouterFirmware(ctx, router.ID, current, available, res.status); err != nil {
		e.logger.Error("failed to persist scan result",
			"router_id", router.ID, "error", err)
	}

	metrics.RecordRouterScan(string(res.status))

	data := events.EventData{
		RouterID:   router.ID,
		DeviceName: router.DeviceName,
		IPAddress:  router.IPAddress,
		Status:     string(res.status),
	}

	switch res.status {
	case models.RouterStatusUpdateAvailable:
		summary.UpdateAvailable++
		data.Message = fmt.Sprintf("update available: %s", deref(available))
		e.bus.Publish(events.NewEvent(events.TypeRouterProgress, events.ScanJobID, data))
	case models.RouterStatusUpToDate:
		summary.UpToDate++
		data.Message = "firmware up to date"
		e.bus.Publish(events.NewEvent(events.TypeRouterCompleted, events.ScanJobID, data))
	case models.RouterStatusUnreachable:
		summary.Unreachable++
		data.Error = res.err.Error()
		e.bus.Publish(events.NewEvent(events.TypeRouterFailed, events.ScanJobID, data))
	default:
		summary.Errors++
		data.Error = res.err.Error()
		e.bus.Publish(events.NewEvent(events.TypeRouterFailed, events.ScanJobID, data))
	}
}

func (e *Engine) refreshStatusGauge(ctx context.Context) {
	counts, err := e.store.CountRoutersByStatus(ctx)
	if err != nil {
		e.logger.Warn("failed to refresh status gauge", "error", err)
		return
	}
	metrics.RoutersByStatus.Reset()
	for status, n := range counts {
		metrics.RoutersByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

// effectiveCredentials resolves the credentials for one router: a per-router
// username brings its own password; otherwise the global pair applies.
func effectiveCredentials(router *models.Router, globalUser, globalPass string) (string, string) {
	if router.Username != nil && *router.Username != "" {
		password := ""
		if router.Password != nil {
			password = *router.Password
		}
		return *router.Username, password
	}
	return globalUser, globalPass
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
