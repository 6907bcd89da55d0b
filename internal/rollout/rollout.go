// Package rollout runs batch firmware update jobs.
//
// One job at a time, enforced through the store's active-job row. The job
// walks its routers in operator-chosen batch windows, runs the per-router
// update pipeline in parallel within a window, and pauses a configurable
// number of minutes between windows so the access network can reconverge
// after a reboot wave. Cancellation is batch-granular: in-flight routers
// always run to their terminal state, because interrupting a flash can brick
// a device.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"fotad.sh/internal/config"
	"fotad.sh/internal/events"
	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/metrics"
	"fotad.sh/internal/models"
	"fotad.sh/internal/probe"
	"fotad.sh/internal/sshclient"
	"fotad.sh/internal/store"
)

// Pipeline states streamed in router_progress events.
const (
	stageDownloading = "downloading"
	stageRebooting   = "rebooting"
	stageVerified    = "verified"
	stageFailed      = "failed"
)

// Engine manages rollout jobs.
type Engine struct {
	store    *store.Store
	bus      *events.Bus
	runner   sshclient.Runner
	probeCfg config.ProbeConfig
	cfg      config.RolloutConfig
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// jobState is the in-process side of one running job.
type jobState struct {
	jobID      string
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func (s *jobState) cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

func (s *jobState) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// StartRequest describes a rollout to launch.
type StartRequest struct {
	// RouterIDs narrows the job to explicit routers. Empty means every
	// router currently marked update_available.
	RouterIDs []string `json:"routerIds,omitempty"`

	// BatchSize is how many routers update concurrently per window.
	BatchSize int `json:"batchSize"`

	// IncludeErrors widens the implicit selection to routers in error or
	// unreachable state, to retry a previously failed wave.
	IncludeErrors bool `json:"includeErrors,omitempty"`
}

// New builds a rollout engine on the shared store, bus and SSH runner.
func New(st *store.Store, bus *events.Bus, runner sshclient.Runner, probeCfg config.ProbeConfig, cfg config.RolloutConfig) *Engine {
	return &Engine{
		store:    st,
		bus:      bus,
		runner:   runner,
		probeCfg: probeCfg,
		cfg:      cfg,
		jobs:     make(map[string]*jobState),
		logger:   slog.With("component", "rollout"),
	}
}

// Start validates the request, persists the job and launches it. The job
// itself runs detached from the caller's context; it must outlive the HTTP
// request that started it.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*models.BatchJob, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !models.IsValidBatchSize(req.BatchSize) {
		return nil, ferrors.Newf(ferrors.ErrCodeValidation,
			"batch size must be one of %v", models.ValidBatchSizes)
	}

	routers, err := e.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(routers) == 0 {
		return nil, ferrors.New(ferrors.ErrCodeValidation, "no routers to update")
	}

	active, err := e.store.ActiveJob(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ferrors.Newf(ferrors.ErrCodeConflict,
			"an update job is already active: %s", active.ID).
			WithMetadata("job_id", active.ID)
	}

	job := &models.BatchJob{
		TotalRouters: len(routers),
		BatchSize:    req.BatchSize,
	}
	if err := e.store.InsertJob(ctx, job); err != nil {
		return nil, err
	}

	running := models.JobStatusRunning
	now := time.Now().UTC()
	if err := e.store.UpdateJob(ctx, job.ID, store.JobUpdate{Status: &running, StartedAt: &now}); err != nil {
		return nil, err
	}
	job.Status = running
	job.StartedAt = &now

	state := &jobState{jobID: job.ID, cancelCh: make(chan struct{})}
	e.jobs[job.ID] = state
	metrics.RolloutJobActive.Set(1)

	e.logger.Info("rollout started",
		"job_id", job.ID, "routers", len(routers), "batch_size", req.BatchSize)

	go e.run(context.Background(), state, routers, req.BatchSize)

	return job, nil
}

// candidates resolves the router set for a request.
func (e *Engine) candidates(ctx context.Context, req StartRequest) ([]*models.Router, error) {
	if len(req.RouterIDs) > 0 {
		return e.store.GetRoutersByIDs(ctx, req.RouterIDs)
	}

	statuses := []models.RouterStatus{models.RouterStatusUpdateAvailable}
	if req.IncludeErrors {
		statuses = append(statuses,
			models.RouterStatusError, models.RouterStatusUnreachable)
	}
	return e.store.GetRoutersByStatus(ctx, statuses...)
}

// run drives one job to a terminal state.
func (e *Engine) run(ctx context.Context, state *jobState, routers []*models.Router, batchSize int) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rollout panicked", "job_id", state.jobID, "recovered", r)
		}
		e.mu.Lock()
		delete(e.jobs, state.jobID)
		e.mu.Unlock()
	}()

	globalUser, globalPass, err := e.store.Credentials(ctx)
	if err != nil {
		// Routers without per-device credentials will fail individually.
		e.logger.Error("failed to read global credentials", "job_id", state.jobID, "error", err)
	}

	total := len(routers)
	totalBatches := (total + batchSize - 1) / batchSize

	e.bus.Publish(events.NewEvent(events.TypeJobStarted, state.jobID, events.EventData{
		Total:   total,
		Message: "firmware update started",
	}))

	completed, failed := 0, 0
	for i := 0; i < total; i += batchSize {
		select {
		case <-state.cancelCh:
			e.finish(ctx, state, completed, failed, total)
			return
		default:
		}

		end := i + batchSize
		if end > total {
			end = total
		}
		batch := routers[i:end]
		batchNumber := i/batchSize + 1

		e.bus.Publish(events.NewEvent(events.TypeBatchStarted, state.jobID, events.EventData{
			BatchNumber:  batchNumber,
			TotalBatches: totalBatches,
			Total:        len(batch),
		}))

		results := make([]bool, len(batch))
		var wg sync.WaitGroup
		for idx, router := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[idx] = e.updateRouter(ctx, state.jobID, router, globalUser, globalPass)
			}()
		}
		wg.Wait()

		for _, ok := range results {
			if ok {
				completed++
			} else {
				failed++
			}
		}
		if err := e.store.UpdateJob(ctx, state.jobID, store.JobUpdate{
			CompletedRouters: &completed,
			FailedRouters:    &failed,
		}); err != nil {
			e.logger.Error("failed to persist job counters", "job_id", state.jobID, "error", err)
		}
		metrics.RolloutBatchesTotal.Inc()

		e.bus.Publish(events.NewEvent(events.TypeBatchCompleted, state.jobID, events.EventData{
			BatchNumber:  batchNumber,
			TotalBatches: totalBatches,
			Completed:    completed,
			Failed:       failed,
		}))
		e.bus.Publish(events.NewEvent(events.TypeJobProgress, state.jobID, events.EventData{
			Progress:  percent(completed+failed, total),
			Completed: completed,
			Failed:    failed,
			Total:     total,
		}))

		if end < total {
			if !e.pauseBetweenBatches(ctx, state) {
				break
			}
		}
	}

	e.finish(ctx, state, completed, failed, total)
}

// pauseBetweenBatches waits batch_wait_minutes between windows, counting
// down one tick at a time so a cancel becomes visible within a minute.
// Returns false when the job was cancelled during the pause.
func (e *Engine) pauseBetweenBatches(ctx context.Context, state *jobState) bool {
	minutes, err := e.store.BatchWaitMinutes(ctx)
	if err != nil {
		e.logger.Warn("failed to read batch wait setting", "error", err)
		minutes = store.DefaultBatchWaitMinutes
	}
	if minutes <= 0 {
		return true
	}

	for remaining := minutes; remaining > 0; remaining-- {
		e.bus.Publish(events.NewEvent(events.TypeBatchWaiting, state.jobID, events.EventData{
			WaitTimeRemaining: remaining,
			Message:           fmt.Sprintf("waiting %d more minute(s) before the next batch", remaining),
		}))
		select {
		case <-time.After(e.cfg.BatchWaitTick):
		case <-state.cancelCh:
			return false
		}
	}
	return true
}

// finish writes the job's terminal state and emits job_completed.
func (e *Engine) finish(ctx context.Context, state *jobState, completed, failed, total int) {
	status := models.JobStatusCompleted
	message := fmt.Sprintf("firmware update finished: %d updated, %d failed", completed, failed)
	if state.cancelled() {
		status = models.JobStatusCancelled
		message = fmt.Sprintf("firmware update cancelled: %d updated, %d failed", completed, failed)
	}

	now := time.Now().UTC()
	if err := e.store.UpdateJob(ctx, state.jobID, store.JobUpdate{
		Status:           &status,
		CompletedAt:      &now,
		CompletedRouters: &completed,
		FailedRouters:    &failed,
	}); err != nil {
		e.logger.Error("failed to finalize job", "job_id", state.jobID, "error", err)
	}

	e.bus.Publish(events.NewEvent(events.TypeJobCompleted, state.jobID, events.EventData{
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Status:    string(status),
		Message:   message,
	}))
	metrics.RecordJobFinished(string(status))
	e.bus.Cleanup(state.jobID)

	e.logger.Info("rollout finished",
		"job_id", state.jobID, "status", status,
		"completed", completed, "failed", failed)
}

// updateRouter runs the per-router pipeline and reports success. Every exit
// path closes the history record and settles the router's status.
func (e *Engine) updateRouter(ctx context.Context, jobID string, router *models.Router, globalUser, globalPass string) bool {
	start := time.Now()
	logger := e.logger.With("job_id", jobID, "router_id", router.ID, "device", router.DeviceName)

	entry := &models.UpdateHistory{
		RouterID:       router.ID,
		FirmwareBefore: router.CurrentFirmware,
	}
	if err := e.store.InsertHistory(ctx, entry); err != nil {
		logger.Error("failed to open history record", "error", err)
		return false
	}
	if err := e.store.UpdateRouterStatus(ctx, router.ID, models.RouterStatusUpdating); err != nil {
		logger.Error("failed to mark router updating", "error", err)
	}

	data := events.EventData{
		RouterID:   router.ID,
		DeviceName: router.DeviceName,
		IPAddress:  router.IPAddress,
	}
	started := data
	started.FirmwareBefore = deref(router.CurrentFirmware)
	e.bus.Publish(events.NewEvent(events.TypeRouterStarted, jobID, started))

	fail := func(message string, cause error) bool {
		if err := e.store.CompleteHistory(ctx, entry.ID, models.HistoryStatusFailed, &message, nil); err != nil {
			logger.Error("failed to close history record", "error", err)
		}
		if err := e.store.UpdateRouterStatus(ctx, router.ID, models.RouterStatusError); err != nil {
			logger.Error("failed to mark router errored", "error", err)
		}
		failedData := data
		failedData.Status = stageFailed
		failedData.Error = message
		e.bus.Publish(events.NewEvent(events.TypeRouterFailed, jobID, failedData))
		metrics.RecordRouterUpdate("failure", time.Since(start).Seconds())
		if cause != nil {
			logger.Warn("router update failed", "reason", message, "error", cause)
		} else {
			logger.Warn("router update failed", "reason", message)
		}
		return false
	}

	progress := data
	progress.Status = stageDownloading
	progress.Message = "downloading firmware image"
	e.bus.Publish(events.NewEvent(events.TypeRouterProgress, jobID, progress))

	username, password := effectiveCredentials(router, globalUser, globalPass)
	if username == "" {
		return fail("no credentials configured", nil)
	}

	target := sshclient.Target{Host: router.IPAddress, Username: username, Password: password}
	p := probe.New(e.runner, target, e.probeCfg)

	// A previous attempt may have left a verified image behind; downloading
	// again would only burn the device's metered link.
	present, err := p.ImagePresent(ctx)
	if err != nil {
		return fail("Firmware download failed", err)
	}
	if !present {
		if err := p.DownloadImage(ctx); err != nil {
			return fail("Firmware download failed", err)
		}
	}

	if err := p.VerifyImage(ctx); err != nil {
		return fail("Firmware image verification failed", err)
	}

	if err := p.ApplyImage(ctx); err != nil {
		return fail(failureMessage(err), err)
	}

	progress = data
	progress.Status = stageRebooting
	progress.Message = "firmware flashed, waiting for reboot"
	e.bus.Publish(events.NewEvent(events.TypeRouterProgress, jobID, progress))

	newVersion, back := e.waitForReboot(ctx, p, router)
	if !back {
		return fail("Router did not come back online after update", nil)
	}

	if err := e.store.CompleteHistory(ctx, entry.ID, models.HistoryStatusSuccess, nil, &newVersion); err != nil {
		logger.Error("failed to close history record", "error", err)
	}
	if err := e.store.UpdateRouterFirmware(ctx, router.ID, &newVersion, nil, models.RouterStatusUpToDate); err != nil {
		logger.Error("failed to persist new firmware", "error", err)
	}

	completedData := data
	completedData.Status = stageVerified
	completedData.FirmwareBefore = deref(router.CurrentFirmware)
	completedData.FirmwareAfter = newVersion
	completedData.Message = fmt.Sprintf("updated to %s", newVersion)
	e.bus.Publish(events.NewEvent(events.TypeRouterCompleted, jobID, completedData))
	metrics.RecordRouterUpdate("success", time.Since(start).Seconds())

	logger.Info("router updated",
		"from", deref(router.CurrentFirmware), "to", newVersion,
		"duration", time.Since(start))
	return true
}

// waitForReboot polls the router after a flash until it reports a firmware
// version. When an available_firmware was recorded, only that version counts
// as back; an unexpected reading means the device has not rebooted yet.
// Cancellation is batch-granular, so the poll is deliberately uninterruptible.
func (e *Engine) waitForReboot(ctx context.Context, p *probe.Prober, router *models.Router) (string, bool) {
	expected := deref(router.AvailableFirmware)

	for attempt := 0; attempt < e.cfg.RebootPollAttempts; attempt++ {
		time.Sleep(e.cfg.RebootPollInterval)

		version, err := p.CurrentVersion(ctx)
		if err != nil || version == "" {
			continue
		}
		if expected != "" && version != expected {
			continue
		}
		return version, true
	}
	return "", false
}

// Cancel stops a job. A running job stops before its next batch; an active
// job row without an in-process goroutine is reconciled directly.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	state, ok := e.jobs[jobID]
	e.mu.Unlock()

	if ok {
		state.cancel()
		e.logger.Info("rollout cancel requested", "job_id", jobID)
		return nil
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Active() {
		cancelled := models.JobStatusCancelled
		now := time.Now().UTC()
		e.logger.Warn("cancelling orphaned job row", "job_id", jobID)
		return e.store.UpdateJob(ctx, jobID, store.JobUpdate{
			Status:      &cancelled,
			CompletedAt: &now,
		})
	}
	return ferrors.Newf(ferrors.ErrCodeValidation,
		"job %s already finished with status %s", jobID, job.Status)
}

// Recover reconciles state a previous process left behind. Runs once at
// startup, before the engines accept work: jobs that claim to be active are
// cancelled, routers stuck updating become errors, and open history records
// are closed.
func (e *Engine) Recover(ctx context.Context) error {
	jobs, err := e.store.CancelActiveJobs(ctx)
	if err != nil {
		return err
	}
	routers, err := e.store.MarkUpdatingRoutersError(ctx)
	if err != nil {
		return err
	}
	records, err := e.store.FailRunningHistory(ctx, "process restarted")
	if err != nil {
		return err
	}

	if jobs > 0 || routers > 0 || records > 0 {
		e.logger.Warn("recovered state from previous run",
			"cancelled_jobs", jobs,
			"errored_routers", routers,
			"closed_history", records)
	}
	return nil
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

func failureMessage(err error) string {
	var fe *ferrors.FotaError
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
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
