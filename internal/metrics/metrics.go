package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fotad_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fotad_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Scan metrics
	ScansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fotad_scans_total",
			Help: "Total number of fleet scans",
		},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fotad_scan_duration_seconds",
			Help:    "Fleet scan duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	RoutersScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fotad_routers_scanned_total",
			Help: "Total number of router scan outcomes",
		},
		[]string{"outcome"},
	)

	RoutersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fotad_routers_by_status",
			Help: "Number of routers per inventory status",
		},
		[]string{"status"},
	)

	// Rollout metrics
	RolloutJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fotad_rollout_jobs_total",
			Help: "Total number of finished rollout jobs",
		},
		[]string{"status"},
	)

	RolloutBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fotad_rollout_batches_total",
			Help: "Total number of processed rollout batches",
		},
	)

	RouterUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fotad_router_updates_total",
			Help: "Total number of per-router firmware update attempts",
		},
		[]string{"result"},
	)

	RouterUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fotad_router_update_duration_seconds",
			Help:    "Per-router firmware update duration in seconds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	RolloutJobActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fotad_rollout_job_active",
			Help: "Whether a rollout job is currently running (0 or 1)",
		},
	)

	// Event metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fotad_events_published_total",
			Help: "Total number of published update events",
		},
		[]string{"type"},
	)

	SSEClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fotad_sse_clients_connected",
			Help: "Number of currently connected SSE clients",
		},
	)
)

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordScan records one finished fleet scan
func RecordScan(duration float64) {
	ScansTotal.Inc()
	ScanDuration.Observe(duration)
}

// RecordRouterScan records the outcome of scanning one router
func RecordRouterScan(outcome string) {
	RoutersScannedTotal.WithLabelValues(outcome).Inc()
}

// RecordRouterUpdate records one finished per-router update attempt
func RecordRouterUpdate(result string, duration float64) {
	RouterUpdatesTotal.WithLabelValues(result).Inc()
	RouterUpdateDuration.Observe(duration)
}

// RecordJobFinished records a rollout job reaching a terminal status
func RecordJobFinished(status string) {
	RolloutJobsTotal.WithLabelValues(status).Inc()
	RolloutJobActive.Set(0)
}
