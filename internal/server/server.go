// Package server exposes the operator HTTP API and the live event stream.
//
// All fleet state changes flow through here: inventory CRUD, settings,
// the firmware version table, scans and rollout jobs. Progress streams to
// dashboards over SSE from the shared event bus.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"fotad.sh/internal/events"
	"fotad.sh/internal/middleware"
	"fotad.sh/internal/rollout"
	"fotad.sh/internal/scan"
	"fotad.sh/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Port to listen on.
	Port int

	// CORSOrigins are the allowed cross-origin hosts. The dashboard is
	// usually served from somewhere else, so the default is permissive.
	CORSOrigins []string

	// RateLimit is the sustained request rate per second per client.
	RateLimit float64

	// RateBurst is the token bucket depth per client.
	RateBurst int

	// ShutdownTimeout bounds the graceful drain on shutdown.
	ShutdownTimeout time.Duration

	// SSEHeartbeat is the keep-alive comment interval on event streams.
	SSEHeartbeat time.Duration
}

// DefaultConfig returns production server settings.
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		CORSOrigins:     []string{"*"},
		RateLimit:       50,
		RateBurst:       100,
		ShutdownTimeout: 30 * time.Second,
		SSEHeartbeat:    30 * time.Second,
	}
}

// Server is the operator-facing HTTP surface of the daemon.
type Server struct {
	cfg     Config
	db      *sql.DB
	store   *store.Store
	scanner *scan.Engine
	rollout *rollout.Engine
	bus     *events.Bus
	limiter *middleware.RateLimiter
	logger  *slog.Logger

	httpServer *http.Server
}

// New wires the server over the shared store, engines and event bus.
func New(cfg Config, db *sql.DB, st *store.Store, scanner *scan.Engine, rolloutEngine *rollout.Engine, bus *events.Bus) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		store:   st,
		scanner: scanner,
		rollout: rolloutEngine,
		bus:     bus,
		logger:  slog.Default().With("component", "server"),
	}
	s.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.RateLimit,
		Burst:      cfg.RateBurst,
		Expiration: time.Hour,
	})
	return s
}

// Handler builds the full middleware-wrapped route tree. Exposed so tests
// can run the API on httptest without binding a port.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Metrics)
	r.Use(s.limiter.Middleware)
	r.Use(middleware.Recovery(s.logger))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/routers/stats", s.handleRouterStats).Methods(http.MethodGet)
	api.HandleFunc("/routers/import", s.handleImportRouters).Methods(http.MethodPost)
	api.HandleFunc("/routers", s.handleListRouters).Methods(http.MethodGet)
	api.HandleFunc("/routers", s.handleCreateRouter).Methods(http.MethodPost)
	api.HandleFunc("/routers", s.handleDeleteAllRouters).Methods(http.MethodDelete)
	api.HandleFunc("/routers/{id}", s.handleGetRouter).Methods(http.MethodGet)
	api.HandleFunc("/routers/{id}", s.handleDeleteRouter).Methods(http.MethodDelete)

	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)

	api.HandleFunc("/settings/credentials", s.handleGetCredentials).Methods(http.MethodGet)
	api.HandleFunc("/settings/credentials", s.handleSetCredentials).Methods(http.MethodPut)
	api.HandleFunc("/settings/batch-wait", s.handleGetBatchWait).Methods(http.MethodGet)
	api.HandleFunc("/settings/batch-wait", s.handleSetBatchWait).Methods(http.MethodPut)

	api.HandleFunc("/firmware-versions", s.handleListFirmwareVersions).Methods(http.MethodGet)
	api.HandleFunc("/firmware-versions", s.handleUpsertFirmwareVersion).Methods(http.MethodPut)
	api.HandleFunc("/firmware-versions/{prefix}", s.handleDeleteFirmwareVersion).Methods(http.MethodDelete)

	api.HandleFunc("/rollouts/active", s.handleActiveRollout).Methods(http.MethodGet)
	api.HandleFunc("/rollouts", s.handleStartRollout).Methods(http.MethodPost)
	api.HandleFunc("/rollouts", s.handleListRollouts).Methods(http.MethodGet)
	api.HandleFunc("/rollouts/{id}", s.handleGetRollout).Methods(http.MethodGet)
	api.HandleFunc("/rollouts/{id}/cancel", s.handleCancelRollout).Methods(http.MethodPost)

	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

// Start serves until ctx is cancelled, then drains gracefully.
func (s *Server) Start(ctx context.Context) error {
	// WriteTimeout stays zero: SSE connections are long-lived and a write
	// deadline would cut every dashboard off mid-stream.
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "port", s.cfg.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests and stops the rate limiter sweep.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	defer s.limiter.Stop()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
