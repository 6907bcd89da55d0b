// fotad is the fleet firmware rollout daemon: it owns the router inventory,
// scans firmware state over SSH, runs batched update jobs and streams
// progress to dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fotad.sh/internal/config"
	"fotad.sh/internal/database"
	"fotad.sh/internal/events"
	"fotad.sh/internal/migrations"
	"fotad.sh/internal/rollout"
	"fotad.sh/internal/scan"
	"fotad.sh/internal/server"
	"fotad.sh/internal/sshclient"
	"fotad.sh/internal/store"
	"fotad.sh/internal/version"
)

func main() {
	var (
		port        int
		dataDir     string
		dbFile      string
		logLevel    string
		logFormat   string
		corsOrigins string
		rateLimit   float64
		showVersion bool
	)

	flag.IntVar(&port, "port", config.GetIntFromEnv("FOTAD_PORT", 8080), "Port to listen on")
	flag.StringVar(&dataDir, "data-dir", config.GetStringFromEnv("FOTAD_DATA_DIR", "./data"), "Directory for persistent state")
	flag.StringVar(&dbFile, "db-file", config.GetStringFromEnv("FOTAD_DB_FILE", "fotad.db"), "Database file name inside the data directory")
	flag.StringVar(&logLevel, "log-level", config.GetStringFromEnv("FOTAD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.StringVar(&logFormat, "log-format", config.GetStringFromEnv("FOTAD_LOG_FORMAT", "text"), "Log format (text, json)")
	flag.StringVar(&corsOrigins, "cors-origins", config.GetStringFromEnv("FOTAD_CORS_ORIGINS", "*"), "Comma-separated allowed CORS origins")
	flag.Float64Var(&rateLimit, "rate-limit", 50, "API requests per second per client")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fotad - fleet firmware rollout daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("fotad %s\n", version.String())
		os.Exit(0)
	}

	setupLogging(logLevel, logFormat)

	if err := run(port, dataDir, dbFile, corsOrigins, rateLimit); err != nil {
		slog.Error("fotad exited", "error", err)
		os.Exit(1)
	}
}

func run(port int, dataDir, dbFile, corsOrigins string, rateLimit float64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := database.OpenWithRetry(ctx, database.DefaultConfig(dbPath), database.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	schemaVersion, dirty, err := migrations.MigrateUp(db)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("database ready", "path", dbPath, "schema_version", schemaVersion, "dirty", dirty)

	st := store.New(db)
	bus := events.Default()

	probeCfg := config.DefaultProbeConfig()
	runner := sshclient.New(probeCfg.ConnectTimeout)

	scanner := scan.New(st, bus, runner, probeCfg, config.DefaultScanConfig())
	rolloutEngine := rollout.New(st, bus, runner, probeCfg, config.DefaultRolloutConfig())

	// A previous process may have died mid-job. Reconcile before the
	// engines accept any work.
	if err := rolloutEngine.Recover(ctx); err != nil {
		return fmt.Errorf("recover state: %w", err)
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Port = port
	serverCfg.RateLimit = rateLimit
	serverCfg.RateBurst = int(rateLimit * 2)
	serverCfg.CORSOrigins = splitOrigins(corsOrigins)

	srv := server.New(serverCfg, db, st, scanner, rolloutEngine, bus)

	slog.Info("fotad starting", "version", version.Version, "port", port)
	return srv.Start(ctx)
}

func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
