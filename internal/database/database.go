// Package database opens the embedded sqlite store used by fotad.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// Config holds database configuration.
type Config struct {
	// Path is the sqlite file location. The parent directory is created
	// when missing.
	Path string `json:"path"`

	// BusyTimeout is how long sqlite waits on a locked database before
	// failing a statement.
	BusyTimeout time.Duration `json:"busy_timeout"`

	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	PingTimeout     time.Duration `json:"ping_timeout"`
}

// DefaultConfig returns default database configuration for the given file
// path.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		BusyTimeout:     5 * time.Second,
		ConnMaxLifetime: 5 * time.Minute,
		PingTimeout:     10 * time.Second,
	}
}

// DSN renders the sqlite connection string. Foreign keys are always on;
// the history cascade depends on them.
func (c Config) DSN() string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprintf("%d", c.BusyTimeout.Milliseconds()))
	return fmt.Sprintf("file:%s?%s", c.Path, q.Encode())
}

// Open connects to the sqlite database, creating the data directory when
// needed. The pool is capped at a single connection; sqlite serializes
// writers anyway and a single connection sidesteps SQLITE_BUSY churn.
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	pingTimeout := config.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RetryConfig holds configuration for connection retry logic.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
	}
}

// OpenWithRetry opens the database, retrying with exponential backoff. The
// data file can sit on network-backed storage that is still mounting when
// the daemon starts.
func OpenWithRetry(ctx context.Context, config Config, retry RetryConfig) (*sql.DB, error) {
	delay := retry.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= retry.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while connecting to database: %w", ctx.Err())
		default:
		}

		db, err := Open(ctx, config)
		if err == nil {
			if attempt > 1 {
				slog.Info("database connection established", "attempt", attempt, "path", config.Path)
			}
			return db, nil
		}
		lastErr = err

		slog.Warn("database connection failed",
			"error", err,
			"attempt", attempt,
			"max_attempts", retry.MaxRetries)

		if attempt < retry.MaxRetries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled while connecting to database: %w", ctx.Err())
			}
			delay = nextBackoff(delay, retry.MaxDelay, retry.BackoffFactor)
		}
	}

	return nil, fmt.Errorf("failed to open database after %d attempts: %w", retry.MaxRetries, lastErr)
}

func nextBackoff(current, max time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
