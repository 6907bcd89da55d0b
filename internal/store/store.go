// Package store is the durable inventory of the fleet: routers, update
// history, rollout jobs, settings, and the firmware version table.
//
// The store exclusively owns all rows. Engines mutate state only through
// these operations; sqlite's single-writer transaction model is the only
// locking involved.
package store

import (
	"database/sql"
	"log/slog"
	"time"
)

// Store provides data access over the embedded sqlite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a store over an open database handle. The schema must already
// be migrated.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
