package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"fotad.sh/internal/ferrors"
)

// Known settings keys.
const (
	SettingGlobalUsername   = "global_username"
	SettingGlobalPassword   = "global_password"
	SettingBatchWaitMinutes = "batch_wait_minutes"
)

// DefaultBatchWaitMinutes applies when the operator has never configured
// the inter-batch pause.
const DefaultBatchWaitMinutes = 5

// GetSetting returns the raw value for a key and whether it was set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get setting %s", key)
	}
	return value, true, nil
}

// SetSetting upserts one key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to set setting %s", key)
	}
	return nil
}

// Credentials returns the global SSH username and password. Unset values
// come back empty.
func (s *Store) Credentials(ctx context.Context) (username, password string, err error) {
	username, _, err = s.GetSetting(ctx, SettingGlobalUsername)
	if err != nil {
		return "", "", err
	}
	password, _, err = s.GetSetting(ctx, SettingGlobalPassword)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// SetCredentials stores the global SSH credentials.
func (s *Store) SetCredentials(ctx context.Context, username, password string) error {
	if username == "" {
		return ferrors.New(ferrors.ErrCodeValidation, "username is required")
	}
	if err := s.SetSetting(ctx, SettingGlobalUsername, username); err != nil {
		return err
	}
	if err := s.SetSetting(ctx, SettingGlobalPassword, password); err != nil {
		return err
	}
	s.logger.Info("global credentials updated", "username", username)
	return nil
}

// BatchWaitMinutes returns the configured inter-batch pause in minutes.
func (s *Store) BatchWaitMinutes(ctx context.Context) (int, error) {
	value, ok, err := s.GetSetting(ctx, SettingBatchWaitMinutes)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultBatchWaitMinutes, nil
	}
	minutes, err := strconv.Atoi(value)
	if err != nil || minutes < 0 {
		s.logger.Warn("invalid batch_wait_minutes setting, using default", "value", value)
		return DefaultBatchWaitMinutes, nil
	}
	return minutes, nil
}

// SetBatchWaitMinutes stores the inter-batch pause.
func (s *Store) SetBatchWaitMinutes(ctx context.Context, minutes int) error {
	if minutes < 0 {
		return ferrors.New(ferrors.ErrCodeValidation, "batch wait minutes must be >= 0")
	}
	return s.SetSetting(ctx, SettingBatchWaitMinutes, strconv.Itoa(minutes))
}
