package store

import (
	"context"
	"database/sql"
	"time"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
	"fotad.sh/internal/policy"
)

// ListFirmwareVersions returns the operator version table ordered by
// device-family prefix.
func (s *Store) ListFirmwareVersions(ctx context.Context) ([]*models.FirmwareVersion, error) {
	query := `
		SELECT device_prefix, latest_version, updated_at
		FROM firmware_versions
		ORDER BY device_prefix
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query firmware versions")
	}
	defer rows.Close()

	var versions []*models.FirmwareVersion
	for rows.Next() {
		var v models.FirmwareVersion
		if err := rows.Scan(&v.DevicePrefix, &v.LatestVersion, &v.UpdatedAt); err != nil {
			return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to scan firmware version")
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to iterate firmware versions")
	}
	return versions, nil
}

// UpsertFirmwareVersion validates and stores one version-table row.
func (s *Store) UpsertFirmwareVersion(ctx context.Context, devicePrefix, latestVersion string) (*models.FirmwareVersion, error) {
	if err := policy.ValidateEntry(devicePrefix, latestVersion); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO firmware_versions (device_prefix, latest_version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_prefix) DO UPDATE SET
			latest_version = excluded.latest_version,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, devicePrefix, latestVersion, now); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to upsert firmware version")
	}

	s.logger.Info("firmware version set", "prefix", devicePrefix, "version", latestVersion)
	return &models.FirmwareVersion{
		DevicePrefix:  devicePrefix,
		LatestVersion: latestVersion,
		UpdatedAt:     now,
	}, nil
}

// DeleteFirmwareVersion removes one row from the version table.
func (s *Store) DeleteFirmwareVersion(ctx context.Context, devicePrefix string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM firmware_versions WHERE device_prefix = ?`, devicePrefix)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to delete firmware version")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get rows affected")
	}
	if n == 0 {
		return ferrors.Newf(ferrors.ErrCodeNotFound, "firmware version not found: %s", devicePrefix)
	}
	return nil
}

// LatestForPrefix resolves a device-family prefix to the latest approved
// version. The scan engine passes this to policy.Evaluate.
func (s *Store) LatestForPrefix(ctx context.Context, devicePrefix string) (string, bool, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		`SELECT latest_version FROM firmware_versions WHERE device_prefix = ?`,
		devicePrefix).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get firmware version")
	}
	return version, true, nil
}
