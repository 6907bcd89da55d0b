package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
)

// InsertHistory opens a new update attempt record. Missing id and
// started_at are filled in; the status defaults to running.
func (s *Store) InsertHistory(ctx context.Context, h *models.UpdateHistory) error {
	if h.RouterID == "" {
		return ferrors.New(ferrors.ErrCodeValidation, "history router id is required")
	}
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.Status == "" {
		h.Status = models.HistoryStatusRunning
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO update_history (id, router_id, firmware_before,
		                            firmware_after, status, error_message,
		                            started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var completedAt sql.NullTime
	if h.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *h.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.RouterID,
		nullString(h.FirmwareBefore),
		nullString(h.FirmwareAfter),
		string(h.Status),
		nullString(h.ErrorMessage),
		h.StartedAt,
		completedAt,
	)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to insert history")
	}
	return nil
}

// CompleteHistory closes an attempt: the status leaves running, so
// completed_at is stamped in the same statement. firmwareAfter is only set
// on success; errorMessage only on failure.
func (s *Store) CompleteHistory(ctx context.Context, id string, status models.HistoryStatus, errorMessage, firmwareAfter *string) error {
	if status == models.HistoryStatusRunning {
		return ferrors.New(ferrors.ErrCodeValidation, "cannot complete history back into running")
	}

	query := `
		UPDATE update_history
		SET status = ?, error_message = ?, firmware_after = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(status), nullString(errorMessage), nullString(firmwareAfter),
		time.Now().UTC(), id)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to complete history")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get rows affected")
	}
	if n == 0 {
		return ferrors.Newf(ferrors.ErrCodeNotFound, "history record not found: %s", id)
	}
	return nil
}

// FailRunningHistory closes every attempt still marked running. Recovery
// uses it on startup; a running record cannot have survived the previous
// process.
func (s *Store) FailRunningHistory(ctx context.Context, message string) (int64, error) {
	query := `
		UPDATE update_history
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(models.HistoryStatusFailed), message, time.Now().UTC(),
		string(models.HistoryStatusRunning))
	if err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to fail running history")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// HistoryForRouter returns the attempts recorded for one router, newest
// first. limit <= 0 means no limit.
func (s *Store) HistoryForRouter(ctx context.Context, routerID string, limit int) ([]*models.UpdateHistory, error) {
	query := `
		SELECT h.id, h.router_id, h.firmware_before, h.firmware_after,
		       h.status, h.error_message, h.started_at, h.completed_at,
		       r.device_name, r.ip_address
		FROM update_history h
		JOIN routers r ON r.id = h.router_id
		WHERE h.router_id = ?
		ORDER BY h.started_at DESC
	`
	args := []any{routerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query router history")
	}
	defer rows.Close()

	return collectHistory(rows)
}

// RecentHistory returns the latest attempts across the fleet, joined with
// the router's name and address for display.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]*models.UpdateHistory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT h.id, h.router_id, h.firmware_before, h.firmware_after,
		       h.status, h.error_message, h.started_at, h.completed_at,
		       r.device_name, r.ip_address
		FROM update_history h
		JOIN routers r ON r.id = h.router_id
		ORDER BY h.started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query recent history")
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]*models.UpdateHistory, error) {
	var records []*models.UpdateHistory
	for rows.Next() {
		var (
			h              models.UpdateHistory
			firmwareBefore sql.NullString
			firmwareAfter  sql.NullString
			errorMessage   sql.NullString
			completedAt    sql.NullTime
		)
		err := rows.Scan(&h.ID, &h.RouterID, &firmwareBefore, &firmwareAfter,
			&h.Status, &errorMessage, &h.StartedAt, &completedAt,
			&h.DeviceName, &h.IPAddress)
		if err != nil {
			return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to scan history row")
		}
		h.FirmwareBefore = stringPtr(firmwareBefore)
		h.FirmwareAfter = stringPtr(firmwareAfter)
		h.ErrorMessage = stringPtr(errorMessage)
		h.CompletedAt = timePtr(completedAt)
		records = append(records, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to iterate history rows")
	}
	return records, nil
}
