package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
)

const routerColumns = `id, device_name, ip_address, username, password,
       current_firmware, available_firmware, status, last_check,
       created_at, updated_at`

func scanRouter(row interface{ Scan(...any) error }) (*models.Router, error) {
	var (
		r                 models.Router
		username          sql.NullString
		password          sql.NullString
		currentFirmware   sql.NullString
		availableFirmware sql.NullString
		lastCheck         sql.NullTime
	)
	err := row.Scan(&r.ID, &r.DeviceName, &r.IPAddress, &username, &password,
		&currentFirmware, &availableFirmware, &r.Status, &lastCheck,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Username = stringPtr(username)
	r.Password = stringPtr(password)
	r.CurrentFirmware = stringPtr(currentFirmware)
	r.AvailableFirmware = stringPtr(availableFirmware)
	r.LastCheck = timePtr(lastCheck)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// ListRouters returns every router, ordered by device name.
func (s *Store) ListRouters(ctx context.Context) ([]*models.Router, error) {
	query := `
		SELECT ` + routerColumns + `
		FROM routers
		ORDER BY device_name, ip_address
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query routers")
	}
	defer rows.Close()

	return collectRouters(rows)
}

// GetRouter returns a single router by id.
func (s *Store) GetRouter(ctx context.Context, id string) (*models.Router, error) {
	if id == "" {
		return nil, ferrors.New(ferrors.ErrCodeValidation, "router id is required")
	}

	query := `
		SELECT ` + routerColumns + `
		FROM routers
		WHERE id = ?
	`
	r, err := scanRouter(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ferrors.Newf(ferrors.ErrCodeNotFound, "router not found: %s", id)
		}
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get router")
	}
	return r, nil
}

// GetRoutersByStatus returns the routers currently in one of the given
// statuses.
func (s *Store) GetRoutersByStatus(ctx context.Context, statuses ...models.RouterStatus) ([]*models.Router, error) {
	if len(statuses) == 0 {
		return nil, ferrors.New(ferrors.ErrCodeValidation, "at least one status is required")
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	query := `
		SELECT ` + routerColumns + `
		FROM routers
		WHERE status IN (` + placeholders + `)
		ORDER BY device_name, ip_address
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query routers by status")
	}
	defer rows.Close()

	return collectRouters(rows)
}

// GetRoutersByIDs returns the routers for the given ids, preserving the
// input order. Missing ids are silently skipped; the rollout engine treats
// them as removed from the fleet.
func (s *Store) GetRoutersByIDs(ctx context.Context, ids []string) ([]*models.Router, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT ` + routerColumns + `
		FROM routers
		WHERE id IN (` + placeholders + `)
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query routers by id")
	}
	defer rows.Close()

	found, err := collectRouters(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Router, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	ordered := make([]*models.Router, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// CreateRouter inserts one router. A missing id is generated; a duplicate
// IP address is a conflict.
func (s *Store) CreateRouter(ctx context.Context, router *models.Router) error {
	if err := router.Validate(); err != nil {
		return ferrors.Wrap(err, ferrors.ErrCodeValidation, "invalid router")
	}

	if router.ID == "" {
		router.ID = uuid.New().String()
	}
	if router.Status == "" {
		router.Status = models.RouterStatusUnknown
	}
	now := time.Now().UTC()
	router.CreatedAt = now
	router.UpdatedAt = now

	query := `
		INSERT INTO routers (id, device_name, ip_address, username, password,
		                     current_firmware, available_firmware, status,
		                     last_check, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		router.ID,
		router.DeviceName,
		router.IPAddress,
		nullString(router.Username),
		nullString(router.Password),
		nullString(router.CurrentFirmware),
		nullString(router.AvailableFirmware),
		string(router.Status),
		sql.NullTime{},
		router.CreatedAt,
		router.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ferrors.Newf(ferrors.ErrCodeConflict,
				"router with ip %s already exists", router.IPAddress)
		}
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to create router")
	}

	s.logger.Info("router created", "id", router.ID, "ip", router.IPAddress)
	return nil
}

// ImportRouters bulk-loads validated router records in one transaction,
// upserting by id. Records without an id adopt the id of an existing row
// with the same IP address, so re-importing the same inventory file is
// idempotent. Discovered firmware state of existing rows is preserved.
func (s *Store) ImportRouters(ctx context.Context, routers []models.Router) (int, error) {
	for i := range routers {
		if err := routers[i].Validate(); err != nil {
			return 0, ferrors.Wrapf(err, ferrors.ErrCodeValidation,
				"invalid router record %d", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to begin import")
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO routers (id, device_name, ip_address, username, password,
		                     status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			device_name = excluded.device_name,
			ip_address = excluded.ip_address,
			username = excluded.username,
			password = excluded.password,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	count := 0
	for i := range routers {
		r := &routers[i]
		if r.ID == "" {
			var existing string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM routers WHERE ip_address = ?`, r.IPAddress).Scan(&existing)
			switch {
			case err == sql.ErrNoRows:
				r.ID = uuid.New().String()
			case err != nil:
				return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to resolve router by ip")
			default:
				r.ID = existing
			}
		}
		if r.Status == "" {
			r.Status = models.RouterStatusUnknown
		}

		_, err := tx.ExecContext(ctx, upsert,
			r.ID,
			r.DeviceName,
			r.IPAddress,
			nullString(r.Username),
			nullString(r.Password),
			string(r.Status),
			now,
			now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, ferrors.Newf(ferrors.ErrCodeConflict,
					"duplicate ip address in import: %s", r.IPAddress)
			}
			return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to import router %s", r.IPAddress)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to commit import")
	}

	s.logger.Info("routers imported", "count", count)
	return count, nil
}

// UpdateRouterFirmware records a scan or rollout outcome: firmware
// readings, the derived status, and the check timestamp.
func (s *Store) UpdateRouterFirmware(ctx context.Context, id string, current, available *string, status models.RouterStatus) error {
	query := `
		UPDATE routers
		SET current_firmware = ?, available_firmware = ?, status = ?,
		    last_check = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		nullString(current), nullString(available), string(status), now, now, id)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to update router firmware")
	}
	return s.requireRouterRow(result, id)
}

// UpdateRouterStatus sets only the status column.
func (s *Store) UpdateRouterStatus(ctx context.Context, id string, status models.RouterStatus) error {
	query := `
		UPDATE routers
		SET status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to update router status")
	}
	return s.requireRouterRow(result, id)
}

// MarkUpdatingRoutersError reconciles routers left in `updating` by a dead
// process. Returns how many rows were touched.
func (s *Store) MarkUpdatingRoutersError(ctx context.Context) (int64, error) {
	query := `
		UPDATE routers
		SET status = ?, updated_at = ?
		WHERE status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(models.RouterStatusError), time.Now().UTC(), string(models.RouterStatusUpdating))
	if err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to reconcile updating routers")
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteRouter removes one router; its history rows cascade away.
func (s *Store) DeleteRouter(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM routers WHERE id = ?`, id)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to delete router")
	}
	if err := s.requireRouterRow(result, id); err != nil {
		return err
	}
	s.logger.Info("router deleted", "id", id)
	return nil
}

// DeleteAllRouters clears the inventory; history rows cascade away.
func (s *Store) DeleteAllRouters(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM routers`)
	if err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to delete routers")
	}
	n, _ := result.RowsAffected()
	s.logger.Info("all routers deleted", "count", n)
	return n, nil
}

// CountRoutersByStatus returns router counts grouped by status.
func (s *Store) CountRoutersByStatus(ctx context.Context) (map[models.RouterStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM routers GROUP BY status`)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to count routers")
	}
	defer rows.Close()

	counts := make(map[models.RouterStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to scan router count")
		}
		counts[models.RouterStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to iterate router counts")
	}
	return counts, nil
}

func (s *Store) requireRouterRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get rows affected")
	}
	if n == 0 {
		return ferrors.Newf(ferrors.ErrCodeNotFound, "router not found: %s", id)
	}
	return nil
}

func collectRouters(rows *sql.Rows) ([]*models.Router, error) {
	var routers []*models.Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to scan router row")
		}
		routers = append(routers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to iterate router rows")
	}
	return routers, nil
}
