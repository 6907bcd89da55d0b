package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/models"
)

const jobColumns = `id, status, batch_size, total_routers, completed_routers,
       failed_routers, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*models.BatchJob, error) {
	var (
		j           models.BatchJob
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Status, &j.BatchSize, &j.TotalRouters,
		&j.CompletedRouters, &j.FailedRouters, &j.CreatedAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	return &j, nil
}

// InsertJob persists a new rollout job. A missing id is generated.
func (s *Store) InsertJob(ctx context.Context, job *models.BatchJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO batch_jobs (id, status, batch_size, total_routers,
		                        completed_routers, failed_routers,
		                        created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var startedAt, completedAt sql.NullTime
	if job.StartedAt != nil {
		startedAt = sql.NullTime{Time: *job.StartedAt, Valid: true}
	}
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		job.ID, string(job.Status), job.BatchSize, job.TotalRouters,
		job.CompletedRouters, job.FailedRouters, job.CreatedAt,
		startedAt, completedAt)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to insert job")
	}

	s.logger.Info("job created", "id", job.ID, "batch_size", job.BatchSize, "total", job.TotalRouters)
	return nil
}

// JobUpdate is a partial update of a job row. Nil fields are untouched.
type JobUpdate struct {
	Status           *models.JobStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CompletedRouters *int
	FailedRouters    *int
}

// UpdateJob applies a partial update to one job.
func (s *Store) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	var (
		sets []string
		args []any
	)
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *upd.CompletedAt)
	}
	if upd.CompletedRouters != nil {
		sets = append(sets, "completed_routers = ?")
		args = append(args, *upd.CompletedRouters)
	}
	if upd.FailedRouters != nil {
		sets = append(sets, "failed_routers = ?")
		args = append(args, *upd.FailedRouters)
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE batch_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to update job")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get rows affected")
	}
	if n == 0 {
		return ferrors.Newf(ferrors.ErrCodeNotFound, "job not found: %s", id)
	}
	return nil
}

// ActiveJob returns the most recent job still pending or running, or nil
// when there is none. Its presence is the rollout engine's write lock.
func (s *Store) ActiveJob(ctx context.Context) (*models.BatchJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM batch_jobs
		WHERE status IN (?, ?)
		ORDER BY created_at DESC
		LIMIT 1
	`
	j, err := scanJob(s.db.QueryRowContext(ctx, query,
		string(models.JobStatusPending), string(models.JobStatusRunning)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query active job")
	}
	return j, nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.BatchJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM batch_jobs
		WHERE id = ?
	`
	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ferrors.Newf(ferrors.ErrCodeNotFound, "job not found: %s", id)
		}
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to get job")
	}
	return j, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*models.BatchJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM batch_jobs
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to query jobs")
	}
	defer rows.Close()

	var jobs []*models.BatchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to scan job row")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to iterate job rows")
	}
	return jobs, nil
}

// CancelActiveJobs reconciles jobs left pending or running by a dead
// process. Their abort flags were in-memory, so they cannot resume.
func (s *Store) CancelActiveJobs(ctx context.Context) (int64, error) {
	query := `
		UPDATE batch_jobs
		SET status = ?, completed_at = ?
		WHERE status IN (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		string(models.JobStatusCancelled), time.Now().UTC(),
		string(models.JobStatusPending), string(models.JobStatusRunning))
	if err != nil {
		return 0, ferrors.Wrapf(err, ferrors.ErrCodeInternal, "failed to cancel active jobs")
	}
	n, _ := result.RowsAffected()
	return n, nil
}
