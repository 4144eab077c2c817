package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, connection_id, status, record_count, start_time,
		end_time, error_message, created_at, updated_at`

const recordColumns = `id, job_id, email, first_name, last_name, id_from_service, created_at`

// Storage handles all database operations for jobs and their records.
//
// Every status transition is a single conditional UPDATE on the current
// status, so concurrent writers can never move a job out of a terminal state.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// activeStatuses holds the source states of the transitions into failed or
// cancelled, as query arguments
var activeStatuses = func() []string {
	var statuses []string
	for _, status := range domain.ActiveStatuses() {
		statuses = append(statuses, string(status))
	}
	return statuses
}()

// timestamp normalises t to the precision both drivers round-trip
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateJob inserts a new job
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := s.db.Rebind(`
		INSERT INTO extraction_jobs (
			job_id, connection_id, status, record_count, start_time,
			end_time, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	job.StartTime = timestamp(job.StartTime)
	job.CreatedAt = timestamp(job.CreatedAt)
	job.UpdatedAt = timestamp(job.UpdatedAt)

	var endTime any
	if job.EndTime != nil {
		t := timestamp(*job.EndTime)
		job.EndTime = &t
		endTime = t
	}

	var errorMessage any
	if job.ErrorMessage != nil {
		errorMessage = *job.ErrorMessage
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.ConnectionID,
		string(job.Status),
		job.RecordCount,
		job.StartTime,
		endTime,
		errorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM extraction_jobs WHERE job_id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// StartJob moves a job from pending to in_progress.
// It returns false if the job was no longer pending.
func (s *Storage) StartJob(ctx context.Context, jobID string, now time.Time) (bool, error) {
	query := s.db.Rebind(`
		UPDATE extraction_jobs
		SET status = ?, updated_at = ?
		WHERE job_id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		string(domain.JobStatusInProgress), timestamp(now),
		jobID, string(domain.JobStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to start job: %w", err)
	}

	return s.affected(result, jobID, domain.JobStatusInProgress)
}

// CompleteJob moves an in_progress job to completed and persists its records
// in the same transaction. If the job was concurrently moved to a terminal
// state nothing is written and false is returned.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, records []domain.Record, now time.Time) (bool, error) {
	now = timestamp(now)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := tx.Rebind(`
		UPDATE extraction_jobs
		SET status = ?, record_count = ?, end_time = ?, error_message = NULL, updated_at = ?
		WHERE job_id = ? AND status = ?
	`)

	result, err := tx.ExecContext(ctx, update,
		string(domain.JobStatusCompleted), len(records), now, now,
		jobID, string(domain.JobStatusInProgress),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}

	ok, err := s.affected(result, jobID, domain.JobStatusCompleted)
	if err != nil || !ok {
		return false, err
	}

	if err := insertRecords(ctx, tx, jobID, records, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit job completion: %w", err)
	}

	return true, nil
}

func insertRecords(ctx context.Context, tx *sqlx.Tx, jobID string, records []domain.Record, now time.Time) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO extraction_records (
			job_id, email, first_name, last_name, id_from_service, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, jobID, r.Email, r.FirstName, r.LastName, r.IDFromService, now); err != nil {
			return fmt.Errorf("failed to insert record %q: %w", r.IDFromService, err)
		}
	}

	return nil
}

// FailJob moves a non-terminal job to failed and discards any records it
// may hold. It returns false if the job was already terminal.
func (s *Storage) FailJob(ctx context.Context, jobID, errorMessage string, now time.Time) (bool, error) {
	now = timestamp(now)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update, args, err := sqlx.In(`
		UPDATE extraction_jobs
		SET status = ?, record_count = 0, end_time = ?, error_message = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?)
	`, string(domain.JobStatusFailed), now, errorMessage, now, jobID, activeStatuses)
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(update), args...)
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}

	ok, err := s.affected(result, jobID, domain.JobStatusFailed)
	if err != nil || !ok {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM extraction_records WHERE job_id = ?`), jobID); err != nil {
		return false, fmt.Errorf("failed to discard records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit job failure: %w", err)
	}

	return true, nil
}

// CancelJob moves a pending or in_progress job to cancelled.
// When the job is already terminal it returns the current snapshot and false.
func (s *Storage) CancelJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, bool, error) {
	now = timestamp(now)

	query, args, err := sqlx.In(`
		UPDATE extraction_jobs
		SET status = ?, end_time = ?, updated_at = ?
		WHERE job_id = ? AND status IN (?)
		RETURNING `+jobColumns, string(domain.JobStatusCancelled), now, now, jobID, activeStatuses)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build query: %w", err)
	}

	var job domain.Job
	err = s.db.GetContext(ctx, &job, s.db.Rebind(query), args...)
	if err == nil {
		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", string(domain.JobStatusCancelled)),
		)
		return &job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to cancel job: %w", err)
	}

	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// RemoveJob deletes a job and all of its records atomically
func (s *Storage) RemoveJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM extraction_records WHERE job_id = ?`), jobID); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM extraction_jobs WHERE job_id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job removal: %w", err)
	}

	s.logger.Info("Job removed", slog.String("job_id", jobID))
	return nil
}

// FailOrphanedJobs fails every job left pending or in_progress, e.g. by a
// previous process that stopped before its workers finished.
func (s *Storage) FailOrphanedJobs(ctx context.Context, errorMessage string, now time.Time) (int64, error) {
	now = timestamp(now)

	query, args, err := sqlx.In(`
		UPDATE extraction_jobs
		SET status = ?, record_count = 0, end_time = ?, error_message = ?, updated_at = ?
		WHERE status IN (?)
	`, string(domain.JobStatusFailed), now, errorMessage, now, activeStatuses)
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListRecords returns one page of a job's records in creation order
func (s *Storage) ListRecords(ctx context.Context, jobID string, page domain.PageRequest) (*domain.Page[domain.Record], error) {
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM extraction_records WHERE job_id = ?`), jobID); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	query := s.db.Rebind(`
		SELECT ` + recordColumns + `
		FROM extraction_records
		WHERE job_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`)

	records := []domain.Record{}
	if err := s.db.SelectContext(ctx, &records, query, jobID, page.Limit, page.Offset); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return &domain.Page[domain.Record]{
		Items:  records,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

// ListJobs returns one page of jobs, newest first
func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter, page domain.PageRequest) (*domain.Page[domain.Job], error) {
	where := ""
	args := []interface{}{}

	if filter.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM extraction_jobs`+where), args...); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM extraction_jobs` + where
	// Order by created_at DESC, job_id DESC for consistent pagination
	query += ` ORDER BY created_at DESC, job_id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return &domain.Page[domain.Job]{
		Items:  jobs,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

// Statistics counts jobs per status and averages the extraction time of
// completed jobs
func (s *Storage) Statistics(ctx context.Context) (*domain.Statistics, error) {
	var counts []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS count FROM extraction_jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	stats := &domain.Statistics{}
	for _, c := range counts {
		stats.Add(domain.JobStatus(c.Status), c.Count)
	}

	var spans []struct {
		StartTime time.Time `db:"start_time"`
		EndTime   time.Time `db:"end_time"`
	}
	query := s.db.Rebind(`
		SELECT start_time, end_time
		FROM extraction_jobs
		WHERE status = ? AND end_time IS NOT NULL
	`)
	if err := s.db.SelectContext(ctx, &spans, query, string(domain.JobStatusCompleted)); err != nil {
		return nil, fmt.Errorf("failed to load extraction times: %w", err)
	}

	if len(spans) > 0 {
		var sum float64
		for _, span := range spans {
			sum += span.EndTime.Sub(span.StartTime).Seconds()
		}
		avg := sum / float64(len(spans))
		stats.AverageExtractionTime = &avg
	}

	return stats, nil
}

// affected reports whether a conditional status update matched a row
func (s *Storage) affected(result sql.Result, jobID string, status domain.JobStatus) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update skipped - job missing or no longer in a source state",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return false, nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return true, nil
}
