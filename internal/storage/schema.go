package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/contacts-extractor/shared/database"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		job_id        UUID PRIMARY KEY,
		connection_id UUID NOT NULL,
		status        VARCHAR(20) NOT NULL,
		record_count  INTEGER NOT NULL DEFAULT 0,
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ NULL,
		error_message TEXT NULL,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status ON extraction_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_jobs_created_at ON extraction_jobs (created_at DESC, job_id DESC)`,
	`CREATE TABLE IF NOT EXISTS extraction_records (
		id              BIGSERIAL PRIMARY KEY,
		job_id          UUID NOT NULL REFERENCES extraction_jobs (job_id) ON DELETE CASCADE,
		email           VARCHAR(254) NOT NULL,
		first_name      VARCHAR(255) NOT NULL,
		last_name       VARCHAR(255) NOT NULL,
		id_from_service VARCHAR(255) NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_records_job_id ON extraction_records (job_id, id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		job_id        TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		status        TEXT NOT NULL,
		record_count  INTEGER NOT NULL DEFAULT 0,
		start_time    DATETIME NOT NULL,
		end_time      DATETIME NULL,
		error_message TEXT NULL,
		created_at    DATETIME NOT NULL,
		updated_at    DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status ON extraction_jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_jobs_created_at ON extraction_jobs (created_at DESC, job_id DESC)`,
	`CREATE TABLE IF NOT EXISTS extraction_records (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id          TEXT NOT NULL REFERENCES extraction_jobs (job_id) ON DELETE CASCADE,
		email           TEXT NOT NULL,
		first_name      TEXT NOT NULL,
		last_name       TEXT NOT NULL,
		id_from_service TEXT NOT NULL,
		created_at      DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_records_job_id ON extraction_records (job_id, id)`,
}

// Migrate creates the tables and indexes if they do not exist yet
func (s *Storage) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.db.DriverName() == database.DriverSQLite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	return nil
}
