// Package storagetest opens migrated in-memory stores for tests.
package storagetest

import (
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/storage"
	"github.com/cuongbtq/contacts-extractor/shared/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// New returns a Storage backed by a private in-memory SQLite database
func New(t testing.TB) *storage.Storage {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   ":memory:",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := storage.NewStorage(client.GetDB(), logger)
	require.NoError(t, store.Migrate(context.Background()))

	return store
}

// NewJob builds a pending job created at the given time
func NewJob(createdAt time.Time) *domain.Job {
	return &domain.Job{
		JobID:        uuid.NewString(),
		ConnectionID: uuid.NewString(),
		Status:       domain.JobStatusPending,
		StartTime:    createdAt,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// Records builds n distinct records
func Records(n int) []domain.Record {
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{
			Email:         "contact" + strconv.Itoa(i) + "@example.com",
			FirstName:     "First" + strconv.Itoa(i),
			LastName:      "Last" + strconv.Itoa(i),
			IDFromService: "hs-" + strconv.Itoa(i),
		}
	}
	return records
}

// SeedCompleted inserts a completed job holding n records
func SeedCompleted(t testing.TB, store *storage.Storage, n int) *domain.Job {
	t.Helper()
	ctx := context.Background()

	job := NewJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	started, err := store.StartJob(ctx, job.JobID, time.Now())
	require.NoError(t, err)
	require.True(t, started)

	completed, err := store.CompleteJob(ctx, job.JobID, Records(n), time.Now())
	require.NoError(t, err)
	require.True(t, completed)

	seeded, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	return seeded
}

// SeedWithStatus inserts a job and drives it to status
func SeedWithStatus(t testing.TB, store *storage.Storage, status domain.JobStatus) *domain.Job {
	t.Helper()
	ctx := context.Background()

	if status == domain.JobStatusCompleted {
		return SeedCompleted(t, store, 0)
	}

	job := NewJob(time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	switch status {
	case domain.JobStatusInProgress:
		_, err := store.StartJob(ctx, job.JobID, time.Now())
		require.NoError(t, err)
	case domain.JobStatusFailed:
		_, err := store.FailJob(ctx, job.JobID, "seeded failure", time.Now())
		require.NoError(t, err)
	case domain.JobStatusCancelled:
		_, _, err := store.CancelJob(ctx, job.JobID, time.Now())
		require.NoError(t, err)
	}

	seeded, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, status, seeded.Status)
	return seeded
}
