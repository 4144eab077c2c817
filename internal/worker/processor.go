package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/events"
)

// processJob moves a job through in_progress to completed or failed.
// Every transition is conditional, so a job cancelled meanwhile is left as is.
func (w *Worker) processJob(ctx context.Context, jobID, token string) {
	w.logger.Info("Processing job",
		slog.String("job_id", jobID),
	)

	// Step 1: Claim the job (pending → in_progress)
	started, err := w.withWriteContext(ctx, func(writeCtx context.Context) (bool, error) {
		return w.storage.StartJob(writeCtx, jobID, time.Now())
	})
	if err != nil {
		w.logger.Error("Failed to start job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.fail(ctx, jobID, fmt.Sprintf("failed to start job: %s", err))
		return
	}
	if !started {
		w.logger.Info("Job no longer pending, skipping fetch",
			slog.String("job_id", jobID),
		)
		return
	}
	w.notify(ctx, events.Event{Type: events.TypeStarted, JobID: jobID, Status: string(domain.JobStatusInProgress)})

	// Step 2: Fetch contacts under the job timeout
	fetchCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	begin := time.Now()
	records, err := w.fetcher.Fetch(fetchCtx, token)
	elapsed := time.Since(begin)

	if err != nil {
		w.metrics.ObserveFetch(elapsed, domain.FetchErrorKindOf(err))
		w.logger.Error("Job execution failed",
			slog.String("job_id", jobID),
			slog.String("kind", domain.FetchErrorKindOf(err)),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		w.fail(ctx, jobID, w.fetchFailureMessage(ctx, fetchCtx, err))
		return
	}
	w.metrics.ObserveFetch(elapsed, "")

	// Step 3: Persist records and complete (in_progress → completed)
	completed, err := w.withWriteContext(ctx, func(writeCtx context.Context) (bool, error) {
		return w.storage.CompleteJob(writeCtx, jobID, records, time.Now())
	})
	if err != nil {
		w.logger.Error("Failed to persist job results",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.fail(ctx, jobID, fmt.Sprintf("failed to persist records: %s", err))
		return
	}
	if !completed {
		w.logger.Warn("Job reached a terminal state during extraction, records discarded",
			slog.String("job_id", jobID),
			slog.Int("record_count", len(records)),
		)
		return
	}

	w.metrics.JobsFinished.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	w.metrics.RecordsPersisted.Add(float64(len(records)))
	w.notify(ctx, events.Event{
		Type:        events.TypeCompleted,
		JobID:       jobID,
		Status:      string(domain.JobStatusCompleted),
		RecordCount: len(records),
	})

	w.logger.Info("Job completed successfully",
		slog.String("job_id", jobID),
		slog.Int("record_count", len(records)),
		slog.Duration("elapsed", elapsed),
	)
}

// fail records a failure unless the job is already terminal
func (w *Worker) fail(ctx context.Context, jobID, message string) {
	failed, err := w.withWriteContext(ctx, func(writeCtx context.Context) (bool, error) {
		return w.storage.FailJob(writeCtx, jobID, message, time.Now())
	})
	if err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	if !failed {
		return
	}

	w.metrics.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	w.notify(ctx, events.Event{
		Type:         events.TypeFailed,
		JobID:        jobID,
		Status:       string(domain.JobStatusFailed),
		ErrorMessage: message,
	})
}

// withWriteContext runs fn with a context that survives cancellation of ctx,
// so interrupted or stopping tasks still record their outcome
func (w *Worker) withWriteContext(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()
	return fn(writeCtx)
}

// notify invalidates cached statistics and publishes a lifecycle event
func (w *Worker) notify(ctx context.Context, event events.Event) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	if err := w.cache.Invalidate(notifyCtx); err != nil {
		w.logger.Warn("Failed to invalidate statistics cache",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}

	event.OccurredAt = time.Now().UTC()
	events.Emit(notifyCtx, w.events, w.logger, event)
}

func (w *Worker) fetchFailureMessage(ctx, fetchCtx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return w.interruptMessage()
	case errors.Is(fetchCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("extraction timed out after %s", w.jobTimeout)
	default:
		return err.Error()
	}
}
