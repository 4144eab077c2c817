package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

const (
	msgShutdown = "interrupted by service shutdown"
	msgPanic    = "internal error during extraction"
)

// run waits for a pool slot and processes one job under supervision
func (w *Worker) run(ctx context.Context, jobID, token string) {
	defer w.wg.Done()
	defer w.forget(jobID)

	if err := w.sem.Acquire(ctx, 1); err != nil {
		// Interrupted while queued: a cancelled job stays cancelled, any
		// other job is failed so it never lingers as pending.
		w.logger.Info("Job left the queue before starting",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		w.fail(ctx, jobID, w.interruptMessage())
		return
	}
	defer w.sem.Release(1)

	w.metrics.ActiveWorkers.Inc()
	defer w.metrics.ActiveWorkers.Dec()

	w.supervise(ctx, jobID, token)
}

// supervise turns a panic inside processJob into a failed job
func (w *Worker) supervise(ctx context.Context, jobID, token string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic while processing job",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			w.fail(ctx, jobID, fmt.Sprintf("%s: %v", msgPanic, r))
		}
	}()

	w.processJob(ctx, jobID, token)
}

// interruptMessage explains a cancelled task context
func (w *Worker) interruptMessage() string {
	if w.baseCtx.Err() != nil {
		return msgShutdown
	}
	return "job cancelled"
}
