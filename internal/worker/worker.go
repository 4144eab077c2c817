// Package worker runs extraction jobs in the background.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/cache"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/events"
	"github.com/cuongbtq/contacts-extractor/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Dispatch once Stop has been called
var ErrStopped = errors.New("worker pool is stopped")

// Storage is the subset of the job store the worker drives
type Storage interface {
	StartJob(ctx context.Context, jobID string, now time.Time) (bool, error)
	CompleteJob(ctx context.Context, jobID string, records []domain.Record, now time.Time) (bool, error)
	FailJob(ctx context.Context, jobID, errorMessage string, now time.Time) (bool, error)
}

// Fetcher retrieves every contact visible to a token
type Fetcher interface {
	Fetch(ctx context.Context, token string) ([]domain.Record, error)
}

// Config holds worker configuration
type Config struct {
	Logger  *slog.Logger
	Storage Storage
	Fetcher Fetcher
	Metrics *metrics.Metrics
	Events  events.Publisher
	Cache   cache.StatisticsCache
	// Concurrency bounds the number of jobs fetching at once
	Concurrency int
	JobTimeout  time.Duration
	// WriteTimeout bounds each terminal status write
	WriteTimeout time.Duration
}

// Worker executes extraction jobs, one goroutine per job
type Worker struct {
	logger       *slog.Logger
	storage      Storage
	fetcher      Fetcher
	metrics      *metrics.Metrics
	events       events.Publisher
	cache        cache.StatisticsCache
	concurrency  int
	jobTimeout   time.Duration
	writeTimeout time.Duration

	sem       *semaphore.Weighted
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	running map[string]context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	publisher := cfg.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	statsCache := cfg.Cache
	if statsCache == nil {
		statsCache = cache.Nop{}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	baseCtx, cancelAll := context.WithCancel(context.Background())

	return &Worker{
		logger:       cfg.Logger,
		storage:      cfg.Storage,
		fetcher:      cfg.Fetcher,
		metrics:      m,
		events:       publisher,
		cache:        statsCache,
		concurrency:  concurrency,
		jobTimeout:   jobTimeout,
		writeTimeout: writeTimeout,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		baseCtx:      baseCtx,
		cancelAll:    cancelAll,
		running:      make(map[string]context.CancelFunc),
	}
}

// Dispatch schedules jobID for extraction with token and returns immediately
func (w *Worker) Dispatch(jobID, token string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(w.baseCtx)
	w.running[jobID] = cancel
	w.wg.Add(1)

	go w.run(ctx, jobID, token)

	w.logger.Debug("Job dispatched",
		slog.String("job_id", jobID),
	)
	return nil
}

// Interrupt cancels the in-flight fetch of jobID. It reports whether a task
// for the job was running or waiting.
func (w *Worker) Interrupt(jobID string) bool {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()

	if ok {
		cancel()
		w.logger.Info("Job interrupted",
			slog.String("job_id", jobID),
		)
	}
	return ok
}

// Running returns the number of dispatched tasks that have not finished
func (w *Worker) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// Stop refuses new jobs and waits for in-flight ones. When ctx expires first
// the remaining tasks are interrupted, their outcome recorded, and ctx's
// error returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancelAll()
		w.logger.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Shutdown timeout reached, interrupting running jobs",
			slog.Int("running", w.Running()),
		)
		w.cancelAll()
		<-done
		w.logger.Info("Worker stopped")
		return ctx.Err()
	}
}

func (w *Worker) forget(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cancel, ok := w.running[jobID]; ok {
		cancel()
		delete(w.running, jobID)
	}
}
