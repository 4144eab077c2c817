// Package extraction implements the job lifecycle: creating jobs, dispatching
// them to the worker and answering status, result, cancel and remove requests.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/cache"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/events"
	"github.com/cuongbtq/contacts-extractor/internal/metrics"
	"github.com/google/uuid"
)

// OrphanedJobMessage is recorded on jobs left unfinished by a previous process
const OrphanedJobMessage = "interrupted by service restart"

// Storage is the job store used by the service
type Storage interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	FailJob(ctx context.Context, jobID, errorMessage string, now time.Time) (bool, error)
	CancelJob(ctx context.Context, jobID string, now time.Time) (*domain.Job, bool, error)
	RemoveJob(ctx context.Context, jobID string) error
	FailOrphanedJobs(ctx context.Context, errorMessage string, now time.Time) (int64, error)
	ListRecords(ctx context.Context, jobID string, page domain.PageRequest) (*domain.Page[domain.Record], error)
	ListJobs(ctx context.Context, filter domain.JobFilter, page domain.PageRequest) (*domain.Page[domain.Job], error)
	Statistics(ctx context.Context) (*domain.Statistics, error)
}

// Dispatcher runs jobs in the background
type Dispatcher interface {
	Dispatch(jobID, token string) error
	Interrupt(jobID string) bool
}

// Config holds the service policy
type Config struct {
	TokenPrefix    string
	MinTokenLength int
	DefaultLimit   int
	MaxLimit       int
	// NotifyTimeout bounds cache invalidation and event publishing after a
	// transition
	NotifyTimeout time.Duration
}

// DefaultConfig returns the policy used when none is configured
func DefaultConfig() Config {
	return Config{
		TokenPrefix:    "pat-",
		MinTokenLength: 10,
		DefaultLimit:   10,
		MaxLimit:       100,
		NotifyTimeout:  10 * time.Second,
	}
}

// Dependencies groups the collaborators of the service
type Dependencies struct {
	Logger     *slog.Logger
	Storage    Storage
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Events     events.Publisher
	Cache      cache.StatisticsCache
}

// Service is the job lifecycle controller
type Service struct {
	config     Config
	logger     *slog.Logger
	storage    Storage
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	events     events.Publisher
	cache      cache.StatisticsCache
}

// NewService creates a new Service
func NewService(config Config, deps Dependencies) *Service {
	defaults := DefaultConfig()
	if config.MinTokenLength <= 0 {
		config.MinTokenLength = defaults.MinTokenLength
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}

	s := &Service{
		config:     config,
		logger:     deps.Logger,
		storage:    deps.Storage,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		events:     deps.Events,
		cache:      deps.Cache,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	return s
}

// DefaultLimit is the page size used when a request does not name one
func (s *Service) DefaultLimit() int {
	return s.config.DefaultLimit
}

// CreateJob validates token, stores a pending job and hands it to the worker.
// The returned job may already be in progress.
func (s *Service) CreateJob(ctx context.Context, token string) (*domain.Job, error) {
	if err := s.validateToken(token); err != nil {
		return nil, err
	}

	now := time.Now()
	job := &domain.Job{
		JobID:        uuid.NewString(),
		ConnectionID: uuid.NewString(),
		Status:       domain.JobStatusPending,
		StartTime:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.CreateJob(ctx, job); err != nil {
		s.logger.Error("Failed to create job",
			slog.Any("error", err),
		)
		return nil, err
	}

	s.metrics.JobsCreated.Inc()
	s.notify(ctx, events.FromJob(events.TypeCreated, job))

	if err := s.dispatcher.Dispatch(job.JobID, token); err != nil {
		s.logger.Error("Failed to dispatch job",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)

		msg := fmt.Sprintf("job could not be scheduled: %s", err)
		if failed, failErr := s.storage.FailJob(context.WithoutCancel(ctx), job.JobID, msg, time.Now()); failErr != nil {
			s.logger.Error("Failed to update job status to FAILED",
				slog.String("job_id", job.JobID),
				slog.Any("error", failErr),
			)
		} else if failed {
			s.metrics.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Inc()
			job.Status = domain.JobStatusFailed
			job.ErrorMessage = &msg
			s.notify(ctx, events.FromJob(events.TypeFailed, job))
		}
		return nil, fmt.Errorf("%w: extraction workers are unavailable", domain.ErrUnavailable)
	}

	s.logger.Info("Job created successfully",
		slog.String("job_id", job.JobID),
		slog.String("connection_id", job.ConnectionID),
	)

	return job, nil
}

func (s *Service) validateToken(token string) error {
	token = strings.TrimSpace(token)

	if token == "" {
		return fmt.Errorf("%w: api_token is required", domain.ErrInvalidCredential)
	}
	if s.config.TokenPrefix != "" && !strings.HasPrefix(token, s.config.TokenPrefix) {
		return fmt.Errorf("%w: token should start with %q", domain.ErrInvalidCredential, s.config.TokenPrefix)
	}
	if len(token) < s.config.MinTokenLength {
		return fmt.Errorf("%w: token must be at least %d characters", domain.ErrInvalidCredential, s.config.MinTokenLength)
	}
	return nil
}

// GetJob returns the current snapshot of a job
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	id, ok := canonicalJobID(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.storage.GetJob(ctx, id)
}

// GetResult returns one page of a finished job's records
func (s *Service) GetResult(ctx context.Context, jobID string, page domain.PageRequest) (*domain.Page[domain.Record], error) {
	page, err := s.normalizePage(page)
	if err != nil {
		return nil, err
	}

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.Status.HasResults() {
		switch job.Status {
		case domain.JobStatusPending:
			return nil, fmt.Errorf("%w: job is still pending, try again later", domain.ErrNotReady)
		case domain.JobStatusInProgress:
			return nil, fmt.Errorf("%w: job is still in progress, try again later", domain.ErrNotReady)
		case domain.JobStatusCancelled:
			return nil, fmt.Errorf("%w: job was cancelled and has no results", domain.ErrNotReady)
		default:
			return nil, fmt.Errorf("%w: job has status %s", domain.ErrNotReady, job.Status)
		}
	}

	return s.storage.ListRecords(ctx, job.JobID, page)
}

// CancelJob cancels a pending or in-progress job and interrupts its fetch
func (s *Service) CancelJob(ctx context.Context, jobID string) (*domain.Job, error) {
	jobID, ok := canonicalJobID(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}

	job, cancelled, err := s.storage.CancelJob(ctx, jobID, time.Now())
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, fmt.Errorf("%w: cannot cancel job with status %s", domain.ErrInvalidState, job.Status)
	}

	s.dispatcher.Interrupt(jobID)
	s.metrics.JobsFinished.WithLabelValues(string(domain.JobStatusCancelled)).Inc()
	s.notify(ctx, events.FromJob(events.TypeCancelled, job))

	return job, nil
}

// RemoveJob deletes a job and all of its records
func (s *Service) RemoveJob(ctx context.Context, jobID string) error {
	jobID, ok := canonicalJobID(jobID)
	if !ok {
		return domain.ErrNotFound
	}

	if err := s.storage.RemoveJob(ctx, jobID); err != nil {
		return err
	}

	// A running task has nothing left to write to
	s.dispatcher.Interrupt(jobID)
	s.notify(ctx, events.Event{Type: events.TypeRemoved, JobID: jobID, OccurredAt: time.Now().UTC()})

	return nil
}

// ListJobs returns one page of jobs, newest first
func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter, page domain.PageRequest) (*domain.Page[domain.Job], error) {
	page, err := s.normalizePage(page)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, filter.Status)
	}

	return s.storage.ListJobs(ctx, filter, page)
}

// Statistics returns job counts per status, served from cache when possible
func (s *Service) Statistics(ctx context.Context) (*domain.Statistics, error) {
	cached, err := s.cache.Get(ctx)
	if err != nil {
		s.logger.Warn("Failed to read statistics cache",
			slog.Any("error", err),
		)
	}
	if cached != nil {
		return cached, nil
	}

	// Read before the store so a transition committed meanwhile makes the
	// snapshot stale instead of cached
	gen, genErr := s.cache.Generation(ctx)
	if genErr != nil {
		s.logger.Warn("Failed to read statistics cache generation",
			slog.Any("error", genErr),
		)
	}

	stats, err := s.storage.Statistics(ctx)
	if err != nil {
		return nil, err
	}

	if genErr == nil {
		err := s.cache.Set(ctx, stats, gen)
		switch {
		case errors.Is(err, cache.ErrStale):
			s.logger.Debug("Statistics changed while computing, not cached")
		case err != nil:
			s.logger.Warn("Failed to cache statistics",
				slog.Any("error", err),
			)
		}
	}
	return stats, nil
}

// RecoverOrphans fails jobs a previous process left pending or in progress.
// Their tokens were never stored, so they cannot be resumed.
func (s *Service) RecoverOrphans(ctx context.Context) (int64, error) {
	n, err := s.storage.FailOrphanedJobs(ctx, OrphanedJobMessage, time.Now())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		s.logger.Warn("Failed orphaned jobs",
			slog.Int64("count", n),
		)
		s.metrics.JobsFinished.WithLabelValues(string(domain.JobStatusFailed)).Add(float64(n))
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate statistics cache",
				slog.Any("error", err),
			)
		}
	}
	return n, nil
}

// normalizePage rejects invalid pagination and clamps the limit
func (s *Service) normalizePage(page domain.PageRequest) (domain.PageRequest, error) {
	if page.Limit <= 0 {
		return page, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidArgument)
	}
	if page.Offset < 0 {
		return page, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidArgument)
	}
	if page.Limit > s.config.MaxLimit {
		page.Limit = s.config.MaxLimit
	}
	return page, nil
}

// notify invalidates cached statistics and publishes a lifecycle event
func (s *Service) notify(ctx context.Context, event events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("Failed to invalidate statistics cache",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}
	events.Emit(ctx, s.events, s.logger, event)
}

// canonicalJobID returns the lowercase hyphenated form job ids are stored in.
// Any other spelling uuid.Parse accepts (urn, braces, upper case) maps to it.
func canonicalJobID(jobID string) (string, bool) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
