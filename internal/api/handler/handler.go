package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cuongbtq/contacts-extractor/internal/api/dto"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/cuongbtq/contacts-extractor/internal/extraction"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service *extraction.Service
	Health  HealthChecker
}

// JobHandler handles extraction job HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service *extraction.Service
	health  HealthChecker
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
		health:  deps.Health,
	}
}

// HTTPStatusFromError maps domain errors to HTTP status codes
func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrInvalidCredential), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorClass names the error category in response bodies
func errorClass(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotReady):
		return "not_ready"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}

// respondError writes err as a JSON error body with its mapped status
func (h *JobHandler) respondError(c *gin.Context, err error) {
	status := HTTPStatusFromError(err)
	message := err.Error()

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		_ = c.Error(err)
		message = "internal server error"
	}

	c.JSON(status, dto.ErrorResponse{
		Error:   errorClass(err),
		Message: message,
	})
}

// pageRequest reads limit and offset from the query string
func (h *JobHandler) pageRequest(query dto.PageQuery) domain.PageRequest {
	page := domain.PageRequest{Limit: h.service.DefaultLimit()}
	if query.Limit != nil {
		page.Limit = *query.Limit
	}
	if query.Offset != nil {
		page.Offset = *query.Offset
	}
	return page
}

// nextURL returns the absolute URL of the page after page, or nil
func nextURL[T any](c *gin.Context, page *domain.Page[T], extra url.Values) *string {
	if !page.HasNext() {
		return nil
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	query := url.Values{}
	for k, v := range extra {
		query[k] = v
	}
	query.Set("limit", strconv.Itoa(page.Limit))
	query.Set("offset", strconv.Itoa(page.NextOffset()))

	u := url.URL{
		Scheme:   scheme,
		Host:     c.Request.Host,
		Path:     c.Request.URL.Path,
		RawQuery: query.Encode(),
	}
	next := u.String()
	return &next
}
