package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/api/dto"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/gin-gonic/gin"
)

// ListJobs handles GET /api/v1/jobs/jobs
// Lists jobs newest first with optional status filter and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var query dto.ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.respondError(c, fmt.Errorf("%w: limit and offset must be integers", domain.ErrInvalidArgument))
		return
	}

	filter := domain.JobFilter{Status: domain.JobStatus(query.Status)}
	page, err := h.service.ListJobs(c.Request.Context(), filter, h.pageRequest(query.PageQuery))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var extra url.Values
	if query.Status != "" {
		extra = url.Values{"status": {query.Status}}
	}

	c.JSON(http.StatusOK, dto.NewPageResponse(page, dto.NewJobDTO, nextURL(c, page, extra)))
}

// GetStatistics handles GET /api/v1/jobs/statistics
func (h *JobHandler) GetStatistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /health/ready
func (h *JobHandler) Ready(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.health.HealthCheck(ctx); err != nil {
			h.respondError(c, fmt.Errorf("%w: database is unreachable", domain.ErrUnavailable))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
