package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/contacts-extractor/internal/api/dto"
	"github.com/cuongbtq/contacts-extractor/internal/domain"
	"github.com/gin-gonic/gin"
)

// StartExtraction handles POST /api/v1/scan/start
// Creates a job and starts fetching contacts in the background
func (h *JobHandler) StartExtraction(c *gin.Context) {
	var req dto.StartExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		h.respondError(c, fmt.Errorf("%w: invalid request body, api_token is required", domain.ErrInvalidCredential))
		return
	}

	job, err := h.service.CreateJob(c.Request.Context(), req.APIToken)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// GetStatus handles GET /api/v1/scan/status/:job_id
func (h *JobHandler) GetStatus(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetResult handles GET /api/v1/scan/result/:job_id
// Returns one page of extracted records of a finished job
func (h *JobHandler) GetResult(c *gin.Context) {
	var query dto.PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.respondError(c, fmt.Errorf("%w: limit and offset must be integers", domain.ErrInvalidArgument))
		return
	}

	page, err := h.service.GetResult(c.Request.Context(), c.Param("job_id"), h.pageRequest(query))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewPageResponse(page, dto.NewRecordDTO, nextURL(c, page, nil)))
}

// CancelJob handles POST /api/v1/scan/cancel/:job_id
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, err := h.service.CancelJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// RemoveJob handles DELETE /api/v1/scan/remove/:job_id
// Deletes a job together with its records
func (h *JobHandler) RemoveJob(c *gin.Context) {
	if err := h.service.RemoveJob(c.Request.Context(), c.Param("job_id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
