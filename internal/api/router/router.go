package router

import (
	"github.com/cuongbtq/contacts-extractor/internal/api/handler"
	"github.com/cuongbtq/contacts-extractor/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, m *metrics.Metrics) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	if m != nil {
		r.Use(MetricsMiddleware(m))
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	jobHandler := handler.NewJobHandler(deps)

	// Health check endpoints
	r.GET("/health", jobHandler.Health)
	r.GET("/health/ready", jobHandler.Ready)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", jobHandler.Health)

		scan := v1.Group("/scan")
		{
			// POST /api/v1/scan/start - Start an extraction job
			scan.POST("/start", jobHandler.StartExtraction)

			// GET /api/v1/scan/status/:job_id - Get job status
			scan.GET("/status/:job_id", jobHandler.GetStatus)

			// GET /api/v1/scan/result/:job_id - Get extracted records
			scan.GET("/result/:job_id", jobHandler.GetResult)

			// POST /api/v1/scan/cancel/:job_id - Cancel a job
			scan.POST("/cancel/:job_id", jobHandler.CancelJob)

			// DELETE /api/v1/scan/remove/:job_id - Remove a job and its records
			scan.DELETE("/remove/:job_id", jobHandler.RemoveJob)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs/jobs - List jobs with filtering and pagination
			jobs.GET("/jobs", jobHandler.ListJobs)

			// GET /api/v1/jobs/statistics - Job statistics
			jobs.GET("/statistics", jobHandler.GetStatistics)
		}
	}

	return r
}
