package dto

import (
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
)

type StartExtractionRequest struct {
	APIToken string `json:"api_token"`
}

type PageQuery struct {
	Limit  *int `form:"limit"`
	Offset *int `form:"offset"`
}

type ListJobsQuery struct {
	PageQuery
	Status string `form:"status"`
}

type JobDTO struct {
	JobID        string     `json:"job_id"`
	ConnectionID string     `json:"connection_id"`
	Status       string     `json:"status"`
	RecordCount  int        `json:"record_count"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type RecordDTO struct {
	Email         string `json:"email"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	IDFromService string `json:"id_from_service"`
}

// PageResponse is a slice of a result set with a link to the next slice
type PageResponse[T any] struct {
	Data   []T     `json:"data"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:        job.JobID,
		ConnectionID: job.ConnectionID,
		Status:       job.Status.String(),
		RecordCount:  job.RecordCount,
		StartTime:    job.StartTime,
		EndTime:      job.EndTime,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

func NewRecordDTO(record *domain.Record) RecordDTO {
	return RecordDTO{
		Email:         record.Email,
		FirstName:     record.FirstName,
		LastName:      record.LastName,
		IDFromService: record.IDFromService,
	}
}

// NewPageResponse converts a page with fn. next is nil on the last page.
func NewPageResponse[S, T any](page *domain.Page[S], fn func(*S) T, next *string) PageResponse[T] {
	data := make([]T, len(page.Items))
	for i := range page.Items {
		data[i] = fn(&page.Items[i])
	}
	return PageResponse[T]{
		Data:   data,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
		Next:   next,
	}
}
