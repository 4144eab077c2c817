package domain

// PageRequest selects the slice [Offset, Offset+Limit) of an ordered set
type PageRequest struct {
	Limit  int
	Offset int
}

// Page is one slice of an ordered result set
type Page[T any] struct {
	Items  []T
	Total  int
	Limit  int
	Offset int
}

// HasNext reports whether more items remain after this page.
// Written without Offset+Limit so a huge offset cannot overflow.
func (p *Page[T]) HasNext() bool {
	return p.Offset < p.Total-p.Limit
}

// NextOffset returns the offset of the following page. Only meaningful
// when HasNext is true.
func (p *Page[T]) NextOffset() int {
	return p.Offset + p.Limit
}

// JobFilter narrows a job listing
type JobFilter struct {
	Status JobStatus
}

// Statistics aggregates job counts per status
type Statistics struct {
	TotalJobs      int `json:"total_jobs"`
	PendingJobs    int `json:"pending_jobs"`
	InProgressJobs int `json:"in_progress_jobs"`
	CompletedJobs  int `json:"completed_jobs"`
	FailedJobs     int `json:"failed_jobs"`
	CancelledJobs  int `json:"cancelled_jobs"`
	// AverageExtractionTime is in seconds, nil when no job has completed
	AverageExtractionTime *float64 `json:"average_extraction_time"`
}

// Add counts n jobs in status s
func (st *Statistics) Add(s JobStatus, n int) {
	switch s {
	case JobStatusPending:
		st.PendingJobs += n
	case JobStatusInProgress:
		st.InProgressJobs += n
	case JobStatusCompleted:
		st.CompletedJobs += n
	case JobStatusFailed:
		st.FailedJobs += n
	case JobStatusCancelled:
		st.CancelledJobs += n
	default:
		return
	}
	st.TotalJobs += n
}
