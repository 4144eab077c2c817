package domain

import "time"

// JobStatus is the lifecycle state of an extraction job
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// AllStatuses lists every job status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// IsTerminal reports whether no further transition is allowed out of s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ActiveStatuses returns the statuses a job can still leave. They are the
// source states of every transition into a terminal status.
func ActiveStatuses() []JobStatus {
	var active []JobStatus
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}

// IsValid reports whether s is a known status
func (s JobStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// HasResults reports whether results may be read for a job in status s
func (s JobStatus) HasResults() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// Job is a tracked unit of asynchronous extraction work
type Job struct {
	JobID        string     `db:"job_id"`
	ConnectionID string     `db:"connection_id"`
	Status       JobStatus  `db:"status"`
	RecordCount  int        `db:"record_count"`
	StartTime    time.Time  `db:"start_time"`
	EndTime      *time.Time `db:"end_time"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// Record is one extracted contact belonging to a job
type Record struct {
	ID            int64     `db:"id"`
	JobID         string    `db:"job_id"`
	Email         string    `db:"email"`
	FirstName     string    `db:"first_name"`
	LastName      string    `db:"last_name"`
	IDFromService string    `db:"id_from_service"`
	CreatedAt     time.Time `db:"created_at"`
}
