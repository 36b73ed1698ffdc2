package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is one of the known job states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job tracks one submitted batch. The API returns its id on POST /api/v1/jobs;
// the client polls GET /api/v1/jobs/{job_id} until status is completed or failed.
//
// Results and Errors only grow while the job is running, and together they always
// account for exactly Progress items. FailureReason explains a failed job and is
// never counted as an item error.
type Job struct {
	ID              uuid.UUID  `json:"id"`
	Status          JobStatus  `json:"status"`
	Total           int        `json:"total"`
	Progress        int        `json:"progress"`
	Concurrency     int        `json:"concurrency"`
	Results         []Result   `json:"results"`
	Errors          []string   `json:"errors"`
	CancelRequested bool       `json:"cancel_requested"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// StatusView summarizes the job without copying its results.
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:            j.ID,
		Status:        j.Status,
		Progress:      j.Progress,
		Total:         j.Total,
		ErrorCount:    len(j.Errors),
		ResultCount:   len(j.Results),
		Concurrency:   j.Concurrency,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		StartedAt:     copyTime(j.StartedAt),
		EndedAt:       copyTime(j.EndedAt),
	}
}

// Clone returns a deep copy that shares no mutable state with j.
func (j *Job) Clone() Job {
	c := *j
	c.Results = append([]Result(nil), j.Results...)
	c.Errors = append([]string(nil), j.Errors...)
	c.StartedAt = copyTime(j.StartedAt)
	c.EndedAt = copyTime(j.EndedAt)
	return c
}

// JobStatusView is the answer to a status poll.
type JobStatusView struct {
	ID            uuid.UUID  `json:"id"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Total         int        `json:"total"`
	ErrorCount    int        `json:"error_count"`
	ResultCount   int        `json:"result_count"`
	Concurrency   int        `json:"concurrency"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// JobSummary is the archived form of a finished job kept in job history.
type JobSummary struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	Status        JobStatus  `db:"status"         json:"status"`
	Total         int        `db:"total"          json:"total"`
	Progress      int        `db:"progress"       json:"progress"`
	ResultCount   int        `db:"result_count"   json:"result_count"`
	ErrorCount    int        `db:"error_count"    json:"error_count"`
	Executor      string     `db:"executor"       json:"executor"`
	FailureReason *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	StartedAt     *time.Time `db:"started_at"     json:"started_at,omitempty"`
	EndedAt       *time.Time `db:"ended_at"       json:"ended_at,omitempty"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
