// Package store archives finished jobs in Postgres for later reporting.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// HistoryStore is the data access interface for archived jobs.
type HistoryStore interface {
	Ping(ctx context.Context) error
	SaveJob(ctx context.Context, summary models.JobSummary) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.JobSummary, error)
	ListJobs(ctx context.Context, filter HistoryFilter) ([]*models.JobSummary, int, error)
}

// HistoryFilter selects archived jobs. Zero fields do not filter.
type HistoryFilter struct {
	Status   models.JobStatus
	Executor string
	Since    time.Time
	Limit    int
	Offset   int
}
