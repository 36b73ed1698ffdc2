package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

const historyColumns = `id, status, total, progress, result_count, error_count, executor,
	failure_reason, created_at, started_at, ended_at`

// PostgresStore implements HistoryStore using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveJob archives a finished job. Saving the same job again overwrites it.
func (s *PostgresStore) SaveJob(ctx context.Context, j models.JobSummary) error {
	if !j.Status.IsTerminal() {
		return fmt.Errorf("save job %s: status %q is not terminal", j.ID, j.Status)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_history (`+historyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   total = EXCLUDED.total,
		   progress = EXCLUDED.progress,
		   result_count = EXCLUDED.result_count,
		   error_count = EXCLUDED.error_count,
		   executor = EXCLUDED.executor,
		   failure_reason = EXCLUDED.failure_reason,
		   started_at = EXCLUDED.started_at,
		   ended_at = EXCLUDED.ended_at,
		   archived_at = NOW()`,
		j.ID, j.Status, j.Total, j.Progress, j.ResultCount, j.ErrorCount, j.Executor,
		j.FailureReason, j.CreatedAt, j.StartedAt, j.EndedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob returns one archived job.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.JobSummary, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+historyColumns+` FROM job_history WHERE id = $1`, id)
	j, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns archived jobs, most recently ended first, and the number
// matching the filter before pagination.
func (s *PostgresStore) ListJobs(ctx context.Context, filter HistoryFilter) ([]*models.JobSummary, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Executor != "" {
		conditions = append(conditions, fmt.Sprintf("executor = $%d", argIdx))
		args = append(args, filter.Executor)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("ended_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_history WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM job_history WHERE %s
		 ORDER BY ended_at DESC NULLS LAST, id DESC LIMIT $%d OFFSET $%d`,
		historyColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.JobSummary{}
	for rows.Next() {
		j, err := scanSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func scanSummary(row pgx.Row) (*models.JobSummary, error) {
	var j models.JobSummary
	if err := row.Scan(&j.ID, &j.Status, &j.Total, &j.Progress, &j.ResultCount, &j.ErrorCount,
		&j.Executor, &j.FailureReason, &j.CreatedAt, &j.StartedAt, &j.EndedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// Compile-time check that PostgresStore implements HistoryStore.
var _ HistoryStore = (*PostgresStore)(nil)
