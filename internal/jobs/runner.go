package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kiranshivaraju/batchrun/internal/metrics"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

const archiveTimeout = 5 * time.Second

// StatusMirror receives every job status transition. cache.RedisCache satisfies it.
type StatusMirror interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

// HistoryRecorder archives jobs once they reach a terminal state.
type HistoryRecorder interface {
	SaveJob(ctx context.Context, summary models.JobSummary) error
}

// Runner executes one job's items against a WorkExecutor and publishes progress
// into the MemoryStore. It is the only writer of a job while the job is running.
type Runner struct {
	store     *MemoryStore
	mirror    StatusMirror
	history   HistoryRecorder
	mirrorTTL time.Duration
	now       func() time.Time
}

// NewRunner creates a Runner. mirror and history may be nil.
func NewRunner(st *MemoryStore, mirror StatusMirror, history HistoryRecorder, mirrorTTL time.Duration) *Runner {
	return &Runner{
		store:     st,
		mirror:    mirror,
		history:   history,
		mirrorTTL: mirrorTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run drives the job to a terminal state. At most concurrency items are in
// flight at once. Cancellation (RequestCancel or ctx) stops dispatch only:
// items already handed to the executor finish and are recorded.
//
// Run recovers panics and records them as a failed job.
func (r *Runner) Run(ctx context.Context, id uuid.UUID, items []models.Item, exec models.WorkExecutor, concurrency int) {
	execName := exec.Name()

	defer func() {
		if v := recover(); v != nil {
			slog.Error("panic in job runner",
				"job_id", id,
				"error", v,
				"stack", string(debug.Stack()),
			)
			r.fail(id, execName, fmt.Sprintf("panic: %v", v))
		}
	}()

	if concurrency < 1 {
		concurrency = 1
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.store.start(id, cancel); err != nil {
		slog.Error("job could not start", "job_id", id, "error", err)
		return
	}
	metrics.RecordJobStarted()
	r.mirrorStatus(id, models.JobStatusRunning)
	slog.Info("job started",
		"job_id", id,
		"items", len(items),
		"concurrency", concurrency,
		"executor", execName,
	)

	if dispatchCtx.Err() == nil {
		if rc, ok := exec.(models.ReadinessChecker); ok {
			if err := rc.Ready(dispatchCtx); err != nil && dispatchCtx.Err() == nil {
				r.fail(id, execName, fmt.Sprintf("%s: %v", reasonExecutorUnavailable, err))
				return
			}
		}
	}

	// In-flight items keep running after a cancel, so they get a context that
	// carries the job's values but not its cancellation.
	itemCtx := context.WithoutCancel(dispatchCtx)
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for _, item := range items {
		if dispatchCtx.Err() != nil {
			break
		}
		if err := sem.Acquire(dispatchCtx, 1); err != nil {
			break
		}
		// Acquire may succeed on an already cancelled context.
		if dispatchCtx.Err() != nil {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(item models.Item) {
			defer wg.Done()
			defer sem.Release(1)
			r.processItem(itemCtx, id, item, exec)
		}(item)
	}

	wg.Wait()
	r.finish(id, execName)
}

func (r *Runner) processItem(ctx context.Context, id uuid.UUID, item models.Item, exec models.WorkExecutor) {
	started := time.Now()
	output, err := safeProcess(ctx, exec, item)
	elapsed := time.Since(started)
	metrics.RecordItem(err == nil, elapsed)

	uerr := r.store.Update(id, func(job *models.Job) error {
		if err != nil {
			job.Errors = append(job.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
		} else {
			job.Results = append(job.Results, models.Result{
				ItemID:      item.ID,
				Output:      output,
				DurationMs:  elapsed.Milliseconds(),
				CompletedAt: r.now(),
			})
		}
		job.Progress++
		return nil
	})
	if uerr != nil {
		slog.Warn("item outcome not recorded", "job_id", id, "item_id", item.ID, "error", uerr)
	}
}

// safeProcess turns an executor panic into an ordinary item failure.
func safeProcess(ctx context.Context, exec models.WorkExecutor, item models.Item) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("executor panic: %v", v)
		}
	}()
	return exec.Process(ctx, item)
}

func (r *Runner) finish(id uuid.UUID, execName string) {
	var summary models.JobSummary
	err := r.store.Update(id, func(job *models.Job) error {
		now := r.now()
		job.EndedAt = &now
		switch {
		case job.CancelRequested:
			job.Status = models.JobStatusFailed
			job.FailureReason = ReasonCancelled
		case job.Progress < job.Total:
			// Dispatch stopped without a cancel request: the parent context ended.
			job.Status = models.JobStatusFailed
			job.FailureReason = ReasonShutdown
		default:
			job.Status = models.JobStatusCompleted
		}
		summary = summarize(job, execName)
		return nil
	})
	if err != nil {
		slog.Error("job could not finish", "job_id", id, "error", err)
		return
	}
	r.afterTerminal(summary)
}

// fail moves the job straight to failed. Pending jobs are started first so the
// pending -> running -> failed order is kept.
func (r *Runner) fail(id uuid.UUID, execName, reason string) {
	if st, err := r.store.Status(id); err == nil && st.Status == models.JobStatusPending {
		if err := r.store.start(id, nil); err == nil {
			metrics.RecordJobStarted()
		}
	}

	var summary models.JobSummary
	err := r.store.Update(id, func(job *models.Job) error {
		now := r.now()
		job.Status = models.JobStatusFailed
		job.FailureReason = reason
		job.EndedAt = &now
		summary = summarize(job, execName)
		return nil
	})
	if err != nil {
		slog.Error("job could not be failed", "job_id", id, "reason", reason, "error", err)
		return
	}
	r.afterTerminal(summary)
}

func (r *Runner) afterTerminal(summary models.JobSummary) {
	metrics.RecordJobFinished(string(summary.Status))
	r.mirrorStatus(summary.ID, summary.Status)

	attrs := []any{
		"job_id", summary.ID,
		"status", summary.Status,
		"progress", summary.Progress,
		"total", summary.Total,
		"errors", summary.ErrorCount,
	}
	if summary.FailureReason != nil {
		attrs = append(attrs, "reason", *summary.FailureReason)
	}
	slog.Info("job finished", attrs...)

	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.history.SaveJob(ctx, summary); err != nil {
		slog.Warn("archiving job failed", "job_id", summary.ID, "error", err)
	}
}

func (r *Runner) mirrorStatus(id uuid.UUID, status models.JobStatus) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := r.mirror.SetJobStatus(ctx, id, string(status), r.mirrorTTL); err != nil {
		slog.Debug("mirroring job status failed", "job_id", id, "error", err)
	}
}

func summarize(job *models.Job, execName string) models.JobSummary {
	s := models.JobSummary{
		ID:          job.ID,
		Status:      job.Status,
		Total:       job.Total,
		Progress:    job.Progress,
		ResultCount: len(job.Results),
		ErrorCount:  len(job.Errors),
		Executor:    execName,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		EndedAt:     job.EndedAt,
	}
	if job.FailureReason != "" {
		reason := job.FailureReason
		s.FailureReason = &reason
	}
	return s
}
