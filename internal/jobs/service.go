// Package jobs runs submitted batches of items asynchronously and exposes
// their status, results and errors.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/batchrun/internal/analysis"
	"github.com/kiranshivaraju/batchrun/internal/metrics"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// Config tunes admission, concurrency and retention.
type Config struct {
	MaxConcurrentJobs  int
	DefaultConcurrency int
	MaxConcurrency     int
	MaxItems           int
	ItemEstimate       time.Duration
	Retention          time.Duration
	RetentionInterval  time.Duration
	CacheTTL           time.Duration
}

// DefaultConfig returns the values used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  4,
		DefaultConcurrency: 5,
		MaxConcurrency:     50,
		MaxItems:           1000,
		ItemEstimate:       100 * time.Millisecond,
		Retention:          time.Hour,
		RetentionInterval:  5 * time.Minute,
		CacheTTL:           10 * time.Minute,
	}
}

// ResultCache mirrors job status and caches result pages of finished jobs.
// cache.RedisCache satisfies it.
type ResultCache interface {
	StatusMirror
	GetResultsPage(ctx context.Context, jobID uuid.UUID, pageHash string) ([]byte, bool, error)
	SetResultsPage(ctx context.Context, jobID uuid.UUID, pageHash string, page []byte, ttl time.Duration) error
	ForgetJob(ctx context.Context, jobID uuid.UUID) error
}

// SubmitOptions are the per-job knobs a caller may set.
type SubmitOptions struct {
	// Concurrency is the number of items in flight at once. Zero selects the
	// configured default; values above the maximum are clamped.
	Concurrency int
}

// SubmitReceipt is returned by Submit.
type SubmitReceipt struct {
	JobID             uuid.UUID
	Concurrency       int
	EstimatedDuration time.Duration
}

// Service is the entry point for submitting and inspecting jobs.
type Service struct {
	cfg    Config
	store  *MemoryStore
	runner *Runner
	exec   models.WorkExecutor
	cache  ResultCache

	// slots admits at most MaxConcurrentJobs running jobs. Jobs waiting for a
	// slot stay pending.
	slots chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a Service. ca and history may be nil.
func NewService(cfg Config, exec models.WorkExecutor, st *MemoryStore, ca ResultCache, history HistoryRecorder) *Service {
	def := DefaultConfig()
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.DefaultConcurrency < 1 {
		cfg.DefaultConcurrency = def.DefaultConcurrency
	}
	if cfg.DefaultConcurrency > cfg.MaxConcurrency {
		cfg.DefaultConcurrency = cfg.MaxConcurrency
	}
	if cfg.MaxItems < 1 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	var mirror StatusMirror
	if ca != nil {
		mirror = ca
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		store:   st,
		runner:  NewRunner(st, mirror, history, cfg.CacheTTL),
		exec:    exec,
		cache:   ca,
		slots:   make(chan struct{}, cfg.MaxConcurrentJobs),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Submit validates items, registers a pending job and starts it in the
// background. It never waits for the job to run.
func (s *Service) Submit(ctx context.Context, items []models.Item, opts SubmitOptions) (SubmitReceipt, error) {
	if len(items) == 0 {
		return SubmitReceipt{}, fmt.Errorf("%w: items must not be empty", ErrInvalidInput)
	}
	if len(items) > s.cfg.MaxItems {
		return SubmitReceipt{}, fmt.Errorf("%w: %d items exceeds the limit of %d", ErrInvalidInput, len(items), s.cfg.MaxItems)
	}
	if opts.Concurrency < 0 {
		return SubmitReceipt{}, fmt.Errorf("%w: concurrency must be non-negative", ErrInvalidInput)
	}

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = s.cfg.DefaultConcurrency
	}
	if concurrency > s.cfg.MaxConcurrency {
		concurrency = s.cfg.MaxConcurrency
	}

	batch := make([]models.Item, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = strconv.Itoa(i)
		}
		batch[i] = item
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SubmitReceipt{}, ErrShuttingDown
	}
	id := s.store.Create(len(batch), concurrency)
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.RecordJobSubmitted()
	s.runner.mirrorStatus(id, models.JobStatusPending)
	slog.InfoContext(ctx, "job submitted", "job_id", id, "items", len(batch), "concurrency", concurrency)

	go s.execute(id, batch, concurrency)

	return SubmitReceipt{
		JobID:             id,
		Concurrency:       concurrency,
		EstimatedDuration: estimateDuration(len(batch), concurrency, s.cfg.ItemEstimate),
	}, nil
}

// execute waits for an admission slot and then runs the job.
func (s *Service) execute(id uuid.UUID, items []models.Item, concurrency int) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	case <-s.baseCtx.Done():
		s.runner.fail(id, s.exec.Name(), ReasonShutdown)
		return
	}
	defer func() { <-s.slots }()

	s.runner.Run(s.baseCtx, id, items, s.exec, concurrency)
}

func estimateDuration(total, concurrency int, perItem time.Duration) time.Duration {
	waves := (total + concurrency - 1) / concurrency
	return time.Duration(waves) * perItem
}

// Status returns the job's state and counters.
func (s *Service) Status(_ context.Context, id uuid.UUID) (models.JobStatusView, error) {
	return s.store.Status(id)
}

// Results returns one page of the job's results as they stand right now.
// Pages of finished jobs are served from the cache when one is configured.
func (s *Service) Results(ctx context.Context, id uuid.UUID, req PageRequest) (Page, error) {
	req, err := req.normalize()
	if err != nil {
		return Page{}, err
	}

	st, err := s.store.Status(id)
	if err != nil {
		return Page{}, err
	}

	var hash string
	if s.cache != nil && st.Status.IsTerminal() {
		hash = pageHash(req)
		if page, ok := s.cachedPage(ctx, id, hash); ok {
			page.Format = req.Format
			return withCSV(page), nil
		}
	}

	var (
		page     Page
		terminal bool
	)
	if err := s.store.View(id, func(job *models.Job) {
		page = resultsPage(job, req)
		terminal = job.Status.IsTerminal()
	}); err != nil {
		return Page{}, err
	}

	if hash != "" && terminal {
		s.storePage(ctx, id, hash, page)
	}
	return withCSV(page), nil
}

func withCSV(p Page) Page {
	if p.Format == FormatCSV {
		p.CSV = EncodeCSV(p.Items)
	}
	return p
}

func (s *Service) cachedPage(ctx context.Context, id uuid.UUID, hash string) (Page, bool) {
	data, found, err := s.cache.GetResultsPage(ctx, id, hash)
	if err != nil {
		slog.WarnContext(ctx, "results cache read failed", "job_id", id, "error", err)
		return Page{}, false
	}
	if !found {
		return Page{}, false
	}
	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		slog.WarnContext(ctx, "results cache entry unreadable", "job_id", id, "error", err)
		return Page{}, false
	}
	return page, true
}

func (s *Service) storePage(ctx context.Context, id uuid.UUID, hash string, page Page) {
	data, err := json.Marshal(page)
	if err != nil {
		return
	}
	if err := s.cache.SetResultsPage(ctx, id, hash, data, s.cfg.CacheTTL); err != nil {
		slog.WarnContext(ctx, "results cache write failed", "job_id", id, "error", err)
	}
}

// forget drops a removed job's status mirror and cached pages.
func (s *Service) forget(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.ForgetJob(ctx, id); err != nil {
		slog.WarnContext(ctx, "clearing cached job failed", "job_id", id, "error", err)
	}
}

// pageHash identifies a page window and filter. Format is left out because
// both formats are rendered from the same items.
func pageHash(req PageRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%d\x00%s\x00%s",
		req.Limit, req.Offset, req.Filter.ItemIDPrefix, req.Filter.Contains)))
	return hex.EncodeToString(sum[:8])
}

// Cancel asks a running job to stop dispatching items and returns without
// waiting. Pending and finished jobs cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.store.RequestCancel(id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "job cancel requested", "job_id", id)
	return nil
}

// Errors returns one page of the job's item errors.
func (s *Service) Errors(_ context.Context, id uuid.UUID, req PageRequest) (ErrorPage, error) {
	req.Format = ""
	req, err := req.normalize()
	if err != nil {
		return ErrorPage{}, err
	}

	var page ErrorPage
	if err := s.store.View(id, func(job *models.Job) {
		page = errorsPage(job, req)
	}); err != nil {
		return ErrorPage{}, err
	}
	return page, nil
}

// ErrorSummary groups the job's item errors by normalized message.
func (s *Service) ErrorSummary(_ context.Context, id uuid.UUID) ([]analysis.ErrorGroup, error) {
	var msgs []string
	if err := s.store.View(id, func(job *models.Job) {
		msgs = append([]string(nil), job.Errors...)
	}); err != nil {
		return nil, err
	}
	return analysis.GroupErrors(msgs), nil
}

// List returns jobs newest first plus the number matching the filter.
func (s *Service) List(_ context.Context, filter ListFilter) ([]models.JobStatusView, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	req, err := PageRequest{Limit: filter.Limit, Offset: filter.Offset}.normalize()
	if err != nil {
		return nil, 0, err
	}
	filter.Limit, filter.Offset = req.Limit, req.Offset

	views, total := s.store.List(filter)
	return views, total, nil
}

// Purge removes a finished job from memory.
func (s *Service) Purge(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.forget(ctx, id)
	slog.InfoContext(ctx, "job purged", "job_id", id)
	return nil
}

// Wait blocks until the job is finished or ctx is done.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (models.JobStatusView, error) {
	done, err := s.store.Done(id)
	if err != nil {
		return models.JobStatusView{}, err
	}
	select {
	case <-done:
		return s.store.Status(id)
	case <-ctx.Done():
		return models.JobStatusView{}, ctx.Err()
	}
}

// Shutdown stops accepting jobs and interrupts the ones in progress. In-flight
// items are allowed to finish. It returns when every job goroutine has
// exited or ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}

// RunRetention purges finished jobs older than the retention window every
// RetentionInterval until ctx is done. A zero retention disables it.
func (s *Service) RunRetention(ctx context.Context) error {
	if s.cfg.Retention <= 0 {
		return nil
	}
	interval := s.cfg.RetentionInterval
	if interval <= 0 {
		interval = DefaultConfig().RetentionInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := s.store.now().Add(-s.cfg.Retention)
	removed := s.store.DeleteExpired(cutoff)
	if len(removed) == 0 {
		return
	}
	for _, id := range removed {
		s.forget(ctx, id)
	}
	slog.InfoContext(ctx, "expired jobs purged", "count", len(removed), "cutoff", cutoff)
}
