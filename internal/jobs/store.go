package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

func transitionAllowed(from, to models.JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ListFilter selects jobs for MemoryStore.List.
type ListFilter struct {
	Status models.JobStatus
	Limit  int
	Offset int
}

type entry struct {
	mu     sync.RWMutex
	job    models.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// MemoryStore is the in-memory registry of jobs. It is safe for concurrent use.
// The map lock only guards membership; each job has its own lock so that work on
// one job never waits for another.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*entry
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create allocates a pending job for total items and returns its id.
func (s *MemoryStore) Create(total, concurrency int) uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	e := &entry{
		job: models.Job{
			ID:          id,
			Status:      models.JobStatusPending,
			Total:       total,
			Concurrency: concurrency,
			Results:     []models.Result{},
			Errors:      []string{},
			CreatedAt:   s.now(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[id] = e
	s.mu.Unlock()
	return id
}

func (s *MemoryStore) lookup(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Get returns a deep copy of the job.
func (s *MemoryStore) Get(id uuid.UUID) (models.Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// Status returns the job summary without copying results or errors.
func (s *MemoryStore) Status(id uuid.UUID) (models.JobStatusView, error) {
	e, err := s.lookup(id)
	if err != nil {
		return models.JobStatusView{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.StatusView(), nil
}

// View runs fn under the job's read lock. fn must not retain the pointer or
// any slice of it after returning.
func (s *MemoryStore) View(id uuid.UUID, fn func(*models.Job)) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(&e.job)
	return nil
}

// Update gives fn exclusive access to the job. Terminal jobs cannot be updated
// and status changes must follow pending -> running -> completed|failed.
func (s *MemoryStore) Update(id uuid.UUID, fn func(*models.Job) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.IsTerminal() {
		return errJobTerminal
	}

	prev := e.job.Status
	if err := fn(&e.job); err != nil {
		return err
	}

	if e.job.Status != prev {
		if !transitionAllowed(prev, e.job.Status) {
			next := e.job.Status
			e.job.Status = prev
			return fmt.Errorf("%w: %s -> %s", ErrInvalidState, prev, next)
		}
		if e.job.Status.IsTerminal() {
			e.cancel = nil
			close(e.done)
		}
	}
	return nil
}

// start moves a pending job to running and attaches the function that
// RequestCancel uses to stop dispatch.
func (s *MemoryStore) start(id uuid.UUID, cancel context.CancelFunc) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: cannot start %s job", ErrInvalidState, e.job.Status)
	}
	now := s.now()
	e.job.Status = models.JobStatusRunning
	e.job.StartedAt = &now
	e.cancel = cancel
	return nil
}

// RequestCancel asks a running job to stop dispatching items. It returns
// immediately; the runner finishes in-flight items and then fails the job.
func (s *MemoryStore) RequestCancel(id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: cannot cancel %s job", ErrInvalidState, e.job.Status)
	}
	e.job.CancelRequested = true
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// Done returns a channel closed once the job reaches a terminal state.
func (s *MemoryStore) Done(id uuid.UUID) (<-chan struct{}, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// List returns job summaries newest first, filtered by status, plus the
// number of jobs matching the filter before pagination.
func (s *MemoryStore) List(filter ListFilter) ([]models.JobStatusView, int) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	views := make([]models.JobStatusView, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		v := e.job.StatusView()
		e.mu.RUnlock()
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		views = append(views, v)
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].CreatedAt.After(views[j].CreatedAt)
		}
		return views[i].ID.String() > views[j].ID.String()
	})

	total := len(views)
	start, end := pageBounds(total, filter.Offset, filter.Limit)
	return views[start:end], total
}

// Delete removes a terminal job.
func (s *MemoryStore) Delete(id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.RLock()
	status := e.job.Status
	e.mu.RUnlock()
	if !status.IsTerminal() {
		return fmt.Errorf("%w: cannot delete %s job", ErrInvalidState, status)
	}

	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes terminal jobs that ended before cutoff and returns their ids.
func (s *MemoryStore) DeleteExpired(cutoff time.Time) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []uuid.UUID
	for id, e := range s.jobs {
		e.mu.RLock()
		expired := e.job.Status.IsTerminal() && e.job.EndedAt != nil && e.job.EndedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// pageBounds clamps [offset, offset+limit) to a slice of length n.
// A non-positive limit means "everything after offset".
func pageBounds(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
