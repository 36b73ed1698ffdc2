package jobs

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// --- mocks ---

type mockCache struct {
	mu        sync.Mutex
	statuses  map[uuid.UUID][]string
	data      map[string][]byte
	forgotten map[uuid.UUID]bool
	gets      int
	hits      int
}

func newMockCache() *mockCache {
	return &mockCache{
		statuses:  make(map[uuid.UUID][]string),
		data:      make(map[string][]byte),
		forgotten: make(map[uuid.UUID]bool),
	}
}

func pageKey(jobID uuid.UUID, hash string) string {
	return jobID.String() + ":" + hash
}

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = append(c.statuses[jobID], status)
	return nil
}

func (c *mockCache) GetResultsPage(_ context.Context, jobID uuid.UUID, hash string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[pageKey(jobID, hash)]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mockCache) SetResultsPage(_ context.Context, jobID uuid.UUID, hash string, page []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[pageKey(jobID, hash)] = page
	return nil
}

func (c *mockCache) ForgetJob(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, jobID)
	prefix := jobID.String() + ":"
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	c.forgotten[jobID] = true
	return nil
}

func (c *mockCache) history(id uuid.UUID) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statuses[id]...)
}

// cached reports whether anything is still held for the job.
func (c *mockCache) cached(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.statuses[id]) > 0 {
		return true
	}
	for k := range c.data {
		if strings.HasPrefix(k, id.String()+":") {
			return true
		}
	}
	return false
}

type mockHistory struct {
	mu        sync.Mutex
	summaries []models.JobSummary
}

func (h *mockHistory) SaveJob(_ context.Context, s models.JobSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.summaries = append(h.summaries, s)
	return nil
}

func (h *mockHistory) saved() []models.JobSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.JobSummary(nil), h.summaries...)
}

// panicOnceMirror panics on its first call only.
type panicOnceMirror struct {
	once sync.Once
}

func (m *panicOnceMirror) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error {
	m.once.Do(func() { panic("mirror exploded") })
	return nil
}

func makeItems(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		items[i] = models.Item{ID: strconv.Itoa(i)}
	}
	return items
}

// checkInvariants returns a description of the first counting invariant the
// snapshot breaks, or "" when it holds.
func checkInvariants(job models.Job) string {
	if job.Progress > job.Total {
		return "progress exceeds total"
	}
	if len(job.Results)+len(job.Errors) != job.Progress {
		return "results + errors != progress"
	}
	return ""
}
