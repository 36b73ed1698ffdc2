package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/batchrun/internal/executor/mock"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

func newTestRunner() (*MemoryStore, *Runner, *mockCache, *mockHistory) {
	st := NewMemoryStore()
	ca := newMockCache()
	hist := &mockHistory{}
	return st, NewRunner(st, ca, hist, time.Minute), ca, hist
}

func runToEnd(t *testing.T, st *MemoryStore, r *Runner, items []models.Item, exec models.WorkExecutor, concurrency int) models.Job {
	t.Helper()
	id := st.Create(len(items), concurrency)
	r.Run(context.Background(), id, items, exec, concurrency)
	job, err := st.Get(id)
	require.NoError(t, err)
	return job
}

func TestRun_PartialFailureStillCompletes(t *testing.T) {
	st, r, ca, hist := newTestRunner()
	exec := mock.NewFailingExecutor(errors.New("upstream said no"), "3", "7")

	job := runToEnd(t, st, r, makeItems(10), exec, 4)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 10, job.Progress)
	assert.Len(t, job.Results, 8)
	assert.Len(t, job.Errors, 2)
	assert.Empty(t, job.FailureReason)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.EndedAt)
	for _, e := range job.Errors {
		assert.True(t, strings.HasPrefix(e, "item 3: ") || strings.HasPrefix(e, "item 7: "), e)
		assert.Contains(t, e, "upstream said no")
	}

	assert.Equal(t, []string{"running", "completed"}, ca.history(job.ID))

	saved := hist.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, models.JobStatusCompleted, saved[0].Status)
	assert.Equal(t, 8, saved[0].ResultCount)
	assert.Equal(t, 2, saved[0].ErrorCount)
	assert.Equal(t, "mock-failing", saved[0].Executor)
	assert.Nil(t, saved[0].FailureReason)
}

func TestRun_EveryItemAccountedOnce(t *testing.T) {
	st, r, _, _ := newTestRunner()
	exec := mock.NewFailingExecutor(errors.New("odd"), "1", "3", "5", "7", "9", "11")

	job := runToEnd(t, st, r, makeItems(25), exec, 6)

	seen := make(map[string]int)
	for _, res := range job.Results {
		seen[res.ItemID]++
	}
	for _, e := range job.Errors {
		id := strings.TrimPrefix(strings.SplitN(e, ":", 2)[0], "item ")
		seen[id]++
	}
	assert.Len(t, seen, 25)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s", id)
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	st, r, _, _ := newTestRunner()

	var inFlight, peak atomic.Int32
	exec := &mock.Executor{
		Name_: "counting",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return item.ID, nil
		},
	}

	job := runToEnd(t, st, r, makeItems(30), exec, 3)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRun_ExecutorPanicIsItemFailure(t *testing.T) {
	st, r, _, _ := newTestRunner()
	exec := &mock.Executor{
		Name_: "panicky",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			if item.ID == "2" {
				panic("kaboom")
			}
			return "ok", nil
		},
	}

	job := runToEnd(t, st, r, makeItems(4), exec, 2)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 4, job.Progress)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, "item 2: executor panic: kaboom", job.Errors[0])
}

func TestRun_ExecutorUnavailableFailsJob(t *testing.T) {
	st, r, ca, hist := newTestRunner()

	job := runToEnd(t, st, r, makeItems(5), mock.NewUnavailableExecutor(), 2)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Zero(t, job.Progress)
	assert.Empty(t, job.Results)
	assert.Empty(t, job.Errors)
	assert.True(t, strings.HasPrefix(job.FailureReason, "executor unavailable: "), job.FailureReason)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.EndedAt)
	assert.Equal(t, []string{"running", "failed"}, ca.history(job.ID))

	saved := hist.saved()
	require.Len(t, saved, 1)
	require.NotNil(t, saved[0].FailureReason)
	assert.Equal(t, job.FailureReason, *saved[0].FailureReason)
}

func TestRun_CancelStopsDispatch(t *testing.T) {
	st, r, _, _ := newTestRunner()
	release := make(chan struct{})
	started := make(chan string, 10)
	exec := mock.NewBlockingExecutor(release, started)

	id := st.Create(10, 2)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), id, makeItems(10), exec, 2)
		close(done)
	}()

	<-started
	<-started
	require.NoError(t, st.RequestCancel(id))
	close(release)
	<-done

	job, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, ReasonCancelled, job.FailureReason)
	assert.Equal(t, 2, job.Progress, "in-flight items finish, nothing new is dispatched")
	assert.Len(t, job.Results, 2)
	assert.Empty(t, job.Errors)
	assert.Empty(t, checkInvariants(job))
}

func TestRun_InFlightItemsIgnoreCancellation(t *testing.T) {
	st, r, _, _ := newTestRunner()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	exec := &mock.Executor{
		Name_: "ctx-aware",
		ProcessFunc: func(ctx context.Context, _ models.Item) (string, error) {
			started <- struct{}{}
			<-release
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "finished", nil
		},
	}

	id := st.Create(1, 1)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), id, makeItems(1), exec, 1)
		close(done)
	}()

	<-started
	require.NoError(t, st.RequestCancel(id))
	close(release)
	<-done

	job, _ := st.Get(id)
	require.Len(t, job.Results, 1)
	assert.Equal(t, "finished", job.Results[0].Output)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestRun_ParentContextEndsJob(t *testing.T) {
	st, r, _, _ := newTestRunner()
	release := make(chan struct{})
	started := make(chan string, 10)
	exec := mock.NewBlockingExecutor(release, started)

	ctx, cancel := context.WithCancel(context.Background())
	id := st.Create(5, 1)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, id, makeItems(5), exec, 1)
		close(done)
	}()

	<-started
	cancel()
	close(release)
	<-done

	job, _ := st.Get(id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, ReasonShutdown, job.FailureReason)
	assert.Equal(t, 1, job.Progress)
}

func TestRun_PanicInJobTaskFailsJob(t *testing.T) {
	st := NewMemoryStore()
	r := NewRunner(st, &panicOnceMirror{}, nil, time.Minute)

	job := runToEnd(t, st, r, makeItems(3), mock.NewExecutor(0), 1)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "panic: mirror exploded", job.FailureReason)
	assert.NotNil(t, job.EndedAt)
}

func TestRun_NotPendingIsIgnored(t *testing.T) {
	st, r, _, hist := newTestRunner()
	id := st.Create(1, 1)
	require.NoError(t, st.start(id, nil))

	r.Run(context.Background(), id, makeItems(1), mock.NewExecutor(0), 1)

	job, _ := st.Get(id)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Zero(t, job.Progress)
	assert.Empty(t, hist.saved())
}

func TestRun_InvariantsHoldWhileRunning(t *testing.T) {
	st, r, _, _ := newTestRunner()
	exec := &mock.Executor{
		Name_: "slow",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			time.Sleep(time.Millisecond)
			if item.ID[len(item.ID)-1] == '0' {
				return "", errors.New("ends in zero")
			}
			return item.ID, nil
		},
	}

	id := st.Create(60, 4)
	done := make(chan struct{})
	go func() {
		r.Run(context.Background(), id, makeItems(60), exec, 4)
		close(done)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := 0
		for {
			select {
			case <-done:
				return
			default:
			}
			job, err := st.Get(id)
			if !assert.NoError(t, err) {
				return
			}
			assert.Empty(t, checkInvariants(job))
			assert.GreaterOrEqual(t, job.Progress, last, "progress never decreases")
			last = job.Progress
		}
	}()
	wg.Wait()

	job, _ := st.Get(id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 60, job.Progress)
	assert.Len(t, job.Errors, 6)
}

func TestRun_ZeroConcurrencyTreatedAsOne(t *testing.T) {
	st, r, _, _ := newTestRunner()
	job := runToEnd(t, st, r, makeItems(3), mock.NewExecutor(0), 0)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Progress)
}

func TestSummarize(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &models.Job{
		ID:            uuid.New(),
		Status:        models.JobStatusFailed,
		Total:         3,
		Progress:      2,
		Results:       []models.Result{{ItemID: "0"}},
		Errors:        []string{"item 1: x"},
		FailureReason: ReasonCancelled,
		StartedAt:     &started,
	}

	s := summarize(job, "mock")
	assert.Equal(t, job.ID, s.ID)
	assert.Equal(t, 1, s.ResultCount)
	assert.Equal(t, 1, s.ErrorCount)
	assert.Equal(t, "mock", s.Executor)
	require.NotNil(t, s.FailureReason)
	assert.Equal(t, ReasonCancelled, *s.FailureReason)
}

func TestRun_CancelAfterLastItemStillFails(t *testing.T) {
	st, r, _, _ := newTestRunner()
	items := makeItems(3)
	id := st.Create(len(items), 1)

	// The last item requests cancellation while it is in flight: dispatch has
	// already ended, every item is accounted for, and the accepted cancel
	// still decides the outcome.
	exec := &mock.Executor{
		Name_: "late-cancel",
		ProcessFunc: func(_ context.Context, item models.Item) (string, error) {
			if item.ID == "2" {
				assert.NoError(t, st.RequestCancel(id))
			}
			return "ok", nil
		},
	}

	r.Run(context.Background(), id, items, exec, 1)

	job, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, ReasonCancelled, job.FailureReason)
	assert.Equal(t, job.Total, job.Progress)
	assert.Len(t, job.Results, 3)
	assert.Empty(t, checkInvariants(job))
}
