package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/batchrun/internal/api"
	"github.com/kiranshivaraju/batchrun/internal/api/handler"
	"github.com/kiranshivaraju/batchrun/internal/executor/mock"
	"github.com/kiranshivaraju/batchrun/internal/jobs"
	"github.com/kiranshivaraju/batchrun/pkg/models"
)

// --- helpers ---

func apiServer(t *testing.T, exec models.WorkExecutor) *httptest.Server {
	t.Helper()
	svc := jobs.NewService(jobs.DefaultConfig(), exec, jobs.NewMemoryStore(), nil, nil)
	router := api.NewRouter(api.Dependencies{
		SubmitHandler:  handler.NewSubmitHandler(svc),
		StatusHandler:  handler.NewStatusHandler(svc),
		ResultsHandler: handler.NewResultsHandler(svc),
		ErrorsHandler:  handler.NewErrorsHandler(svc),
		CancelHandler:  handler.NewCancelHandler(svc),
	})
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return ts
}

func errorServer(t *testing.T, status int, code string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": "nope"}})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// --- end to end against the real API ---

func TestClient_SubmitWaitResults(t *testing.T) {
	ts := apiServer(t, mock.NewExecutor(0))
	c := New(ts.URL, 5*time.Second)
	ctx := context.Background()

	items := []models.Item{
		{ID: "a", Payload: json.RawMessage(`{"v":1}`)},
		{ID: "b", Payload: json.RawMessage(`{"fail":true,"message":"bad b"}`)},
		{ID: "c", Payload: json.RawMessage(`"x,y"`)},
	}
	sub, err := c.Submit(ctx, items, 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.JobID == uuid.Nil || sub.Concurrency != 2 {
		t.Fatalf("unexpected submit response: %+v", sub)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := c.Wait(waitCtx, sub.JobID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != models.JobStatusCompleted || st.Progress != 3 || st.ErrorCount != 1 {
		t.Fatalf("unexpected final status: %+v", st)
	}

	page, err := c.Results(ctx, sub.JobID, ResultsQuery{Limit: 10})
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 || page.HasMore {
		t.Errorf("unexpected page: %+v", page)
	}

	csvBody, err := c.ResultsCSV(ctx, sub.JobID, ResultsQuery{ItemIDPrefix: "c"})
	if err != nil {
		t.Fatalf("results csv: %v", err)
	}
	rows, err := jobs.ParseCSV(csvBody)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 1 || rows[0].ItemID != "c" || rows[0].Output != `processed c: "x,y"` {
		t.Errorf("unexpected csv rows: %+v", rows)
	}

	errs, err := c.Errors(ctx, sub.JobID, 0, 0)
	if err != nil {
		t.Fatalf("errors: %v", err)
	}
	if errs.Total != 1 || errs.Items[0] != "item b: item marked to fail: bad b" {
		t.Errorf("unexpected errors page: %+v", errs)
	}

	groups, err := c.ErrorGroups(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("error groups: %v", err)
	}
	if groups.TotalErrors != 1 || len(groups.Groups) != 1 {
		t.Errorf("unexpected groups: %+v", groups)
	}

	if err := c.Cancel(ctx, sub.JobID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState cancelling a finished job, got %v", err)
	}
}

func TestClient_Cancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)
	ts := apiServer(t, mock.NewBlockingExecutor(release, started))
	c := New(ts.URL, 5*time.Second)
	ctx := context.Background()

	sub, err := c.Submit(ctx, []models.Item{{ID: "1"}, {ID: "2"}, {ID: "3"}}, 1)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := c.Cancel(ctx, sub.JobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := c.Wait(waitCtx, sub.JobID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != models.JobStatusFailed || st.FailureReason != jobs.ReasonCancelled {
		t.Errorf("unexpected final status: %+v", st)
	}
}

func TestClient_NotFound(t *testing.T) {
	ts := apiServer(t, mock.NewExecutor(0))
	c := New(ts.URL, 5*time.Second)

	_, err := c.Status(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_InvalidSubmit(t *testing.T) {
	ts := apiServer(t, mock.NewExecutor(0))
	c := New(ts.URL, 5*time.Second)

	_, err := c.Submit(context.Background(), nil, 0)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

// --- error mapping ---

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", ErrRateLimited},
		{"shutting down", http.StatusServiceUnavailable, "SHUTTING_DOWN", ErrUnavailable},
		{"conflict", http.StatusConflict, "INVALID_STATE", ErrInvalidState},
		{"internal", http.StatusInternalServerError, "INTERNAL_ERROR", ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := errorServer(t, tt.status, tt.code)
			c := New(ts.URL, 5*time.Second)

			_, err := c.Status(context.Background(), uuid.New())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1", 2*time.Second)

	_, err := c.Status(context.Background(), uuid.New())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	c := New(ts.URL, 50*time.Millisecond)
	_, err := c.Status(context.Background(), uuid.New())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestResultsQuery_Values(t *testing.T) {
	v := ResultsQuery{Limit: 5, Offset: 10, ItemIDPrefix: "a", Contains: "b"}.values()
	if v.Get("limit") != "5" || v.Get("offset") != "10" || v.Get("item_id_prefix") != "a" || v.Get("contains") != "b" {
		t.Errorf("unexpected values: %v", v)
	}
	if len(ResultsQuery{}.values()) != 0 {
		t.Error("zero query should encode no parameters")
	}
}
