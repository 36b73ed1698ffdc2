package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJobLifecycle(t *testing.T) {
	submitted := testutil.ToFloat64(jobsSubmitted)
	running := testutil.ToFloat64(jobsRunning)
	failed := testutil.ToFloat64(jobsFinished.WithLabelValues("failed"))

	RecordJobSubmitted()
	RecordJobStarted()
	assert.Equal(t, running+1, testutil.ToFloat64(jobsRunning))

	RecordJobFinished("failed")
	assert.Equal(t, submitted+1, testutil.ToFloat64(jobsSubmitted))
	assert.Equal(t, running, testutil.ToFloat64(jobsRunning))
	assert.Equal(t, failed+1, testutil.ToFloat64(jobsFinished.WithLabelValues("failed")))
}

func TestRecordItem(t *testing.T) {
	ok := testutil.ToFloat64(itemsProcessed.WithLabelValues("success"))
	bad := testutil.ToFloat64(itemsProcessed.WithLabelValues("failed"))

	RecordItem(true, 10*time.Millisecond)
	RecordItem(false, time.Millisecond)

	assert.Equal(t, ok+1, testutil.ToFloat64(itemsProcessed.WithLabelValues("success")))
	assert.Equal(t, bad+1, testutil.ToFloat64(itemsProcessed.WithLabelValues("failed")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordRequest(http.MethodGet, http.StatusOK)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `batchrun_http_requests_total{method="GET",status="200"}`)
	assert.Contains(t, body, "batchrun_jobs_running")
	assert.Contains(t, body, "go_goroutines")
}
