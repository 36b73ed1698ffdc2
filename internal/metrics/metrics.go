// Package metrics exposes Prometheus collectors for jobs, items and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every batchrun collector. It is separate from the global
// default registry so that Handler only exports what this service records.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	jobsSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Name: "batchrun_jobs_submitted_total",
		Help: "Jobs accepted by submit.",
	})
	jobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrun_jobs_finished_total",
		Help: "Jobs that reached a terminal state.",
	}, []string{"status"})
	jobsRunning = factory.NewGauge(prometheus.GaugeOpts{
		Name: "batchrun_jobs_running",
		Help: "Jobs currently in the running state.",
	})
	itemsProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrun_items_processed_total",
		Help: "Items processed, by outcome.",
	}, []string{"outcome"})
	itemDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "batchrun_item_duration_seconds",
		Help:    "Time spent in the work executor per item.",
		Buckets: prometheus.DefBuckets,
	})
	httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "batchrun_http_requests_total",
		Help: "HTTP requests served, by method and status code.",
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// RecordJobSubmitted counts an accepted submission.
func RecordJobSubmitted() {
	jobsSubmitted.Inc()
}

// RecordJobStarted tracks a job entering the running state.
func RecordJobStarted() {
	jobsRunning.Inc()
}

// RecordJobFinished tracks a job leaving the running state.
func RecordJobFinished(status string) {
	jobsRunning.Dec()
	jobsFinished.WithLabelValues(status).Inc()
}

// RecordItem records the outcome and executor latency of one item.
func RecordItem(success bool, d time.Duration) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	itemsProcessed.WithLabelValues(outcome).Inc()
	itemDuration.Observe(d.Seconds())
}

// RecordRequest counts a served HTTP request.
func RecordRequest(method string, status int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the Prometheus exposition format for Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
