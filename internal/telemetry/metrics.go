package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	DispatchSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_dispatches_succeeded_total", Help: "Webhook dispatches that returned 2xx"})
	DispatchFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_dispatches_failed_total", Help: "Webhook dispatches that failed or returned non-2xx"})
	DispatchRateLimited = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_dispatches_rate_limited_total", Help: "Dispatches skipped by the execution rate limit"})
	IngestAccepted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_requests_accepted_total", Help: "Inbound endpoint requests logged"})
	IngestRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_requests_rejected_total", Help: "Inbound endpoint requests denied by the rate limiter"})
	LoadTestRequests    = prometheus.NewCounter(prometheus.CounterOpts{Name: "loadtest_requests_total", Help: "Synthetic requests issued by load test workers"})
	RunQueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "loadtest_run_queue_depth", Help: "Pending load test runs in the queue"})
	RunsInFlightGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "loadtest_runs_inflight", Help: "Load test runs currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			DispatchSuccess,
			DispatchFailures,
			DispatchRateLimited,
			IngestAccepted,
			IngestRejected,
			LoadTestRequests,
			RunQueueDepthGauge,
			RunsInFlightGauge,
		)
	})
	return promhttp.Handler()
}
