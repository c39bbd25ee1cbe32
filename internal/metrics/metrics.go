// Package metrics provides Prometheus instrumentation for the upload
// service. It exposes gauges for session counts, counters for field writes,
// polls, and evictions, and histograms for upload latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveSessions tracks the current number of live sessions in the store.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uploader_active_sessions",
		Help: "Current number of live sessions in the store",
	})

	// SessionsEvictedTotal counts sessions removed by the background reaper.
	SessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploader_sessions_evicted_total",
		Help: "Total number of sessions evicted for inactivity",
	})

	// FieldWritesTotal counts session field writes, labeled by field name.
	FieldWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_field_writes_total",
		Help: "Total number of session field writes",
	}, []string{"field"}) // field = "url", "push_ready"

	// PollsTotal counts poll requests, labeled by outcome: "hit" when the
	// value was present, "miss" when it was not.
	PollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_polls_total",
		Help: "Total number of poll requests",
	}, []string{"outcome"}) // outcome = "hit", "miss"

	// UploadsTotal counts upload attempts, labeled by backend and result.
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploader_uploads_total",
		Help: "Total number of upload attempts",
	}, []string{"backend", "result"}) // result = "ok", "error"

	// UploadDuration records end-to-end upload latency in seconds.
	UploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploader_upload_duration_seconds",
		Help:    "End-to-end upload latency in seconds",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// UploadBytes records the size of uploaded files in bytes.
	UploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "uploader_upload_bytes",
		Help:    "Size of uploaded files in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions,
		SessionsEvictedTotal,
		FieldWritesTotal,
		PollsTotal,
		UploadsTotal,
		UploadDuration,
		UploadBytes,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
