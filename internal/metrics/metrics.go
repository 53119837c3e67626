package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "witcon"

// Registry is the Prometheus registry for all service metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status code.
	HTTPRequestsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration records HTTP request latency in seconds.
	HTTPRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Attendee metrics
var (
	// AttendeeWrites counts attendee write attempts by operation and outcome
	// (ok, invalid, conflict, not_found, error).
	AttendeeWrites = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendee_writes_total",
			Help:      "Attendee create/update/delete attempts by outcome",
		},
		[]string{"op", "outcome"},
	)

	// LookupCache counts user_id lookup cache hits and misses.
	LookupCache = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendee_lookup_cache_total",
			Help:      "Attendee lookup cache results",
		},
		[]string{"result"},
	)

	// BlobJobs counts processed blob cleanup jobs by outcome.
	BlobJobs = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_cleanup_jobs_total",
			Help:      "Blob cleanup jobs processed by outcome",
		},
		[]string{"outcome"},
	)
)
