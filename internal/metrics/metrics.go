// Package metrics exposes Prometheus instrumentation for the dispatcher:
// job lifecycle counters, scheduler occupancy, adapter call latency, and
// live session gauges. Collectors are package-level vars registered once
// at init, served over promhttp.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_jobs_created_total",
			Help: "Total number of jobs created by type",
		},
		[]string{"type"},
	)

	JobsTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_jobs_terminal_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_job_duration_seconds",
			Help:    "Wall time from job creation to terminal status in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	// Scheduler metrics
	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_scheduler_active_tasks",
			Help: "Number of tasks currently occupying a worker slot",
		},
	)

	// Adapter metrics
	AdapterCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_adapter_calls_total",
			Help: "Total adapter calls by adapter and outcome",
		},
		[]string{"adapter", "outcome"},
	)

	AdapterCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_adapter_call_duration_seconds",
			Help:    "Adapter call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	// Session metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_active_sessions",
			Help: "Number of live client channels attached to the registry",
		},
	)

	// Stream metrics
	StreamTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_stream_tokens_total",
			Help: "Total streamed tokens delivered across all messages",
		},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_events_published_total",
			Help: "Total events published by topic",
		},
		[]string{"topic"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsCreatedTotal,
		JobsTerminalTotal,
		JobDuration,
		ActiveTasks,
		AdapterCallsTotal,
		AdapterCallDuration,
		ActiveSessions,
		StreamTokensTotal,
		EventsPublishedTotal,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdapterCall records one adapter call's duration and outcome.
func ObserveAdapterCall(adapter string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	AdapterCallsTotal.WithLabelValues(adapter, outcome).Inc()
	AdapterCallDuration.WithLabelValues(adapter).Observe(time.Since(start).Seconds())
}
