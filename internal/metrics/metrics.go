// Package metrics declares the Prometheus collectors cdcron exposes on
// /metrics, adapted from internal/api/middleware/metrics.go's
// promauto-registered counter/gauge style — one package-level var block,
// business metrics alongside the ambient ones, no per-request middleware
// since cdcron's own HTTP surface is the health endpoint, not an API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaderStatus is 1 while this replica holds the election lock, 0
	// otherwise. Flipped by the Leadership Manager on every transition.
	LeaderStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cdcron_leader_status",
			Help: "Whether this instance currently holds leadership (1) or not (0)",
		},
	)

	// JobRunsTotal counts dispatched job firings by method and outcome.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcron_job_runs_total",
			Help: "Total scheduled job firings by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// JobDuration observes how long a job's HTTP round trip took.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cdcron_job_duration_seconds",
			Help:    "Job HTTP round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CoordinatorRequestsTotal counts every coordinator API call by
	// operation and outcome, including the fatal ones — a spike here right
	// before a process exit is the first thing an operator should look at.
	CoordinatorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcron_coordinator_requests_total",
			Help: "Total coordinator API requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// PanicsRecoveredTotal counts panics caught by the Leadership Manager's
	// background-loop wrapper.
	PanicsRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cdcron_panics_recovered_total",
			Help: "Total number of recovered panics by loop name",
		},
		[]string{"loop"},
	)
)
