// Package metrics exposes the Prometheus collectors of the maintenance core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of job executions by outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "scheduler",
			Name:      "job_skips_total",
			Help:      "Ticks skipped because the prior run was still in flight.",
		},
		[]string{"job"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "maintenance_core",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"job"},
	)

	notificationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "notify",
			Name:      "intents_total",
			Help:      "Notification intents accepted by the sink.",
		},
		[]string{"kind"},
	)

	notificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notification intents dropped on buffer overflow.",
		},
	)

	remoteProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "remote",
			Name:      "probes_total",
			Help:      "Remote validator probes by outcome.",
		},
		[]string{"outcome"},
	)

	withdrawalDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintenance_core",
			Subsystem: "withdrawals",
			Name:      "decisions_total",
			Help:      "Withdrawal admission decisions.",
		},
		[]string{"decision"},
	)
)

func init() {
	Registry.MustRegister(
		jobRuns,
		jobSkips,
		jobDuration,
		notificationsEmitted,
		notificationsDropped,
		remoteProbes,
		withdrawalDecisions,
	)
}

// Handler returns an HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveJobRun records one job execution.
func ObserveJobRun(job, outcome string, elapsed time.Duration) {
	jobRuns.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// ObserveJobSkip records a skipped tick.
func ObserveJobSkip(job string) { jobSkips.WithLabelValues(job).Inc() }

// ObserveIntent records an accepted notification intent.
func ObserveIntent(kind string) { notificationsEmitted.WithLabelValues(kind).Inc() }

// ObserveIntentDropped records a dropped notification intent.
func ObserveIntentDropped() { notificationsDropped.Inc() }

// ObserveProbe records a remote probe outcome.
func ObserveProbe(outcome string) { remoteProbes.WithLabelValues(outcome).Inc() }

// ObserveWithdrawalDecision records an admission decision.
func ObserveWithdrawalDecision(decision string) {
	withdrawalDecisions.WithLabelValues(decision).Inc()
}
