// Package metrics registers the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpod",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of push-queue jobs processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpod",
			Subsystem: "jobs",
			Name:      "retries_total",
			Help:      "Total number of transient-failure retries by job kind",
		},
		[]string{"kind"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudpod",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job execution (all attempts) in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~2min
		},
		[]string{"kind"},
	)

	TasksClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudpod",
			Subsystem: "tasks",
			Name:      "claimed_total",
			Help:      "Total number of pull-queue claims by result (claimed, empty)",
		},
		[]string{"result"},
	)

	TasksReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cloudpod",
			Subsystem: "tasks",
			Name:      "released_total",
			Help:      "Total number of expired pull-queue leases returned to pending",
		},
	)

	AdmissionDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cloudpod",
			Subsystem: "capacity",
			Name:      "admission_denied_total",
			Help:      "Total number of requests denied by the capacity ledger",
		},
	)
)

// Register adds all orchestrator collectors to the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		JobsProcessedTotal,
		JobRetriesTotal,
		JobDuration,
		TasksClaimedTotal,
		TasksReleasedTotal,
		AdmissionDeniedTotal,
	)
}
