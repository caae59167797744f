package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "reportq"

var (
	TaskCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_created_total",
			Help:      "Total number of tasks created (enqueued).",
		},
		[]string{"kind"},
	)

	TaskClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_claimed_total",
			Help:      "Total number of tasks claimed by workers.",
		},
		[]string{"kind"},
	)

	TaskCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completed_total",
			Help:      "Total number of tasks finished, labeled by final status.",
		},
		[]string{"kind", "status"},
	)

	TaskProcessingLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_processing_latency_seconds",
			Help:      "End-to-end latency from task creation to completion (seconds).",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind", "status"},
	)

	StepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Execution time of a single pipeline step (seconds).",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind", "step", "outcome"},
	)

	SubmissionRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_rejected_total",
			Help:      "Total number of rejected submissions, labeled by reason.",
		},
		[]string{"kind", "reason"},
	)

	ContainerCleanupFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_cleanup_failures_total",
			Help:      "Total number of component release failures while closing task containers.",
		},
		[]string{"kind"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting.",
		},
		[]string{"operation"},
	)

	LeaseExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_expired_total",
			Help:      "Total number of claimed tasks failed because their worker lease expired.",
		},
		[]string{"kind"},
	)

	RetentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Total number of finished tasks removed by retention cleanup.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TaskCreatedTotal,
		TaskClaimedTotal,
		TaskCompletedTotal,
		TaskProcessingLatencySeconds,
		StepDurationSeconds,
		SubmissionRejectedTotal,
		ContainerCleanupFailuresTotal,
		RateLimitHitsTotal,
		LeaseExpiredTotal,
		RetentionDeletedTotal,
	)
}
