// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchJobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_enqueued_total",
			Help: "Total number of notification jobs enqueued",
		},
		[]string{"queue"},
	)

	DispatchJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_completed_total",
			Help: "Total number of notification jobs delivered",
		},
		[]string{"queue"},
	)

	DispatchJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_failed_total",
			Help: "Total number of failed delivery attempts",
		},
		[]string{"queue", "error_code"},
	)

	DispatchJobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_retried_total",
			Help: "Total number of jobs rescheduled after a failed attempt",
		},
		[]string{"queue"},
	)

	DispatchJobsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_exhausted_total",
			Help: "Total number of jobs that ran out of attempts",
		},
		[]string{"queue", "best_effort"},
	)

	DispatchJobsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_cancelled_total",
			Help: "Total number of queued jobs cancelled before running",
		},
		[]string{"queue"},
	)

	DispatchJobsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_escalated_total",
			Help: "Total number of queued jobs promoted by escalation",
		},
		[]string{"queue"},
	)

	DispatchJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dispatch_job_duration_seconds",
			Help: "Duration of a single channel call in seconds",
		},
		[]string{"queue"},
	)

	DispatchQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Number of jobs waiting per queue, including delayed retries",
		},
		[]string{"queue"},
	)

	DispatchJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_jobs_active",
			Help: "Number of in-flight jobs per queue",
		},
		[]string{"queue"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"route", "method"},
	)

	RoutingBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_circuit_open",
			Help: "1 while the routing client circuit breaker is open",
		},
	)
)
