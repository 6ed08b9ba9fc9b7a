package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "carlot"

var (
	metricJobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "jobs_submitted_total",
		Help:      "Scrape jobs admitted to the scheduler queue.",
	}, []string{"job"})
	metricJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "jobs_completed_total",
		Help:      "Scrape jobs that finished on a worker, by outcome.",
	}, []string{"job", "outcome"})
	metricJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time a job occupied its worker.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	}, []string{"job"})
	metricCallerTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "job_caller_timeouts_total",
		Help:      "Callers that stopped waiting before their job finished. The job keeps running.",
	}, []string{"job"})
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "scheduler_queue_depth",
		Help:      "Jobs waiting for a free worker.",
	})
	metricBusyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "scheduler_busy_workers",
		Help:      "Workers currently executing a job.",
	})

	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "browser_sessions_created_total",
		Help:      "Browser sessions launched by the pool.",
	})
	metricSessionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "browser_sessions_idle",
		Help:      "Browser sessions parked in the pool.",
	})
	metricSessionsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "browser_sessions_in_use",
		Help:      "Browser sessions checked out by jobs, including orphaned ones.",
	})

	metricCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "response_cache_lookups_total",
		Help:      "Response cache lookups, by result.",
	}, []string{"result"})
)

func RecordJobSubmitted(job string) {
	metricJobsSubmitted.WithLabelValues(job).Inc()
}

func RecordJobCompleted(job, outcome string, took time.Duration) {
	metricJobsCompleted.WithLabelValues(job, outcome).Inc()
	metricJobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func RecordCallerTimeout(job string) {
	metricCallerTimeouts.WithLabelValues(job).Inc()
}

func SetQueueDepth(n int) {
	metricQueueDepth.Set(float64(n))
}

func AddBusyWorkers(delta int) {
	metricBusyWorkers.Add(float64(delta))
}

func RecordSessionCreated() {
	metricSessionsCreated.Inc()
}

// SetSessionGauges publishes the pool's idle and checked-out counts.
func SetSessionGauges(idle, inUse int) {
	metricSessionsIdle.Set(float64(idle))
	metricSessionsInUse.Set(float64(inUse))
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metricCacheLookups.WithLabelValues(result).Inc()
}
