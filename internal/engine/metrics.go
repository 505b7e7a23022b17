package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/turnstile/internal/model"
)

// Sweep triggers, used as metric labels and in logs.
const (
	triggerIdle      = "idle"
	triggerInterval  = "interval"
	triggerForced    = "forced"
	triggerThreshold = "cancel_threshold"
)

var (
	tasksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnstile_tasks_submitted_total",
			Help: "Total number of tasks submitted to the queue.",
		},
	)

	batchesAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnstile_batches_admitted_total",
			Help: "Total number of non-empty batches admitted after a cooldown.",
		},
	)

	tasksAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnstile_tasks_admitted_total",
			Help: "Total number of tasks moved from queued to processing.",
		},
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status.",
		},
		[]string{"status"},
	)

	taskRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnstile_task_retries_total",
			Help: "Total number of retries after upstream rate limiting.",
		},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turnstile_task_duration_seconds",
			Help:    "Time from admission to terminal write, including retry waits, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	tasksRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_tasks_removed_total",
			Help: "Total number of task records removed without result retrieval.",
		},
		[]string{"reason"},
	)

	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_sweeps_total",
			Help: "Total number of cleanup sweeps.",
		},
		[]string{"trigger"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_queue_depth",
			Help: "Number of tasks waiting in the pending queue.",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksSubmittedTotal)
	prometheus.MustRegister(batchesAdmittedTotal)
	prometheus.MustRegister(tasksAdmittedTotal)
	prometheus.MustRegister(tasksFinishedTotal)
	prometheus.MustRegister(taskRetriesTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(tasksRemovedTotal)
	prometheus.MustRegister(sweepsTotal)
	prometheus.MustRegister(queueDepth)

	// Pre-initialize label combinations so they appear in /metrics
	// with value 0 from startup.
	tasksFinishedTotal.WithLabelValues(model.StatusCompleted)
	tasksFinishedTotal.WithLabelValues(model.StatusFailed)
	for _, r := range []string{ReasonCancelled, ReasonExpired, ReasonAbandoned} {
		tasksRemovedTotal.WithLabelValues(r)
	}
	for _, tr := range []string{triggerIdle, triggerInterval, triggerForced, triggerThreshold} {
		sweepsTotal.WithLabelValues(tr)
	}
}
