// Package metrics holds the prometheus metrics reported by the scheduler loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	NAMESPACE = "capstan"
	SUBSYSTEM = "scheduler"
)

type SchedulerMetrics struct {
	// Number of admission attempts by outcome.
	attempts *prometheus.CounterVec
	// Time taken by a single admission attempt.
	attemptDuration prometheus.Histogram
	// Number of deployments evicted to make room for higher priority ones, per cluster.
	preemptions *prometheus.CounterVec
	// Tasks waiting in the admission queue.
	queueDepth prometheus.Gauge
}

func NewSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "admission_attempts_total",
			Help:      "Number of admission attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	attemptDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "admission_attempt_duration_seconds",
			Help:      "Time taken by a single admission attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	preemptions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "preempted_deployments_total",
			Help:      "Number of running deployments preempted, by cluster.",
		},
		[]string{"cluster"},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Subsystem: SUBSYSTEM,
			Name:      "queue_depth",
			Help:      "Number of scheduling tasks waiting in the admission queue.",
		},
	)

	registerer.MustRegister(attempts, attemptDuration, preemptions, queueDepth)

	return &SchedulerMetrics{
		attempts:        attempts,
		attemptDuration: attemptDuration,
		preemptions:     preemptions,
		queueDepth:      queueDepth,
	}
}

func (m *SchedulerMetrics) ReportAttempt(outcome string, duration time.Duration) {
	m.attempts.WithLabelValues(outcome).Inc()
	m.attemptDuration.Observe(duration.Seconds())
}

func (m *SchedulerMetrics) ReportPreempted(clusterId string, count int) {
	if count > 0 {
		m.preemptions.WithLabelValues(clusterId).Add(float64(count))
	}
}

func (m *SchedulerMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
