// Package metrics exposes Prometheus collectors for worker pools
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Task completion status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// PoolMetrics holds all Prometheus metrics for worker pools.
// A nil *PoolMetrics is valid and records nothing.
type PoolMetrics struct {
	TasksSubmitted *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksRejected  *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	QueueLength    *prometheus.GaugeVec
	ActiveWorkers  *prometheus.GaugeVec
	WorkerCount    *prometheus.GaugeVec
}

// NewPoolMetrics creates the pool metrics and registers them on reg.
// A nil reg leaves the collectors unregistered.
func NewPoolMetrics(namespace string, reg prometheus.Registerer) (*PoolMetrics, error) {
	m := &PoolMetrics{
		TasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks accepted by the pool",
			},
			[]string{"pool"},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks executed, by outcome",
			},
			[]string{"pool", "status"},
		),
		TasksRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_rejected_total",
				Help:      "Total number of tasks rejected because the pool was closing",
			},
			[]string{"pool"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
		QueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_length",
				Help:      "Current number of tasks waiting in the queue",
			},
			[]string{"pool"},
		),
		ActiveWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Current number of workers executing a task",
			},
			[]string{"pool"},
		),
		WorkerCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_count",
				Help:      "Number of running workers in the pool",
			},
			[]string{"pool"},
		),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// MustNewPoolMetrics is like NewPoolMetrics but panics on registration errors
func MustNewPoolMetrics(namespace string, reg prometheus.Registerer) *PoolMetrics {
	m, err := NewPoolMetrics(namespace, reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *PoolMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TasksSubmitted,
		m.TasksCompleted,
		m.TasksRejected,
		m.TaskDuration,
		m.QueueLength,
		m.ActiveWorkers,
		m.WorkerCount,
	}
}

// RecordTaskSubmitted increments the submitted tasks counter
func (m *PoolMetrics) RecordTaskSubmitted(pool string) {
	if m == nil {
		return
	}
	m.TasksSubmitted.WithLabelValues(pool).Inc()
}

// RecordTaskRejected increments the rejected tasks counter
func (m *PoolMetrics) RecordTaskRejected(pool string) {
	if m == nil {
		return
	}
	m.TasksRejected.WithLabelValues(pool).Inc()
}

// ObserveTask records the outcome and duration of one executed task
func (m *PoolMetrics) ObserveTask(pool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if failed {
		status = StatusFailure
	}
	m.TasksCompleted.WithLabelValues(pool, status).Inc()
	m.TaskDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// SetQueueLength sets the current queue length
func (m *PoolMetrics) SetQueueLength(pool string, n int) {
	if m == nil {
		return
	}
	m.QueueLength.WithLabelValues(pool).Set(float64(n))
}

// AddActiveWorkers adjusts the number of busy workers by delta
func (m *PoolMetrics) AddActiveWorkers(pool string, delta int) {
	if m == nil {
		return
	}
	m.ActiveWorkers.WithLabelValues(pool).Add(float64(delta))
}

// SetWorkerCount sets the number of running workers
func (m *PoolMetrics) SetWorkerCount(pool string, n int) {
	if m == nil {
		return
	}
	m.WorkerCount.WithLabelValues(pool).Set(float64(n))
}
