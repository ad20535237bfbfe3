// Package metrics содержит счетчики жизненного цикла задач генерации.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Jobs метрики задач по типу.
type Jobs struct {
	submitted *prometheus.CounterVec
	started   *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewJobs создает и регистрирует метрики в reg.
func NewJobs(reg prometheus.Registerer) *Jobs {
	m := &Jobs{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travel_planner",
			Name:      "jobs_submitted_total",
			Help:      "Generation jobs accepted for dispatch.",
		}, []string{"kind"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travel_planner",
			Name:      "jobs_started_total",
			Help:      "Job attempts picked up by a worker.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travel_planner",
			Name:      "jobs_completed_total",
			Help:      "Jobs that reached the completed state.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travel_planner",
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached the failed state.",
		}, []string{"kind"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travel_planner",
			Name:      "jobs_retried_total",
			Help:      "Job attempts scheduled for retry after a transient error.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "travel_planner",
			Name:      "job_attempt_duration_seconds",
			Help:      "Wall-clock duration of one job attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"kind", "outcome"}),
	}
	reg.MustRegister(m.submitted, m.started, m.completed, m.failed, m.retried, m.duration)
	return m
}

func (m *Jobs) OnSubmit(kind string) {
	m.submitted.WithLabelValues(kind).Inc()
}

func (m *Jobs) OnStart(kind string) {
	m.started.WithLabelValues(kind).Inc()
}

func (m *Jobs) OnComplete(kind string, d time.Duration) {
	m.completed.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind, "completed").Observe(d.Seconds())
}

func (m *Jobs) OnFail(kind string, d time.Duration) {
	m.failed.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind, "failed").Observe(d.Seconds())
}

func (m *Jobs) OnRetry(kind string, d time.Duration) {
	m.retried.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind, "retry").Observe(d.Seconds())
}
