package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by executors. A nil
// *Metrics records nothing.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	StepsTotal     *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	RecoveryTotal  *prometheus.CounterVec
	LearnFailures  *prometheus.CounterVec
	RunsInProgress prometheus.Gauge
}

// NewMetrics registers the executor collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_runs_total",
				Help: "Total number of workflow runs by outcome",
			},
			[]string{"workflow", "outcome"},
		),
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_steps_total",
				Help: "Total number of step attempts by result",
			},
			[]string{"workflow", "result"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wayfinder_step_duration_seconds",
				Help:    "Step duration in seconds, including frame capture",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"workflow"},
		),
		RecoveryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_recoveries_total",
				Help: "Total number of recovery attempts by error kind and result",
			},
			[]string{"workflow", "error_kind", "result"},
		),
		LearnFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfinder_learn_failures_total",
				Help: "Total number of sessions that could not be learned",
			},
			[]string{"workflow"},
		),
		RunsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wayfinder_runs_in_progress",
				Help: "Number of workflow runs currently executing",
			},
		),
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.RunsInProgress.Inc()
}

func (m *Metrics) runFinished(workflow, outcome string) {
	if m == nil {
		return
	}
	m.RunsInProgress.Dec()
	m.RunsTotal.WithLabelValues(workflow, outcome).Inc()
}

func (m *Metrics) step(workflow string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(workflow, result(ok)).Inc()
	m.StepDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

func (m *Metrics) recovery(workflow, kind string, ok bool) {
	if m == nil {
		return
	}
	m.RecoveryTotal.WithLabelValues(workflow, kind, result(ok)).Inc()
}

func (m *Metrics) learnFailed(workflow string) {
	if m == nil {
		return
	}
	m.LearnFailures.WithLabelValues(workflow).Inc()
}
