// Package metrics exports run, phase, task and review activity as Prometheus
// metrics. Collectors are fed from the event bus, so the executors never
// reference metrics directly.
//
// Metrics:
//   - spectacular_runs_total{result}
//   - spectacular_runs_active
//   - spectacular_phase_duration_seconds{strategy,result}
//   - spectacular_tasks_total{strategy,result}
//   - spectacular_task_duration_seconds{strategy}
//   - spectacular_tasks_resumed_total
//   - spectacular_review_verdicts_total{verdict}
//   - spectacular_stacking_warnings_total{backend}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arittr/spectacular-codex/internal/event"
)

const namespace = "spectacular"

// Metrics holds the collectors.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	RunsActive           prometheus.Gauge
	PhaseDuration        *prometheus.HistogramVec
	TasksTotal           *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	TasksResumedTotal    prometheus.Counter
	ReviewVerdictsTotal  *prometheus.CounterVec
	StackingWarningTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by result",
		}, []string{"result"}),

		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently executing",
		}),

		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of a phase including review",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}, []string{"strategy", "result"}),

		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Executed tasks by strategy and result",
		}, []string{"strategy", "result"}),

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Agent time per task",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 13),
		}, []string{"strategy"}),

		TasksResumedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_resumed_total",
			Help:      "Tasks skipped because git already holds their work",
		}),

		ReviewVerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_verdicts_total",
			Help:      "Review verdicts by outcome",
		}, []string{"verdict"}),

		StackingWarningTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stacking_warnings_total",
			Help:      "Stacking attempts that failed and were recorded as warnings",
		}, []string{"backend"}),
	}
}

// Subscribe feeds m from bus and returns the subscription ids.
func (m *Metrics) Subscribe(bus *event.Bus) []string {
	return []string{
		bus.Subscribe(event.TypeRunStarted, func(event.Event) { m.RunsActive.Inc() }),
		bus.Subscribe(event.TypeRunFinished, m.onRunFinished),
		bus.Subscribe(event.TypePhaseFinished, m.onPhaseFinished),
		bus.Subscribe(event.TypeTaskFinished, m.onTaskFinished),
		bus.Subscribe(event.TypeTaskResumed, func(event.Event) { m.TasksResumedTotal.Inc() }),
		bus.Subscribe(event.TypeReviewVerdict, m.onReviewVerdict),
		bus.Subscribe(event.TypeStackingWarning, m.onStackingWarning),
	}
}

func (m *Metrics) onRunFinished(e event.Event) {
	ev, ok := e.(event.RunFinishedEvent)
	if !ok {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(result(ev.Success)).Inc()
}

func (m *Metrics) onPhaseFinished(e event.Event) {
	ev, ok := e.(event.PhaseFinishedEvent)
	if !ok {
		return
	}
	m.PhaseDuration.WithLabelValues(ev.Strategy, result(ev.Success)).Observe(ev.Duration.Seconds())
}

func (m *Metrics) onTaskFinished(e event.Event) {
	ev, ok := e.(event.TaskFinishedEvent)
	if !ok {
		return
	}
	m.TasksTotal.WithLabelValues(ev.Strategy, result(ev.Success)).Inc()
	m.TaskDuration.WithLabelValues(ev.Strategy).Observe(ev.Duration.Seconds())
}

func (m *Metrics) onReviewVerdict(e event.Event) {
	ev, ok := e.(event.ReviewVerdictEvent)
	if !ok {
		return
	}
	verdict := "rejected"
	if ev.Approved {
		verdict = "approved"
	}
	m.ReviewVerdictsTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) onStackingWarning(e event.Event) {
	if ev, ok := e.(event.StackingWarningEvent); ok {
		m.StackingWarningTotal.WithLabelValues(ev.Backend).Inc()
	}
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
