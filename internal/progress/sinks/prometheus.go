package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/linkcheck/internal/progress"
)

// PrometheusSink exports run progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   prometheus.Histogram

	tasks         *prometheus.CounterVec
	taskAttempts  prometheus.Histogram
	loginFailures *prometheus.CounterVec

	progressCurrent prometheus.Gauge
	progressTotal   prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkcheck_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_runs_completed_total",
			Help: "Total runs finished partitioned by reason.",
		}, []string{"reason"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkcheck_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_tasks_total",
			Help: "Recorded task results partitioned by outcome.",
		}, []string{"outcome"}),
		taskAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkcheck_task_attempts",
			Help:    "Attempts needed before a task was recorded.",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		loginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkcheck_login_failures_total",
			Help: "Failed logins partitioned by outcome.",
		}, []string{"outcome"}),
		progressCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkcheck_progress_current",
			Help: "Tasks recorded so far in the current run.",
		}),
		progressTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkcheck_progress_total",
			Help: "Unique tasks queued for the current run.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.tasks,
		s.taskAttempts,
		s.loginFailures,
		s.progressCurrent,
		s.progressTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.progressCurrent.Set(0)
		s.progressTotal.Set(float64(evt.Total))
	case progress.StageProgress:
		s.progressCurrent.Set(float64(evt.Current))
		s.progressTotal.Set(float64(evt.Total))
	case progress.StageTaskDone:
		s.tasks.WithLabelValues(evt.Outcome.String()).Inc()
		if evt.Attempts > 0 {
			s.taskAttempts.Observe(float64(evt.Attempts))
		}
	case progress.StageLoginFailed:
		s.loginFailures.WithLabelValues(evt.Login.String()).Inc()
	case progress.StageRunDone:
		reason := evt.Note
		if reason != "stopped" && reason != "completed" {
			reason = "incomplete"
		}
		s.runsCompleted.WithLabelValues(reason).Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
