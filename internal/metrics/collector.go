// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the engine's Prometheus metrics.
type Collector struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge

	stepsExecuted    *prometheus.CounterVec
	policyRejections *prometheus.CounterVec

	checkpointsCreated  prometheus.Counter
	checkpointsResolved *prometheus.CounterVec
	deadLetters         prometheus.Counter
}

// NewCollector registers the engine metrics on reg (nil uses the default
// registerer).
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Workflow runs started, by trigger kind",
			},
			[]string{"trigger"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Workflow runs finished, by terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Workflow run duration",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"status"},
		),
		runsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Background runs currently supervised",
			},
		),
		stepsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Step executions, by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		policyRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_rejections_total",
				Help:      "Steps rejected by the policy engine, by reason",
			},
			[]string{"reason"},
		),
		checkpointsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_created_total",
				Help:      "Checkpoint review requests created",
			},
		),
		checkpointsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_resolved_total",
				Help:      "Checkpoint review requests resolved, by decision",
			},
			[]string{"decision"},
		),
		deadLetters: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_letters_total",
				Help:      "Dead-letter entries appended",
			},
		),
	}
}

// RecordRunStarted counts a run start.
func (c *Collector) RecordRunStarted(trigger string) {
	c.runsStarted.WithLabelValues(trigger).Inc()
	c.runsInFlight.Inc()
}

// RecordRunFinished counts a run end and observes its duration.
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.runsInFlight.Dec()
}

// RecordStep counts one executed step.
func (c *Collector) RecordStep(kind, status string) {
	c.stepsExecuted.WithLabelValues(kind, status).Inc()
}

// RecordPolicyRejection counts a policy rejection.
func (c *Collector) RecordPolicyRejection(reason string) {
	c.policyRejections.WithLabelValues(reason).Inc()
}

// RecordCheckpointCreated counts a created review request.
func (c *Collector) RecordCheckpointCreated() {
	c.checkpointsCreated.Inc()
}

// RecordCheckpointResolved counts a resolved review request.
func (c *Collector) RecordCheckpointResolved(decision string) {
	c.checkpointsResolved.WithLabelValues(decision).Inc()
}

// RecordDeadLetter counts an appended dead-letter entry.
func (c *Collector) RecordDeadLetter() {
	c.deadLetters.Inc()
}
