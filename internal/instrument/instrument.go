// Package instrument exposes the assistant's own Prometheus metrics.
package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "opsassist"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	stageFailures    *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	executions       *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Dispatcher runs by intent and outcome.",
		}, []string{"intent", "outcome"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Dispatcher run latency by intent.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"intent"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Failed pipeline stages by intent and stage.",
		}, []string{"intent", "stage"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_lookups_total",
			Help:      "Metrics cache lookups by result.",
		}, []string{"result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Finished plan executions by outcome.",
		}, []string{"outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Remote command latency by final state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
	}
	reg.MustRegister(
		m.pipelineRuns,
		m.pipelineDuration,
		m.stageFailures,
		m.cacheLookups,
		m.executions,
		m.commandDuration,
	)
	return m
}

// RunFinished records a dispatcher run.
func (m *Metrics) RunFinished(intent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(intent, outcome).Inc()
	m.pipelineDuration.WithLabelValues(intent).Observe(d.Seconds())
}

// StageFailed records a failed stage.
func (m *Metrics) StageFailed(intent, stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(intent, stage).Inc()
}

// CacheLookup records a metrics cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// CommandFinished implements executor.Observer.
func (m *Metrics) CommandFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(state).Observe(d.Seconds())
}

// ExecutionFinished implements executor.Observer.
func (m *Metrics) ExecutionFinished(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}
