// Package metrics provides Prometheus metrics export for the agent engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements agent.Recorder over a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls   *prometheus.CounterVec
	llmLatency prometheus.Histogram

	toolCalls *prometheus.CounterVec

	guardRejections *prometheus.CounterVec

	runs       *prometheus.CounterVec
	runLatency prometheus.Histogram
}

// New creates a Metrics with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "llm_calls_total",
			Help:      "Planner LLM calls by outcome.",
		}, []string{"outcome"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearth",
			Name:      "llm_call_duration_seconds",
			Help:      "Planner LLM call latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "tool_calls_total",
			Help:      "Backend tool calls by tool and status.",
		}, []string{"tool", "status"}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "guard_rejections_total",
			Help:      "Finish candidates blocked by the completion guard.",
		}, []string{"intent"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "runs_total",
			Help:      "Engine runs by architecture.",
		}, []string{"arch"}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hearth",
			Name:      "run_duration_seconds",
			Help:      "End-to-end engine run latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}

	registry.MustRegister(m.llmCalls, m.llmLatency, m.toolCalls, m.guardRejections, m.runs, m.runLatency)
	return m
}

// RecordLLMCall records one planner LLM call.
func (m *Metrics) RecordLLMCall(duration time.Duration, timedOut bool) {
	outcome := "ok"
	if timedOut {
		outcome = "timeout"
	}
	m.llmCalls.WithLabelValues(outcome).Inc()
	m.llmLatency.Observe(duration.Seconds())
}

// RecordToolCall records one backend tool call.
func (m *Metrics) RecordToolCall(tool string, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordGuardRejection records a finish candidate blocked by the guard.
func (m *Metrics) RecordGuardRejection(intent string) {
	m.guardRejections.WithLabelValues(intent).Inc()
}

// RecordRun records one completed engine run.
func (m *Metrics) RecordRun(arch string, duration time.Duration) {
	m.runs.WithLabelValues(arch).Inc()
	m.runLatency.Observe(duration.Seconds())
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
