// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for workflow runs, steps,
// agent turns and tool calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/stepflow/pkg/agent"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ workflow.MetricsCollector = (*Collector)(nil)
	_ agent.MetricsCollector    = (*Collector)(nil)
)

// Collector records engine and runner measurements.
type Collector struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepAttempts prometheus.Histogram
	agentTurns   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	tokensTotal  *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

// New creates a collector backed by its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_runs_started_total",
				Help: "Total workflow runs started",
			},
			[]string{"workflow_id"},
		),
		runsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stepflow_workflow_runs_active",
			Help: "Workflow runs currently executing",
		}),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_runs_total",
				Help: "Total finished workflow runs by terminal status",
			},
			[]string{"workflow_id", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_workflow_run_duration_seconds",
				Help:    "Workflow run wall time",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"status"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_workflow_steps_total",
				Help: "Total finished steps by status",
			},
			[]string{"workflow_id", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_workflow_step_duration_seconds",
				Help:    "Step wall time including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		stepAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepflow_workflow_step_attempts",
			Help:    "Attempts used by steps that ran",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),
		agentTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_agent_turns_total",
				Help: "Total agent turns by model and status",
			},
			[]string{"model", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_agent_turn_duration_seconds",
				Help:    "Agent turn wall time",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"model"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_agent_tokens_total",
				Help: "Tokens consumed by agent turns",
			},
			[]string{"model", "direction"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stepflow_tool_calls_total",
				Help: "Total tool invocations by outcome",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stepflow_tool_call_duration_seconds",
				Help:    "Tool invocation wall time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteFile writes the current values in the Prometheus text format, for
// the node_exporter textfile collector.
func (c *Collector) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}

// RecordRunStart implements workflow.MetricsCollector.
func (c *Collector) RecordRunStart(workflowID string) {
	c.runsStarted.WithLabelValues(workflowID).Inc()
	c.runsActive.Inc()
}

// RecordRunComplete implements workflow.MetricsCollector.
func (c *Collector) RecordRunComplete(workflowID string, status workflow.RunStatus, duration time.Duration) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(workflowID, string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordStepComplete implements workflow.MetricsCollector.
func (c *Collector) RecordStepComplete(workflowID, stepID string, status workflow.StepStatus, attempts int, duration time.Duration) {
	c.stepsTotal.WithLabelValues(workflowID, string(status)).Inc()
	c.stepDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
	if attempts > 0 {
		c.stepAttempts.Observe(float64(attempts))
	}
}

// RecordAgentTurn implements agent.MetricsCollector.
func (c *Collector) RecordAgentTurn(model, status string, duration time.Duration, usage agent.Usage) {
	c.agentTurns.WithLabelValues(model, status).Inc()
	c.turnDuration.WithLabelValues(model).Observe(duration.Seconds())
	if usage.InputTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		c.tokensTotal.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	}
}

// RecordToolCall implements agent.MetricsCollector.
func (c *Collector) RecordToolCall(tool string, failed bool, duration time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
	c.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
