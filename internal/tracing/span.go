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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatusCode mirrors the OpenTelemetry span status without leaking the otel
// codes package to callers.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// Span wraps an OpenTelemetry span with run, step and agent helpers.
// A nil *Span is safe to use.
type Span struct {
	span trace.Span
}

// StartWorkflowRun creates the root span for a workflow run.
func StartWorkflowRun(ctx context.Context, tracer trace.Tracer, runID, workflowID, workflowName string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("workflow.run: %s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.name", workflowName),
			attribute.String("workflow.run_id", runID),
			attribute.String("span.type", "workflow.run"),
		),
	)
	return ctx, &Span{span: span}
}

// StartGroup creates a span for one parallel group of a run.
func StartGroup(ctx context.Context, tracer trace.Tracer, index int, stepIDs []string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("group: %d", index),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("group.index", index),
			attribute.StringSlice("group.steps", stepIDs),
			attribute.String("span.type", "workflow.group"),
		),
	)
	return ctx, &Span{span: span}
}

// StartStep creates a span for a step execution. kind is "agent" or the
// action name.
func StartStep(ctx context.Context, tracer trace.Tracer, stepID, kind string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step: %s", stepID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.type", kind),
			attribute.String("span.type", "workflow.step"),
		),
	)
	return ctx, &Span{span: span}
}

// StartAgentTurn creates a span for one agent turn.
func StartAgentTurn(ctx context.Context, tracer trace.Tracer, agentID, model string) (context.Context, *Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("agent.turn: %s", agentID),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("llm.model", model),
			attribute.String("span.type", "agent.turn"),
		),
	)
	return ctx, &Span{span: span}
}

// SetAttributes adds key-value attributes to the span.
func (s *Span) SetAttributes(attrs map[string]any) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(toAttributes(attrs)...)
}

// AddEvent records a timestamped event within the span.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(toAttributes(attrs)...))
}

// RecordError records err and marks the span failed.
func (s *Span) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the span's final status.
func (s *Span) SetStatus(code StatusCode, message string) {
	if s == nil || s.span == nil {
		return
	}
	switch code {
	case StatusOK:
		s.span.SetStatus(codes.Ok, message)
	case StatusError:
		s.span.SetStatus(codes.Error, message)
	default:
		s.span.SetStatus(codes.Unset, message)
	}
}

// End marks the span as complete.
func (s *Span) End() {
	if s == nil || s.span == nil {
		return
	}
	s.span.End()
}

// TraceID returns the trace ID as a string, or "" when the span is not
// being recorded by a real provider.
func (s *Span) TraceID() string {
	if s == nil || s.span == nil {
		return ""
	}
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
