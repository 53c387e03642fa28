package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/tracing"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow/action"
	"github.com/tombee/stepflow/pkg/workflow/expression"
)

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *WorkflowRun) error
}

// MetricsCollector receives run and step measurements.
type MetricsCollector interface {
	RecordRunStart(workflowID string)
	RecordRunComplete(workflowID string, status RunStatus, duration time.Duration)
	RecordStepComplete(workflowID, stepID string, status StepStatus, attempts int, duration time.Duration)
}

// Engine executes workflows. Steps run in dependency layers: layers run one
// after another and the steps within a layer run concurrently. A failed step
// stops the run once its layer has finished. Safe for concurrent use; each
// run is independent.
type Engine struct {
	agents      AgentDelegate
	actions     ActionDispatcher
	store       RunStore
	eval        *expression.Evaluator
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     MetricsCollector
	maxParallel int
	retryDelay  time.Duration
	stepTimeout time.Duration
	saveTimeout time.Duration

	mu     sync.RWMutex
	active map[string]*activeRun
}

type activeRun struct {
	run    *WorkflowRun
	cancel context.CancelFunc
	done   chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAgents sets the delegate used for agent steps.
func WithAgents(d AgentDelegate) EngineOption {
	return func(e *Engine) { e.agents = d }
}

// WithActions sets the dispatcher used for non-agent steps. Defaults to
// action.NewDefaultRegistry().
func WithActions(d ActionDispatcher) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.actions = d
		}
	}
}

// WithStore sets where finished runs are saved.
func WithStore(s RunStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithTracer sets the tracer. Defaults to a no-op tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxParallel bounds how many steps of one layer run at once. Zero or
// negative means unbounded.
func WithMaxParallel(n int) EngineOption {
	return func(e *Engine) { e.maxParallel = n }
}

// WithRetryDelay sets the pause between attempts of a failing step.
func WithRetryDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}

// WithDefaultStepTimeout sets the timeout for steps whose TimeoutMs is zero.
// Zero or negative disables it.
func WithDefaultStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// NewEngine creates an engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		actions:     action.NewDefaultRegistry(),
		eval:        expression.New(),
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer(tracing.InstrumentationName),
		stepTimeout: DefaultStepTimeoutMs * time.Millisecond,
		saveTimeout: 10 * time.Second,
		active:      make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.WithComponent(e.logger, "engine")
	return e
}

// RunHandle refers to a run started with Start.
type RunHandle struct {
	// ID is the run's ID
	ID string

	ar *activeRun
}

// Done is closed when the run has finished.
func (h *RunHandle) Done() <-chan struct{} { return h.ar.done }

// Wait blocks until the run finishes or ctx ends, then returns the final run.
func (h *RunHandle) Wait(ctx context.Context) (*WorkflowRun, error) {
	select {
	case <-h.ar.done:
		return h.ar.run.clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes w to completion and returns the finished run. It never
// returns an error: problems are recorded on the run, which ends completed,
// failed or cancelled.
//
// inputs may be nil. Cancelling ctx cancels the run.
func (e *Engine) Run(ctx context.Context, w *Workflow, inputs map[string]any) *WorkflowRun {
	runCtx, ar := e.begin(ctx, w, inputs)
	e.execute(runCtx, ar, w)
	return ar.run.clone()
}

// Start launches w in the background and returns immediately. The run is
// visible through GetRun until it finishes.
func (e *Engine) Start(ctx context.Context, w *Workflow, inputs map[string]any) *RunHandle {
	runCtx, ar := e.begin(ctx, w, inputs)
	go e.execute(runCtx, ar, w)
	return &RunHandle{ID: ar.run.ID, ar: ar}
}

func (e *Engine) begin(ctx context.Context, w *Workflow, inputs map[string]any) (context.Context, *activeRun) {
	run := &WorkflowRun{
		ID:          NewRunID(),
		Status:      RunStatusRunning,
		Inputs:      copyMap(inputs),
		StepResults: []StepResult{},
		StartedAt:   time.Now(),
	}
	if w != nil {
		run.WorkflowID = w.ID
	}

	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{run: run, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.active[run.ID] = ar
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordRunStart(run.WorkflowID)
	}
	return runCtx, ar
}

func (e *Engine) execute(ctx context.Context, ar *activeRun, w *Workflow) {
	run := ar.run
	var name string
	if w != nil {
		name = w.Name
	}
	logger := log.WithRunContext(e.logger, run.ID, run.WorkflowID, name)

	ctx, span := tracing.StartWorkflowRun(ctx, e.tracer, run.ID, run.WorkflowID, name)
	if id := span.TraceID(); id != "" {
		logger = logger.With("trace_id", id)
	}

	defer func() {
		if r := recover(); r != nil {
			e.fail(ctx, run, fmt.Sprintf("panic during workflow execution: %v", r))
		}
		e.finish(ctx, ar, logger, span)
	}()

	logger.Info("workflow run started")

	if err := w.Validate(); err != nil {
		logger.Warn("workflow is not runnable", log.Error(err))
		e.fail(ctx, run, err.Error())
		return
	}

	groups, err := w.ExecutionOrder()
	if err != nil {
		e.fail(ctx, run, err.Error())
		return
	}

	inputs := copyMap(run.Inputs)
	outputs := make(map[string]any)

	for i, group := range groups {
		if ctx.Err() != nil {
			e.fail(ctx, run, ctx.Err().Error())
			return
		}

		results := e.runGroup(ctx, run, w, i, group, inputs, outputs, logger)

		var firstErr string
		e.mu.Lock()
		if run.Status.IsTerminal() {
			// Cancelled while the group was in flight; the record is final.
			e.mu.Unlock()
			return
		}
		for _, res := range results {
			run.StepResults = append(run.StepResults, res)
			switch res.Status {
			case StepStatusCompleted:
				outputs[res.StepID] = res.Output
			case StepStatusFailed:
				if firstErr == "" {
					firstErr = res.Error
				}
			}
		}
		e.mu.Unlock()

		if firstErr != "" {
			e.fail(ctx, run, firstErr)
			return
		}
	}

	e.mu.Lock()
	if run.Status == RunStatusRunning {
		run.Status = RunStatusCompleted
		run.Outputs = outputs
	}
	e.mu.Unlock()
}

// runGroup executes one layer and returns its results in layer order. Each
// step sees a snapshot of the outputs recorded before the layer started.
func (e *Engine) runGroup(ctx context.Context, run *WorkflowRun, w *Workflow, index int, group []string, inputs, outputs map[string]any, logger *slog.Logger) []StepResult {
	ctx, span := tracing.StartGroup(ctx, e.tracer, index, group)
	defer span.End()

	logger.Debug("executing step group", "group", index, "steps", group)

	snapshot := copyMap(outputs)
	results := make([]StepResult, len(group))

	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, id := range group {
		g.Go(func() error {
			results[i] = e.executeStep(ctx, run, w.Step(id), inputs, snapshot, logger)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fail marks the run failed with msg unless it already reached a terminal
// state. A run whose context was cancelled is marked cancelled instead.
func (e *Engine) fail(ctx context.Context, run *WorkflowRun, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if run.Status != RunStatusRunning {
		return
	}
	if ctx.Err() != nil {
		run.Status = RunStatusCancelled
		if run.Error == "" {
			run.Error = "run cancelled"
		}
		return
	}
	run.Status = RunStatusFailed
	run.Error = msg
}

func (e *Engine) finish(ctx context.Context, ar *activeRun, logger *slog.Logger, span *tracing.Span) {
	run := ar.run

	e.mu.Lock()
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now()
	}
	delete(e.active, run.ID)
	final := run.clone()
	e.mu.Unlock()

	ar.cancel()

	span.SetAttributes(map[string]any{"run.status": string(final.Status)})
	if final.Status == RunStatusCompleted {
		span.SetStatus(tracing.StatusOK, "")
	} else {
		span.SetStatus(tracing.StatusError, final.Error)
	}
	span.End()

	if e.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.saveTimeout)
		if err := e.store.SaveRun(saveCtx, final); err != nil {
			logger.Error("failed to save workflow run", log.Error(err))
		}
		cancel()
	}

	if e.metrics != nil {
		e.metrics.RecordRunComplete(final.WorkflowID, final.Status, time.Duration(final.DurationMs())*time.Millisecond)
	}

	attrs := []any{"status", final.Status, log.DurationKey, final.DurationMs(), "steps", len(final.StepResults)}
	if final.Error != "" {
		attrs = append(attrs, "error", final.Error)
	}
	if final.Status == RunStatusCompleted {
		logger.Info("workflow run finished", attrs...)
	} else {
		logger.Warn("workflow run finished", attrs...)
	}

	close(ar.done)
}

// Cancel stops an active run. Steps in flight see their context cancelled;
// no further layers start. It reports whether the run was active.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	ar, ok := e.active[runID]
	if ok && ar.run.Status == RunStatusRunning {
		ar.run.Status = RunStatusCancelled
		ar.run.Error = "run cancelled"
		ar.run.CompletedAt = time.Now()
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	ar.cancel()
	e.logger.Info("workflow run cancelled", log.RunIDKey, runID)
	return true
}

// GetRun returns a snapshot of an active run. Finished runs are no longer
// tracked here; look them up in the run store.
func (e *Engine) GetRun(runID string) (*WorkflowRun, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ar, ok := e.active[runID]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	return ar.run.clone(), nil
}

// ListActive returns snapshots of all active runs, oldest first.
func (e *Engine) ListActive() []*WorkflowRun {
	e.mu.RLock()
	runs := make([]*WorkflowRun, 0, len(e.active))
	for _, ar := range e.active {
		runs = append(runs, ar.run.clone())
	}
	e.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs
}
