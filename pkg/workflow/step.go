package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/tracing"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow/action"
)

// executeStep runs one step: condition, input rendering, then dispatch with
// retries. It never panics out; a panicking delegate fails the attempt.
func (e *Engine) executeStep(ctx context.Context, run *WorkflowRun, step *Step, inputs, outputs map[string]any, runLogger *slog.Logger) (res StepResult) {
	res = StepResult{
		StepID:    step.ID,
		Status:    StepStatusRunning,
		StartedAt: time.Now(),
	}
	logger := log.WithStepContext(runLogger, step.ID)

	ctx, span := tracing.StartStep(ctx, e.tracer, step.ID, step.kind())
	defer func() {
		res.CompletedAt = time.Now()
		span.SetAttributes(map[string]any{
			"step.status":   string(res.Status),
			"step.attempts": res.Attempts,
		})
		if res.Status == StepStatusFailed {
			span.SetStatus(tracing.StatusError, res.Error)
		} else {
			span.SetStatus(tracing.StatusOK, "")
		}
		span.End()

		if e.metrics != nil {
			e.metrics.RecordStepComplete(run.WorkflowID, step.ID, res.Status, res.Attempts, res.CompletedAt.Sub(res.StartedAt))
		}
	}()

	if step.Condition != "" {
		ok, err := e.eval.Evaluate(step.Condition, inputs, outputs)
		if err != nil {
			cerr := &errors.ConditionEvaluationError{StepID: step.ID, Expression: step.Condition, Cause: err}
			logger.Warn("condition evaluation failed, running step anyway", log.Error(cerr))
			span.AddEvent("condition.error", map[string]any{"error": err.Error()})
			ok = true
		}
		if !ok {
			logger.Debug("step skipped due to condition", "condition", step.Condition)
			res.Status = StepStatusSkipped
			return res
		}
	}

	input := RenderTemplate(step.InputTemplate, inputs, outputs)
	log.Trace(ctx, logger, "rendered step input", slog.String("input", input))

	attempts := 1 + max(step.RetryCount, 0)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		out, err := e.dispatch(ctx, run, step, input, inputs)
		if err == nil {
			res.Status = StepStatusCompleted
			res.Output = out
			logger.Debug("step completed", "attempts", attempt)
			return res
		}
		lastErr = err
		span.RecordError(err)

		if ctx.Err() != nil || attempt == attempts {
			break
		}

		logger.Warn("step attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			log.Error(err))

		if e.retryDelay > 0 {
			timer := time.NewTimer(e.retryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
	}

	serr := &errors.StepExecutionError{StepID: step.ID, Attempts: res.Attempts, Cause: lastErr}
	res.Status = StepStatusFailed
	res.Error = serr.Error()
	logger.Warn("step failed", "attempts", res.Attempts, log.Error(serr))
	return res
}

// dispatch performs one attempt under the step timeout.
func (e *Engine) dispatch(ctx context.Context, run *WorkflowRun, step *Step, input string, inputs map[string]any) (out any, err error) {
	timeout := step.Timeout()
	if timeout == 0 {
		timeout = e.stepTimeout
	}

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("step %s panicked: %v", step.ID, r)
		}
	}()

	if step.AgentID != "" {
		if e.agents == nil {
			return nil, &errors.ConfigError{Key: "agents", Reason: fmt.Sprintf("no agent runner configured for step %q", step.ID)}
		}
		out, err = e.agents.RunAgent(attemptCtx, step.AgentID, input)
	} else {
		name := step.Action
		if name == "" {
			name = "echo"
		}
		out, err = e.actions.Dispatch(attemptCtx, action.Request{
			RunID:    run.ID,
			StepID:   step.ID,
			Action:   name,
			Input:    input,
			Inputs:   inputs,
			Metadata: step.Metadata,
		})
	}

	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var dte *errors.DelegateTimeoutError
		if !errors.As(err, &dte) {
			err = &errors.DelegateTimeoutError{
				Operation: fmt.Sprintf("step %s", step.ID),
				Timeout:   timeout,
				Cause:     err,
			}
		}
	}
	return out, err
}
