package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/tracing"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/tools"
)

// ToolCall records one tool invocation made during a turn.
type ToolCall struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"input"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// AgentResponse is the result of a successful turn.
type AgentResponse struct {
	Content   string     `json:"content"`
	AgentID   string     `json:"agent_id"`
	Model     string     `json:"model"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	CreatedAt time.Time  `json:"created_at"`
}

// MetricsCollector receives per-turn and per-tool measurements.
type MetricsCollector interface {
	RecordAgentTurn(model, status string, duration time.Duration, usage Usage)
	RecordToolCall(tool string, failed bool, duration time.Duration)
}

// Runner executes agent turns. It is safe for concurrent use.
type Runner struct {
	provider Provider
	registry *tools.Registry
	logger   *slog.Logger
	limiter  *rate.Limiter
	tracer   trace.Tracer
	metrics  MetricsCollector

	mu     sync.Mutex
	active map[string]map[*turn]struct{}
}

type turn struct {
	agent     *Agent
	cancel    context.CancelFunc
	cancelled bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithToolRegistry sets the registry agent tool names are resolved against.
func WithToolRegistry(registry *tools.Registry) Option {
	return func(r *Runner) {
		r.registry = registry
	}
}

// WithRateLimit limits model calls to rps per second with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Runner) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracer sets the tracer used for agent turn spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// NewRunner creates a Runner that calls provider for model completions.
func NewRunner(provider Provider, opts ...Option) *Runner {
	registry, _ := tools.NewRegistry()
	r := &Runner{
		provider: provider,
		registry: registry,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		active:   make(map[string]map[*turn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tools returns the runner's tool registry.
func (r *Runner) Tools() *tools.Registry {
	return r.registry
}

type turnOptions struct {
	memory   Memory
	metadata map[string]any
}

// TurnOption configures a single Run call.
type TurnOption func(*turnOptions)

// WithMemory makes the turn read from and append to mem.
func WithMemory(mem Memory) TurnOption {
	return func(o *turnOptions) {
		o.memory = mem
	}
}

// WithTurnContext attaches caller data to the turn. It is logged and traced
// but not sent to the model.
func WithTurnContext(data map[string]any) TurnOption {
	return func(o *turnOptions) {
		o.metadata = data
	}
}

// Run executes one turn of agent a for message. Errors are returned to the
// caller after the agent status has been set to failed.
func (r *Runner) Run(ctx context.Context, a *Agent, message string, opts ...TurnOption) (*AgentResponse, error) {
	if a == nil {
		return nil, &errors.ValidationError{Field: "agent", Message: "agent is required"}
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}

	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := a.Config.WithDefaults()
	ctx, t, release := r.begin(ctx, a, cfg)
	defer release()

	ctx, span := tracing.StartAgentTurn(ctx, r.tracer, a.ID, cfg.Model)
	defer span.End()

	logger := log.WithAgentContext(r.logger, a.ID, cfg.Model)
	if len(o.metadata) > 0 {
		logger = logger.With("turn_context", o.metadata)
	}
	start := time.Now()

	resp, err := r.execute(ctx, a, cfg, message, o.memory, logger)
	duration := time.Since(start)

	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		err = r.classify(ctx, a, cfg, err)
		span.RecordError(err)
	} else {
		span.SetStatus(tracing.StatusOK, "")
	}
	r.finish(t, status)

	if r.metrics != nil {
		var usage Usage
		if resp != nil {
			usage = resp.Usage
		}
		r.metrics.RecordAgentTurn(cfg.Model, string(status), duration, usage)
	}

	if err != nil {
		logger.Warn("agent turn failed", log.DurationKey, duration.Milliseconds(), "error", err)
		return nil, err
	}
	logger.Debug("agent turn completed",
		log.DurationKey, duration.Milliseconds(),
		"tool_calls", len(resp.ToolCalls),
		"total_tokens", resp.Usage.TotalTokens)
	return resp, nil
}

// execute builds the conversation and runs the model/tool loop.
func (r *Runner) execute(ctx context.Context, a *Agent, cfg Config, message string, mem Memory, logger *slog.Logger) (*AgentResponse, error) {
	var messages []Message
	if mem != nil {
		messages = mem.Messages(0)
	}
	messages = append(messages, Message{Role: RoleUser, Content: message, Timestamp: time.Now()})

	if mem != nil {
		mem.AddMessage(RoleUser, message)
	}

	agentTools := r.toolsFor(a, logger)
	req := &Request{
		Model:       cfg.Model,
		Messages:    messages,
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Tools:       agentTools.Descriptors(),
	}

	result := &AgentResponse{AgentID: a.ID, Model: cfg.Model}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		log.Trace(ctx, logger, "model request",
			slog.Int("iteration", iteration),
			slog.Int("messages", len(req.Messages)),
			slog.Int("tools", len(req.Tools)))
		resp, err := r.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Usage.add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			result.CreatedAt = time.Now()
			if mem != nil {
				mem.AddMessage(RoleAssistant, resp.Content)
			}
			return result, nil
		}

		req.Messages = append(req.Messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Timestamp: time.Now(),
		})
		for _, call := range resp.ToolCalls {
			tc := r.executeTool(ctx, agentTools, call.ID, call.Name, call.Arguments)
			result.ToolCalls = append(result.ToolCalls, tc)
			req.Messages = append(req.Messages, Message{
				Role:       RoleTool,
				Content:    formatToolResult(tc),
				ToolCallID: tc.ID,
				Timestamp:  time.Now(),
			})
		}
	}

	return nil, fmt.Errorf("agent %s: max iterations (%d) reached without a final answer", a.ID, cfg.MaxIterations)
}

// complete waits for the rate limiter and calls the provider.
func (r *Runner) complete(ctx context.Context, req *Request) (*Response, error) {
	if r.provider == nil {
		return nil, &errors.ConfigError{Key: "provider", Reason: "no model provider configured"}
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := r.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("model %s returned no response", req.Model)
	}
	return resp, nil
}

// ExecuteTool runs one tool from the agent's tool set. A missing tool or a
// tool failure is reported on the returned record, never as an error.
func (r *Runner) ExecuteTool(ctx context.Context, a *Agent, name string, input map[string]any) ToolCall {
	return r.executeTool(ctx, r.toolsFor(a, r.logger), "", name, input)
}

func (r *Runner) executeTool(ctx context.Context, set *tools.Registry, id, name string, input map[string]any) ToolCall {
	if id == "" {
		id = "call_" + shortHex(8)
	}
	start := time.Now()
	tc := ToolCall{ID: id, ToolName: name, Input: input}

	tool, err := set.Get(name)
	if err != nil {
		tc.Error = fmt.Sprintf("Tool '%s' not found", name)
		r.recordTool(name, true, time.Since(start))
		return tc
	}

	out, err := tool.Execute(ctx, input)
	tc.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		tc.Error = err.Error()
	} else {
		tc.Output = out
	}
	r.recordTool(name, err != nil, time.Since(start))
	return tc
}

func (r *Runner) recordTool(name string, failed bool, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordToolCall(name, failed, d)
	}
}

// toolsFor resolves an agent's tool names against the runner registry.
// Names that are not registered are left out.
func (r *Runner) toolsFor(a *Agent, logger *slog.Logger) *tools.Registry {
	known := make([]string, 0, len(a.Tools))
	for _, name := range a.Tools {
		if r.registry != nil && r.registry.Has(name) {
			known = append(known, name)
		} else {
			logger.Warn("agent references unknown tool", "agent_id", a.ID, "tool", name)
		}
	}
	if r.registry == nil {
		empty, _ := tools.NewRegistry()
		return empty
	}
	set, err := r.registry.Filter(known)
	if err != nil {
		// A tool was unregistered between Has and Filter.
		empty, _ := tools.NewRegistry()
		return empty
	}
	return set
}

// begin marks the agent running and registers the turn for cancellation.
func (r *Runner) begin(ctx context.Context, a *Agent, cfg Config) (context.Context, *turn, func()) {
	var cancel context.CancelFunc
	if cfg.TimeoutMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout())
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	t := &turn{agent: a, cancel: cancel}

	r.mu.Lock()
	turns, ok := r.active[a.ID]
	if !ok {
		turns = make(map[*turn]struct{})
		r.active[a.ID] = turns
	}
	turns[t] = struct{}{}
	r.mu.Unlock()

	a.setStatus(StatusRunning)

	return ctx, t, func() {
		r.mu.Lock()
		if turns, ok := r.active[a.ID]; ok {
			delete(turns, t)
			if len(turns) == 0 {
				delete(r.active, a.ID)
			}
		}
		r.mu.Unlock()
		cancel()
	}
}

// finish sets the terminal status unless the turn was cancelled.
func (r *Runner) finish(t *turn, status Status) {
	r.mu.Lock()
	cancelled := t.cancelled
	r.mu.Unlock()
	if !cancelled {
		t.agent.setStatus(status)
	}
}

// classify turns context errors into the error taxonomy.
func (r *Runner) classify(ctx context.Context, a *Agent, cfg Config, err error) error {
	if ctx.Err() == context.DeadlineExceeded && cfg.TimeoutMs > 0 {
		return &errors.DelegateTimeoutError{
			Operation: "agent " + a.ID,
			Timeout:   cfg.Timeout(),
			Cause:     err,
		}
	}
	return err
}

// Cancel stops every in-flight turn of the agent and returns it to idle.
// It reports whether any turn was running.
func (r *Runner) Cancel(agentID string) bool {
	r.mu.Lock()
	turns, ok := r.active[agentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	var a *Agent
	for t := range turns {
		t.cancelled = true
		t.cancel()
		a = t.agent
	}
	r.mu.Unlock()

	a.setStatus(StatusIdle)
	r.logger.Info("agent cancelled", "agent_id", agentID)
	return true
}

// IsRunning reports whether the agent has a turn in flight.
func (r *Runner) IsRunning(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[agentID]
	return ok
}

// ActiveAgents returns the ids of agents with turns in flight.
func (r *Runner) ActiveAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// formatToolResult formats a tool call for the tool message sent back to the
// model.
func formatToolResult(tc ToolCall) string {
	if tc.Error != "" {
		return fmt.Sprintf("Error executing %s: %s", tc.ToolName, tc.Error)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tool %s completed successfully", tc.ToolName)
	if tc.Output != nil {
		fmt.Fprintf(&b, ": %v", tc.Output)
	}
	return b.String()
}
