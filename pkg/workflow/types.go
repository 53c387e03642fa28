package workflow

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultStepTimeoutMs is the per-attempt timeout applied to steps that do not
// set one.
const DefaultStepTimeoutMs = 60000

// StepStatus represents the execution status of a workflow step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started yet.
	StepStatusPending StepStatus = "pending"
	// StepStatusRunning indicates the step is currently executing.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted indicates the step produced an output.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step exhausted its attempts.
	StepStatusFailed StepStatus = "failed"
	// StepStatusSkipped indicates the step's condition evaluated to false.
	StepStatusSkipped StepStatus = "skipped"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether a run in this state will not change again.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// WorkflowStatus is the administrative state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Step is a single unit of work in a workflow.
type Step struct {
	// ID uniquely identifies the step within its workflow
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable label
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// AgentID routes the step to the agent runner
	AgentID string `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`

	// Action names the action handler used when AgentID is empty.
	// Steps with neither run the "echo" action.
	Action string `yaml:"action,omitempty" json:"action,omitempty"`

	// InputTemplate is rendered with {{inputs.KEY}} and {{steps.ID.output}}
	// placeholders before the step is dispatched
	InputTemplate string `yaml:"input_template,omitempty" json:"input_template,omitempty"`

	// DependsOn lists steps that must finish before this one starts
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Condition gates execution; empty means always run
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`

	// RetryCount is the number of additional attempts after a failure
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// TimeoutMs bounds each attempt
	TimeoutMs int `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`

	// Metadata carries handler-specific settings such as the jq query
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Timeout returns the per-attempt timeout. Zero means the engine default.
func (s *Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// kind names the dispatch route for logs and spans.
func (s *Step) kind() string {
	if s.AgentID != "" {
		return "agent"
	}
	if s.Action != "" {
		return s.Action
	}
	return "echo"
}

// Workflow is a named DAG of steps.
type Workflow struct {
	ID          string         `yaml:"id,omitempty" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []*Step        `yaml:"steps" json:"steps"`
	Status      WorkflowStatus `yaml:"status,omitempty" json:"status"`
	CreatedAt   time.Time      `yaml:"-" json:"created_at"`
	UpdatedAt   time.Time      `yaml:"-" json:"updated_at"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewWorkflow creates an active workflow with a generated ID.
func NewWorkflow(name string, steps ...*Step) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:        NewWorkflowID(),
		Name:      name,
		Steps:     steps,
		Status:    WorkflowStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *Step {
	for _, s := range w.Steps {
		if s != nil && s.ID == id {
			return s
		}
	}
	return nil
}

// StepResult records the outcome of one step within a run.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// DurationMs returns the step's wall time in milliseconds, or 0 if it has not
// finished.
func (r *StepResult) DurationMs() int64 {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// WorkflowRun is one execution of a workflow.
type WorkflowRun struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Status      RunStatus      `json:"status"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	StepResults []StepResult   `json:"step_results"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

// GetStepResult returns the result recorded for stepID, or nil.
func (r *WorkflowRun) GetStepResult(stepID string) *StepResult {
	for i := range r.StepResults {
		if r.StepResults[i].StepID == stepID {
			return &r.StepResults[i]
		}
	}
	return nil
}

// DurationMs returns the run's wall time in milliseconds. While the run is
// still going it is the time elapsed so far.
func (r *WorkflowRun) DurationMs() int64 {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.CompletedAt.IsZero() {
		return time.Since(r.StartedAt).Milliseconds()
	}
	return r.CompletedAt.Sub(r.StartedAt).Milliseconds()
}

// clone returns a copy that shares no slices or top-level maps with r.
func (r *WorkflowRun) clone() *WorkflowRun {
	c := *r
	c.Inputs = copyMap(r.Inputs)
	if r.Outputs != nil {
		c.Outputs = copyMap(r.Outputs)
	}
	c.StepResults = append([]StepResult(nil), r.StepResults...)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewWorkflowID returns a workflow ID of the form wf_<12 hex>.
func NewWorkflowID() string { return "wf_" + shortHex(12) }

// NewRunID returns a run ID of the form run_<12 hex>.
func NewRunID() string { return "run_" + shortHex(12) }

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
