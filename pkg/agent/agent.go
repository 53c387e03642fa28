// Package agent runs single request/response turns for configured LLM agents.
//
// A Runner builds the model request from an Agent's configuration, optional
// conversation Memory and the agent's tools, calls the model Provider, runs
// any tool calls the model asks for and records the turn in memory. Each
// in-flight turn is tracked so it can be cancelled by agent id.
package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/stepflow/pkg/errors"
)

// Status is the lifecycle state of an agent invocation.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Config holds the model parameters of an agent.
type Config struct {
	// Model is the model id passed to the provider.
	// Default: claude-3-sonnet
	Model string `yaml:"model" json:"model"`

	// SystemPrompt is sent as the system message of every turn.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt,omitempty"`

	// MaxTokens caps the response length.
	// Default: 4096
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// Temperature is the sampling temperature.
	// Default: 0.7
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxIterations bounds the model/tool loop of a single turn.
	// Default: 25
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// TimeoutMs bounds a whole turn. Negative disables the limit.
	// Default: 120000
	TimeoutMs int `yaml:"timeout_ms" json:"timeout_ms"`

	// Streaming selects streaming responses when the provider supports them.
	Streaming bool `yaml:"streaming" json:"streaming"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		Model:         "claude-3-sonnet",
		MaxTokens:     4096,
		Temperature:   0.7,
		MaxIterations: 25,
		TimeoutMs:     120000,
	}
}

// WithDefaults fills in missing config values with defaults. Temperature is
// left alone because zero is a valid setting.
func (c Config) WithDefaults() Config {
	return c.WithFallback(DefaultConfig())
}

// WithFallback fills zero fields other than Temperature from d.
func (c Config) WithFallback(d Config) Config {
	result := c
	if result.Model == "" {
		result.Model = d.Model
	}
	if result.MaxTokens == 0 {
		result.MaxTokens = d.MaxTokens
	}
	if result.MaxIterations == 0 {
		result.MaxIterations = d.MaxIterations
	}
	if result.TimeoutMs == 0 {
		result.TimeoutMs = d.TimeoutMs
	}
	return result
}

// Timeout returns TimeoutMs as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Agent is a configured LLM-backed actor.
type Agent struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Config      Config         `yaml:"config" json:"config"`
	Tools       []string       `yaml:"tools" json:"tools,omitempty"`
	Metadata    map[string]any `yaml:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time      `yaml:"-" json:"created_at"`

	mu     sync.Mutex
	status Status
}

// New creates an idle agent with a generated id and default config.
func New(name string) *Agent {
	return &Agent{
		ID:        NewID(),
		Name:      name,
		Config:    DefaultConfig(),
		Metadata:  map[string]any{},
		CreatedAt: time.Now(),
		status:    StatusIdle,
	}
}

// NewID returns a fresh agent id of the form agent_<12 hex>.
func NewID() string {
	return "agent_" + shortHex(12)
}

// WithConfig sets the agent configuration.
func (a *Agent) WithConfig(cfg Config) *Agent {
	a.Config = cfg
	return a
}

// WithTools sets the names of the tools the agent may call.
func (a *Agent) WithTools(names ...string) *Agent {
	a.Tools = names
	return a
}

// Status returns the agent's current status. A zero value agent reports idle.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == "" {
		return StatusIdle
	}
	return a.status
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Validate checks the fields a Runner depends on.
func (a *Agent) Validate() error {
	if a.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "agent id is required"}
	}
	if a.Config.Temperature < 0 || a.Config.Temperature > 2 {
		return &errors.ValidationError{
			Field:      "config.temperature",
			Message:    "temperature must be between 0 and 2",
			Suggestion: "use a value such as 0.7",
		}
	}
	if a.Config.MaxTokens < 0 {
		return &errors.ValidationError{Field: "config.max_tokens", Message: "max_tokens cannot be negative"}
	}
	return nil
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}
