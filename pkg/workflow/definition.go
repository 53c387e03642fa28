// Package workflow defines workflows as DAGs of steps and executes them.
//
// A workflow file is YAML. Besides the workflow itself it may declare the
// agents its steps refer to:
//
//	name: review
//	agents:
//	  - id: reviewer
//	    name: Reviewer
//	    config:
//	      system_prompt: You review code.
//	steps:
//	  - id: fetch
//	    action: echo
//	    input_template: "{{inputs.diff}}"
//	  - id: review
//	    agent_id: reviewer
//	    depends_on: [fetch]
//	    input_template: "Review this: {{steps.fetch.output}}"
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/stepflow/pkg/agent"
)

// Definition is the parsed contents of a workflow file.
type Definition struct {
	Workflow `yaml:",inline"`

	// Agents declares the agents referenced by agent steps
	Agents []*agent.Agent `yaml:"agents,omitempty"`
}

// DefinitionOption adjusts how a definition is parsed.
type DefinitionOption func(*definitionOptions)

type definitionOptions struct {
	agentDefaults agent.Config
}

// WithAgentDefaults supplies the model settings for agents that leave them
// unset. Fields left zero in cfg fall back to agent.DefaultConfig.
func WithAgentDefaults(cfg agent.Config) DefinitionOption {
	return func(o *definitionOptions) {
		o.agentDefaults = cfg.WithDefaults()
	}
}

// ParseDefinition parses and validates a workflow definition from YAML bytes.
func ParseDefinition(data []byte, opts ...DefinitionOption) (*Definition, error) {
	o := definitionOptions{agentDefaults: agent.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def.applyDefaults(o.agentDefaults)

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	return &def, nil
}

// LoadFile reads and parses a workflow definition from path.
func LoadFile(path string, opts ...DefinitionOption) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseDefinition(data, opts...)
}

func (d *Definition) applyDefaults(agentDefaults agent.Config) {
	if d.ID == "" {
		d.ID = NewWorkflowID()
	}
	if d.Status == "" {
		d.Status = WorkflowStatusActive
	}
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	for _, s := range d.Steps {
		if s != nil && s.TimeoutMs == 0 {
			s.TimeoutMs = DefaultStepTimeoutMs
		}
	}

	for _, a := range d.Agents {
		if a == nil {
			continue
		}
		if a.ID == "" {
			a.ID = agent.NewID()
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		a.Config = a.Config.WithFallback(agentDefaults)
		a.CreatedAt = now
	}
}

// Validate checks the workflow and its agent declarations. Every agent step
// must name a declared agent.
func (d *Definition) Validate() error {
	if err := d.Workflow.Validate(); err != nil {
		return err
	}

	declared := make(map[string]bool, len(d.Agents))
	for i, a := range d.Agents {
		if a == nil {
			return fmt.Errorf("agents[%d]: agent is nil", i)
		}
		if declared[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate agent id %q", i, a.ID)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		declared[a.ID] = true
	}

	if len(d.Agents) == 0 {
		return nil
	}
	for _, s := range d.Steps {
		if s.AgentID != "" && !declared[s.AgentID] {
			return fmt.Errorf("step %q references undeclared agent %q", s.ID, s.AgentID)
		}
	}
	return nil
}
