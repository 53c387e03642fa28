package workflow

import (
	"context"
	"sync"

	"github.com/tombee/stepflow/pkg/agent"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow/action"
)

// AgentDelegate runs an agent turn on behalf of an agent step.
type AgentDelegate interface {
	RunAgent(ctx context.Context, agentID, input string) (any, error)
}

// AgentFunc adapts a function to AgentDelegate.
type AgentFunc func(ctx context.Context, agentID, input string) (any, error)

// RunAgent implements AgentDelegate.
func (f AgentFunc) RunAgent(ctx context.Context, agentID, input string) (any, error) {
	return f(ctx, agentID, input)
}

// ActionDispatcher runs the handler for a non-agent step.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req action.Request) (any, error)
}

// RunnerDelegate routes agent steps to an agent.Runner. Agents are looked up
// by ID; each may carry its own conversation memory that persists across
// runs. The step output is the text of the agent's final answer.
type RunnerDelegate struct {
	runner *agent.Runner

	mu       sync.RWMutex
	agents   map[string]*agent.Agent
	memories map[string]agent.Memory
}

// NewRunnerDelegate creates a delegate serving the given agents.
func NewRunnerDelegate(runner *agent.Runner, agents ...*agent.Agent) *RunnerDelegate {
	d := &RunnerDelegate{
		runner:   runner,
		agents:   make(map[string]*agent.Agent),
		memories: make(map[string]agent.Memory),
	}
	for _, a := range agents {
		d.Add(a, nil)
	}
	return d
}

// Add makes a available to steps, replacing any agent with the same ID.
// mem may be nil.
func (d *RunnerDelegate) Add(a *agent.Agent, mem agent.Memory) {
	if a == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
	if mem != nil {
		d.memories[a.ID] = mem
	} else {
		delete(d.memories, a.ID)
	}
}

// Agent returns the agent registered under id.
func (d *RunnerDelegate) Agent(id string) (*agent.Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	return a, ok
}

// RunAgent implements AgentDelegate.
func (d *RunnerDelegate) RunAgent(ctx context.Context, agentID, input string) (any, error) {
	d.mu.RLock()
	a, ok := d.agents[agentID]
	mem := d.memories[agentID]
	d.mu.RUnlock()

	if !ok {
		return nil, &errors.NotFoundError{Resource: "agent", ID: agentID}
	}

	var opts []agent.TurnOption
	if mem != nil {
		opts = append(opts, agent.WithMemory(mem))
	}

	resp, err := d.runner.Run(ctx, a, input, opts...)
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}
