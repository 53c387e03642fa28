package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/pkg/agent"
	"github.com/tombee/stepflow/pkg/errors"
)

func TestRunnerDelegate(t *testing.T) {
	runner := agent.NewRunner(agent.EchoProvider{}, agent.WithLogger(log.Discard()))
	a := agent.New("echoer")
	d := NewRunnerDelegate(runner, a)

	out, err := d.RunAgent(context.Background(), a.ID, "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", out)

	_, err = d.RunAgent(context.Background(), "agent_missing", "ping")
	assert.True(t, errors.IsNotFound(err))

	got, ok := d.Agent(a.ID)
	assert.True(t, ok)
	assert.Same(t, a, got)
}

func TestRunnerDelegate_Memory(t *testing.T) {
	runner := agent.NewRunner(agent.EchoProvider{}, agent.WithLogger(log.Discard()))
	a := agent.New("remembers")
	mem := agent.NewConversationMemory(0)

	d := NewRunnerDelegate(runner)
	d.Add(a, mem)

	_, err := d.RunAgent(context.Background(), a.ID, "first")
	require.NoError(t, err)
	_, err = d.RunAgent(context.Background(), a.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, 4, mem.Len())
}

func TestEngine_WithRunnerDelegate(t *testing.T) {
	runner := agent.NewRunner(agent.EchoProvider{}, agent.WithLogger(log.Discard()))
	writer := agent.New("writer")
	e := newTestEngine(WithAgents(NewRunnerDelegate(runner, writer)))

	w := NewWorkflow("agents",
		&Step{ID: "draft", AgentID: writer.ID, InputTemplate: "Draft about {{inputs.topic}}"},
		&Step{ID: "final", DependsOn: []string{"draft"}, InputTemplate: "[{{steps.draft.output}}]"},
	)
	run := e.Run(context.Background(), w, map[string]any{"topic": "queues"})

	require.Equal(t, RunStatusCompleted, run.Status, run.Error)
	assert.Equal(t, "Draft about queues", run.Outputs["draft"])
	assert.Equal(t, "[Draft about queues]", run.Outputs["final"])
	assert.Equal(t, agent.StatusCompleted, writer.Status())
}
