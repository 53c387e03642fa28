package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/tools"
)

// scriptedProvider returns its responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []Response
	err       error
	requests  []*Request
}

func (p *scriptedProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *req
	cp.Messages = append([]Message(nil), req.Messages...)
	p.requests = append(p.requests, &cp)

	if p.err != nil {
		return nil, p.err
	}
	if len(p.requests) > len(p.responses) {
		return nil, errors.New("no more responses available")
	}
	resp := p.responses[len(p.requests)-1]
	return &resp, nil
}

// blockingProvider waits for ctx to finish.
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	close(p.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingMetrics struct {
	mu       sync.Mutex
	turns    []string
	toolRuns map[string]int
}

func (m *recordingMetrics) RecordAgentTurn(model, status string, d time.Duration, u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, status)
}

func (m *recordingMetrics) RecordToolCall(tool string, failed bool, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.toolRuns == nil {
		m.toolRuns = map[string]int{}
	}
	m.toolRuns[tool]++
}

func newTestAgent() *Agent {
	a := New("assistant")
	a.Config.SystemPrompt = "be brief"
	return a
}

func TestRunner_SimpleTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []Response{
		{Content: "hi there", Usage: Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}},
	}}
	metrics := &recordingMetrics{}
	r := NewRunner(provider, WithMetrics(metrics))
	a := newTestAgent()

	resp, err := r.Run(context.Background(), a, "hello")
	require.NoError(t, err)

	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, a.ID, resp.AgentID)
	assert.Equal(t, "claude-3-sonnet", resp.Model)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.False(t, resp.CreatedAt.IsZero())
	assert.Equal(t, StatusCompleted, a.Status())
	assert.False(t, r.IsRunning(a.ID))

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.Equal(t, "be brief", req.System)
	assert.Equal(t, 4096, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hello", req.Messages[0].Content)

	assert.Equal(t, []string{"completed"}, metrics.turns)
}

func TestRunner_MemoryOrdering(t *testing.T) {
	provider := &scriptedProvider{responses: []Response{{Content: "first"}, {Content: "second"}}}
	r := NewRunner(provider)
	a := newTestAgent()
	mem := NewConversationMemory(10)

	_, err := r.Run(context.Background(), a, "one", WithMemory(mem))
	require.NoError(t, err)
	_, err = r.Run(context.Background(), a, "two", WithMemory(mem))
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "first", "two", "second"}, contents(mem.Messages(0)))

	// The second request carries prior memory plus the new user message.
	assert.Equal(t, []string{"one", "first", "two"}, contents(provider.requests[1].Messages))
}

func TestRunner_FailureIsReturned(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	metrics := &recordingMetrics{}
	r := NewRunner(provider, WithMetrics(metrics))
	a := newTestAgent()
	mem := NewConversationMemory(10)

	_, err := r.Run(context.Background(), a, "hello", WithMemory(mem))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, StatusFailed, a.Status())
	assert.False(t, r.IsRunning(a.ID))

	// The user message stays in memory; no assistant message is added.
	assert.Equal(t, []string{"hello"}, contents(mem.Messages(0)))
	assert.Equal(t, []string{"failed"}, metrics.turns)
}

func TestRunner_ToolLoop(t *testing.T) {
	registry, err := tools.NewRegistry(
		tools.NewFunc("add", "adds numbers", nil, func(ctx context.Context, in map[string]any) (any, error) {
			return in["a"].(float64) + in["b"].(float64), nil
		}),
		tools.NewFunc("secret", "not granted", nil, func(ctx context.Context, in map[string]any) (any, error) {
			return "leak", nil
		}),
	)
	require.NoError(t, err)

	provider := &scriptedProvider{responses: []Response{
		{ToolCalls: []ToolRequest{
			{ID: "c1", Name: "add", Arguments: map[string]any{"a": 1.0, "b": 2.0}},
			{ID: "c2", Name: "secret", Arguments: map[string]any{}},
		}},
		{Content: "the answer is 3"},
	}}
	metrics := &recordingMetrics{}
	r := NewRunner(provider, WithToolRegistry(registry), WithMetrics(metrics))
	a := newTestAgent().WithTools("add", "missing")

	resp, err := r.Run(context.Background(), a, "what is 1+2?")
	require.NoError(t, err)
	assert.Equal(t, "the answer is 3", resp.Content)

	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "c1", resp.ToolCalls[0].ID)
	assert.Equal(t, 3.0, resp.ToolCalls[0].Output)
	assert.Empty(t, resp.ToolCalls[0].Error)
	assert.Equal(t, "Tool 'secret' not found", resp.ToolCalls[1].Error)

	// Only the granted and registered tool is described to the model.
	require.Len(t, provider.requests[0].Tools, 1)
	assert.Equal(t, "add", provider.requests[0].Tools[0].Function.Name)

	// Second request carries the assistant tool request and both tool results.
	second := provider.requests[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Equal(t, RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.Contains(t, second[3].Content, "not found")

	assert.Equal(t, 1, metrics.toolRuns["add"])
	assert.Equal(t, 1, metrics.toolRuns["secret"])
}

func TestRunner_MaxIterations(t *testing.T) {
	loop := Response{ToolCalls: []ToolRequest{{ID: "c", Name: "none"}}}
	provider := &scriptedProvider{responses: []Response{loop, loop, loop}}
	r := NewRunner(provider)
	a := newTestAgent()
	a.Config.MaxIterations = 2

	_, err := r.Run(context.Background(), a, "loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max iterations")
	assert.Len(t, provider.requests, 2)
}

func TestRunner_ExecuteTool(t *testing.T) {
	registry, _ := tools.NewRegistry(
		tools.NewFunc("fail", "", nil, func(ctx context.Context, in map[string]any) (any, error) {
			time.Sleep(2 * time.Millisecond)
			return nil, errors.New("disk full")
		}),
	)
	r := NewRunner(EchoProvider{}, WithToolRegistry(registry))
	a := newTestAgent().WithTools("fail")

	tc := r.ExecuteTool(context.Background(), a, "fail", map[string]any{"x": 1})
	assert.Regexp(t, `^call_[0-9a-f]{8}$`, tc.ID)
	assert.Equal(t, "disk full", tc.Error)
	assert.GreaterOrEqual(t, tc.DurationMs, int64(1))

	tc = r.ExecuteTool(context.Background(), a, "nope", nil)
	assert.Equal(t, "Tool 'nope' not found", tc.Error)
}

func TestRunner_Cancel(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	r := NewRunner(provider)
	a := newTestAgent()

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), a, "wait")
		errCh <- err
	}()

	<-provider.started
	assert.True(t, r.IsRunning(a.ID))
	assert.Equal(t, StatusRunning, a.Status())
	assert.Contains(t, r.ActiveAgents(), a.ID)

	assert.True(t, r.Cancel(a.ID))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled turn did not return")
	}

	assert.Equal(t, StatusIdle, a.Status())
	assert.False(t, r.IsRunning(a.ID))
	assert.False(t, r.Cancel(a.ID))
}

func TestRunner_Timeout(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	r := NewRunner(provider)
	a := newTestAgent()
	a.Config.TimeoutMs = 20

	_, err := r.Run(context.Background(), a, "slow")
	require.Error(t, err)

	var dt *sferrors.DelegateTimeoutError
	require.ErrorAs(t, err, &dt)
	assert.Equal(t, 20*time.Millisecond, dt.Timeout)
	assert.Equal(t, StatusFailed, a.Status())
}

func TestRunner_RateLimit(t *testing.T) {
	provider := &scriptedProvider{responses: []Response{{Content: "a"}, {Content: "b"}}}
	r := NewRunner(provider, WithRateLimit(20, 1))
	a := newTestAgent()

	start := time.Now()
	_, err := r.Run(context.Background(), a, "1")
	require.NoError(t, err)
	_, err = r.Run(context.Background(), a, "2")
	require.NoError(t, err)

	// Burst of one at 20/s forces roughly 50ms between the two calls.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRunner_InvalidAgent(t *testing.T) {
	r := NewRunner(EchoProvider{})

	_, err := r.Run(context.Background(), nil, "x")
	assert.Error(t, err)

	a := newTestAgent()
	a.Config.Temperature = 3
	_, err = r.Run(context.Background(), a, "x")
	var ve *sferrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRunner_NoProvider(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), newTestAgent(), "x")
	var ce *sferrors.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestRunner_ConcurrentAgents(t *testing.T) {
	r := NewRunner(EchoProvider{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := newTestAgent()
			resp, err := r.Run(context.Background(), a, a.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, a.ID, resp.Content)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, r.ActiveAgents())
}

func TestRunStream(t *testing.T) {
	r := NewRunner(EchoProvider{})
	a := newTestAgent()
	mem := NewConversationMemory(10)

	chunks, err := r.RunStream(context.Background(), a, "stream me", WithMemory(mem))
	require.NoError(t, err)

	var got string
	var done bool
	for c := range chunks {
		require.NoError(t, c.Err)
		got += c.Content
		done = c.Done
	}
	assert.True(t, done)
	assert.Equal(t, "stream me", got)
	assert.Equal(t, []string{"stream me", "stream me"}, contents(mem.Messages(0)))
}

type chunkProvider struct {
	EchoProvider
	chunks []string
}

func (p chunkProvider) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, len(p.chunks)+1)
	for _, c := range p.chunks {
		out <- StreamChunk{Content: c}
	}
	out <- StreamChunk{Done: true}
	close(out)
	return out, nil
}

func TestRunStream_NativeStreaming(t *testing.T) {
	r := NewRunner(chunkProvider{chunks: []string{"a", "b", "c"}})
	a := newTestAgent()
	a.Config.Streaming = true
	mem := NewConversationMemory(10)

	chunks, err := r.RunStream(context.Background(), a, "go", WithMemory(mem))
	require.NoError(t, err)

	var parts []string
	for c := range chunks {
		require.NoError(t, c.Err)
		if c.Content != "" {
			parts = append(parts, c.Content)
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, parts)
	assert.Equal(t, []string{"go", "abc"}, contents(mem.Messages(0)))
	assert.Equal(t, StatusCompleted, a.Status())
}
