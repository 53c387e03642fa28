package agent

import (
	"context"
	"time"

	"github.com/tombee/stepflow/pkg/tools"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation.
type Message struct {
	// Role is the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// ToolCalls are tool invocations requested by the assistant (optional)
	ToolCalls []ToolRequest `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result to its corresponding call (optional)
	ToolCallID string `json:"tool_call_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ToolRequest is a tool invocation requested by the model.
type ToolRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage tracks token consumption for a request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u *Usage) add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// Request is what the runner sends to the model provider.
type Request struct {
	Model       string             `json:"model"`
	Messages    []Message          `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Tools       []tools.Descriptor `json:"tools,omitempty"`
}

// Response is what the model provider returns.
type Response struct {
	Content   string
	ToolCalls []ToolRequest
	Usage     Usage
}

// Provider invokes a model. Implementations must honour ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// StreamChunk is one piece of a streamed response. The final chunk has Done
// set; Err is only set on the final chunk.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// StreamingProvider is implemented by providers that can stream content.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req *Request) (*Response, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// EchoProvider answers every request with the content of the last user
// message. It lets workflows run end to end without a model.
type EchoProvider struct{}

// Complete implements Provider.
func (EchoProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var content string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			content = req.Messages[i].Content
			break
		}
	}
	n := len(content) / 4
	return &Response{
		Content: content,
		Usage:   Usage{InputTokens: n, OutputTokens: n, TotalTokens: 2 * n},
	}, nil
}
