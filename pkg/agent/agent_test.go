package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/stepflow/pkg/errors"
)

func TestNew(t *testing.T) {
	a := New("reviewer")

	assert.True(t, strings.HasPrefix(a.ID, "agent_"))
	assert.Len(t, a.ID, len("agent_")+12)
	assert.Equal(t, "reviewer", a.Name)
	assert.Equal(t, DefaultConfig(), a.Config)
	assert.Equal(t, StatusIdle, a.Status())
	assert.False(t, a.CreatedAt.IsZero())
	assert.NotEqual(t, a.ID, New("reviewer").ID)
}

func TestZeroAgentIsIdle(t *testing.T) {
	var a Agent
	assert.Equal(t, StatusIdle, a.Status())
}

func TestConfigDefaults(t *testing.T) {
	d := DefaultConfig()
	assert.Equal(t, "claude-3-sonnet", d.Model)
	assert.Equal(t, 4096, d.MaxTokens)
	assert.Equal(t, 0.7, d.Temperature)
	assert.Equal(t, 25, d.MaxIterations)
	assert.Equal(t, 120000, d.TimeoutMs)
	assert.False(t, d.Streaming)

	filled := Config{Model: "echo-1", Temperature: 0}.WithDefaults()
	assert.Equal(t, "echo-1", filled.Model)
	assert.Equal(t, 4096, filled.MaxTokens)
	assert.Equal(t, 0.0, filled.Temperature)

	fallback := Config{MaxTokens: 10}.WithFallback(Config{Model: "haiku", MaxTokens: 99, MaxIterations: 3, TimeoutMs: -1})
	assert.Equal(t, Config{Model: "haiku", MaxTokens: 10, MaxIterations: 3, TimeoutMs: -1}, fallback)
}

func TestBuilders(t *testing.T) {
	a := New("x").WithConfig(Config{Model: "m"}).WithTools("search", "calc")
	assert.Equal(t, "m", a.Config.Model)
	assert.Equal(t, []string{"search", "calc"}, a.Tools)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		agent *Agent
		field string
	}{
		{"valid", New("ok"), ""},
		{"missing id", &Agent{Config: DefaultConfig()}, "id"},
		{"temperature too high", New("hot").WithConfig(Config{Temperature: 2.5}), "config.temperature"},
		{"negative temperature", New("cold").WithConfig(Config{Temperature: -0.1}), "config.temperature"},
		{"negative max tokens", New("short").WithConfig(Config{MaxTokens: -1}), "config.max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.agent.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *errors.ValidationError
			if assert.True(t, errors.As(err, &ve), "got %v", err) {
				assert.Equal(t, tt.field, ve.Field)
			}
		})
	}
}
