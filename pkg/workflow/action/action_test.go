package action

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/pkg/errors"
)

func TestRegistry_RegisterAndDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("upper", func(_ context.Context, req Request) (any, error) {
		return req.Input + "!", nil
	}))

	out, err := r.Dispatch(context.Background(), Request{Action: "upper", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)

	var dup *errors.DuplicateError
	assert.ErrorAs(t, r.Register("upper", Echo), &dup)

	var ve *errors.ValidationError
	assert.ErrorAs(t, r.Register("", Echo), &ve)
	assert.Error(t, r.Register("nil", nil))

	_, err = r.Dispatch(context.Background(), Request{Action: "missing"})
	assert.True(t, errors.IsNotFound(err))
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{"echo", "fail", "jq", "sleep"}, r.Names())
	assert.True(t, r.Has("jq"))
	assert.False(t, r.Has("shell"))
}

func TestEcho(t *testing.T) {
	out, err := Echo(context.Background(), Request{Input: "payload"})
	require.NoError(t, err)
	assert.Equal(t, "payload", out)
}

func TestFail(t *testing.T) {
	_, err := Fail(context.Background(), Request{StepID: "s", Metadata: map[string]any{"message": "boom"}})
	assert.EqualError(t, err, "boom")

	_, err = Fail(context.Background(), Request{StepID: "s", Input: "bad input"})
	assert.EqualError(t, err, "bad input")

	_, err = Fail(context.Background(), Request{StepID: "s"})
	assert.EqualError(t, err, "step s failed")
}

func TestSleep(t *testing.T) {
	start := time.Now()
	out, err := Sleep(context.Background(), Request{Input: "x", Metadata: map[string]any{"duration": "20ms"}})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Sleep(ctx, Request{Metadata: map[string]any{"duration": 5000}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = Sleep(context.Background(), Request{Metadata: map[string]any{"duration": "soon"}})
	var ve *errors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestJQ(t *testing.T) {
	jq := NewJQ()
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		query string
		want  any
	}{
		{"field", `{"name":"stepflow"}`, ".name", "stepflow"},
		{"length", `{"items":[1,2,3]}`, ".items | length", 3},
		{"multiple results", `[1,2]`, ".[]", []any{float64(1), float64(2)}},
		{"plain string input", `not json`, "ascii_upcase", "NOT JSON"},
		{"no results", `[]`, ".[]", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := jq.Handle(ctx, Request{Input: tt.input, Metadata: map[string]any{"query": tt.query}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestJQ_Errors(t *testing.T) {
	jq := NewJQ()
	ctx := context.Background()

	var ve *errors.ValidationError
	_, err := jq.Handle(ctx, Request{Input: "{}"})
	assert.ErrorAs(t, err, &ve)

	_, err = jq.Handle(ctx, Request{Input: "{}", Metadata: map[string]any{"query": ".["}})
	assert.ErrorAs(t, err, &ve)

	_, err = jq.Handle(ctx, Request{Input: `"text"`, Metadata: map[string]any{"query": ".foo"}})
	assert.Error(t, err)
}
