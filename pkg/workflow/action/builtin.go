package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	"github.com/tombee/stepflow/pkg/errors"
)

// Echo returns the rendered input unchanged.
func Echo(_ context.Context, req Request) (any, error) {
	return req.Input, nil
}

// Fail always returns an error. The message comes from metadata["message"],
// falling back to the rendered input.
func Fail(_ context.Context, req Request) (any, error) {
	msg, _ := req.Metadata["message"].(string)
	if msg == "" {
		msg = req.Input
	}
	if msg == "" {
		msg = fmt.Sprintf("step %s failed", req.StepID)
	}
	return nil, errors.New(msg)
}

// Sleep waits for metadata["duration"] and then echoes the input. The
// duration is either a Go duration string or a number of milliseconds.
func Sleep(ctx context.Context, req Request) (any, error) {
	d, err := durationFrom(req.Metadata["duration"])
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "metadata.duration",
			Message:    err.Error(),
			Suggestion: `use a duration such as "250ms" or a number of milliseconds`,
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return req.Input, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func durationFrom(v any) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(t)
	case int:
		return time.Duration(t) * time.Millisecond, nil
	case int64:
		return time.Duration(t) * time.Millisecond, nil
	case float64:
		return time.Duration(t * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("unsupported duration type %T", v)
	}
}

// JQ runs a jq query, taken from metadata["query"], over the step input.
// Input that parses as JSON is queried as a document; anything else is
// queried as a plain string. A single result is returned as is, several as
// a slice. Compiled queries are cached.
type JQ struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQ creates a jq action.
func NewJQ() *JQ {
	return &JQ{cache: make(map[string]*gojq.Code)}
}

// Handle implements Handler.
func (j *JQ) Handle(ctx context.Context, req Request) (any, error) {
	query, _ := req.Metadata["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, &errors.ValidationError{
			Field:      "metadata.query",
			Message:    "jq action requires a query",
			Suggestion: `set metadata.query, for example ".items | length"`,
		}
	}

	code, err := j.compile(query)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:   "metadata.query",
			Message: fmt.Sprintf("invalid jq query: %v", err),
		}
	}

	var data any = req.Input
	var doc any
	if err := json.Unmarshal([]byte(req.Input), &doc); err == nil {
		data = doc
	}

	iter := code.RunWithContext(ctx, data)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (j *JQ) compile(query string) (*gojq.Code, error) {
	j.mu.RLock()
	code, ok := j.cache[query]
	j.mu.RUnlock()
	if ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, err
	}
	code, err = gojq.Compile(parsed)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	j.cache[query] = code
	j.mu.Unlock()
	return code, nil
}
