package agent

import (
	"context"
	"strings"
	"time"

	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/tracing"
)

// RunStream executes a turn and delivers the answer as chunks. When the agent
// has Streaming set and the provider implements StreamingProvider, chunks
// come straight from the provider and tools are not offered. Otherwise the
// turn runs through Run and the whole answer arrives as one chunk.
//
// The returned channel is closed after a chunk with Done set, or without one
// if ctx ends while nobody is reading.
func (r *Runner) RunStream(ctx context.Context, a *Agent, message string, opts ...TurnOption) (<-chan StreamChunk, error) {
	sp, ok := r.provider.(StreamingProvider)
	if a == nil || !a.Config.Streaming || !ok {
		out := make(chan StreamChunk, 2)
		go func() {
			defer close(out)
			resp, err := r.Run(ctx, a, message, opts...)
			if err != nil {
				out <- StreamChunk{Done: true, Err: err}
				return
			}
			out <- StreamChunk{Content: resp.Content}
			out <- StreamChunk{Done: true}
		}()
		return out, nil
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}

	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := a.Config.WithDefaults()
	ctx, t, release := r.begin(ctx, a, cfg)
	ctx, span := tracing.StartAgentTurn(ctx, r.tracer, a.ID, cfg.Model)
	logger := log.WithAgentContext(r.logger, a.ID, cfg.Model)

	var messages []Message
	if o.memory != nil {
		messages = o.memory.Messages(0)
		o.memory.AddMessage(RoleUser, message)
	}
	messages = append(messages, Message{Role: RoleUser, Content: message, Timestamp: time.Now()})

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.finish(t, StatusFailed)
			span.RecordError(err)
			span.End()
			release()
			return nil, err
		}
	}

	in, err := sp.Stream(ctx, &Request{
		Model:       cfg.Model,
		Messages:    messages,
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		err = r.classify(ctx, a, cfg, err)
		r.finish(t, StatusFailed)
		span.RecordError(err)
		span.End()
		release()
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer release()
		defer span.End()

		start := time.Now()
		var b strings.Builder
		var streamErr error

		for chunk := range in {
			if chunk.Err != nil {
				streamErr = chunk.Err
				break
			}
			if chunk.Content != "" {
				b.WriteString(chunk.Content)
				select {
				case out <- StreamChunk{Content: chunk.Content}:
				case <-ctx.Done():
					streamErr = ctx.Err()
				}
			}
			if streamErr != nil || chunk.Done {
				break
			}
		}
		if streamErr == nil && ctx.Err() != nil {
			streamErr = ctx.Err()
		}

		status := StatusCompleted
		if streamErr != nil {
			status = StatusFailed
			streamErr = r.classify(ctx, a, cfg, streamErr)
			span.RecordError(streamErr)
			logger.Warn("agent stream failed", "error", streamErr)
		} else if o.memory != nil {
			o.memory.AddMessage(RoleAssistant, b.String())
		}
		r.finish(t, status)
		if r.metrics != nil {
			r.metrics.RecordAgentTurn(cfg.Model, string(status), time.Since(start), Usage{})
		}

		select {
		case out <- StreamChunk{Done: true, Err: streamErr}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}
