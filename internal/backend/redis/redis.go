// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redis provides a Redis backend for deployments where several
// processes share run history.
//
// Runs and workflows are stored as JSON strings. Sorted-set indexes keyed by
// start time (runs) and name (workflows) provide ordering.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore      = (*Backend)(nil)
	_ backend.RunLister     = (*Backend)(nil)
	_ backend.WorkflowStore = (*Backend)(nil)
	_ backend.Backend       = (*Backend)(nil)
)

const (
	// DefaultURL is used when Config.URL is empty.
	DefaultURL = "redis://localhost:6379"

	// DefaultPrefix namespaces every key.
	DefaultPrefix = "stepflow:"
)

// Config contains Redis connection configuration.
type Config struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string

	// Prefix namespaces keys so several deployments can share a server.
	Prefix string

	// RunTTL expires stored runs. Zero keeps them forever.
	RunTTL time.Duration
}

// Backend is a Redis storage backend.
type Backend struct {
	client *goredis.Client
	prefix string
	runTTL time.Duration
}

// New connects to the server at cfg.URL.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client. cfg.URL is ignored.
func NewFromClient(client *goredis.Client, cfg Config) *Backend {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix, runTTL: cfg.RunTTL}
}

func (b *Backend) runKey(id string) string      { return b.prefix + "run:" + id }
func (b *Backend) runIndexKey() string          { return b.prefix + "runs" }
func (b *Backend) workflowKey(id string) string { return b.prefix + "workflow:" + id }
func (b *Backend) workflowIndexKey() string     { return b.prefix + "workflows" }

// SaveRun inserts or replaces a run.
func (b *Backend) SaveRun(ctx context.Context, run *workflow.WorkflowRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.runKey(run.ID), payload, b.runTTL)
	pipe.ZAdd(ctx, b.runIndexKey(), goredis.Z{
		Score:  float64(run.StartedAt.UnixMilli()),
		Member: run.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	data, err := b.client.Get(ctx, b.runKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return decodeRun(data)
}

// ListRuns lists runs with optional filtering, newest first. Index entries
// whose run has expired are pruned as they are found.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*workflow.WorkflowRun, error) {
	ids, err := b.client.ZRevRange(ctx, b.runIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(ids) == 0 {
		return []*workflow.WorkflowRun{}, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, b.runKey(id))
	}
	_, _ = pipe.Exec(ctx)

	runs := make([]*workflow.WorkflowRun, 0, len(ids))
	var expired []any
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == goredis.Nil {
			expired = append(expired, ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get run %s: %w", ids[i], err)
		}
		run, err := decodeRun(data)
		if err != nil {
			return nil, err
		}
		if filter.Match(run) {
			runs = append(runs, run)
		}
	}
	if len(expired) > 0 {
		b.client.ZRem(ctx, b.runIndexKey(), expired...)
	}

	backend.SortNewestFirst(runs)
	return filter.Page(runs), nil
}

// DeleteRun deletes a run.
func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.runKey(id))
	pipe.ZRem(ctx, b.runIndexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// SaveWorkflow inserts or replaces a workflow definition.
func (b *Backend) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow id required")
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.workflowKey(w.ID), payload, 0)
	pipe.ZAdd(ctx, b.workflowIndexKey(), goredis.Z{Score: 0, Member: w.Name + "\x00" + w.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow definition by ID.
func (b *Backend) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	data, err := b.client.Get(ctx, b.workflowKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var w workflow.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns all workflow definitions ordered by name. Members of
// the index are "name\x00id" with equal scores, so Redis keeps them in
// lexical order.
func (b *Backend) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	members, err := b.client.ZRange(ctx, b.workflowIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	out := make([]*workflow.Workflow, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		id := m
		for i := len(m) - 1; i >= 0; i-- {
			if m[i] == 0 {
				id = m[i+1:]
				break
			}
		}
		if seen[id] {
			continue
		}
		w, err := b.GetWorkflow(ctx, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// A renamed workflow leaves its old index member behind.
		if w.Name+"\x00"+w.ID != m {
			continue
		}
		seen[id] = true
		out = append(out, w)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func decodeRun(data []byte) (*workflow.WorkflowRun, error) {
	var run workflow.WorkflowRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}
