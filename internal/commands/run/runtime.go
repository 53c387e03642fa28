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

package run

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/internal/config"
	"github.com/tombee/stepflow/internal/log"
	"github.com/tombee/stepflow/internal/metrics"
	"github.com/tombee/stepflow/internal/tracing"
	"github.com/tombee/stepflow/pkg/agent"
	"github.com/tombee/stepflow/pkg/workflow"
)

// memoryMessages bounds each agent's conversation within one run.
const memoryMessages = 50

// runtime owns the long-lived pieces a run is wired to.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   backend.Backend
	tracing *tracing.Provider
	metrics *metrics.Collector
	runner  *agent.Runner
}

func newRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime, error) {
	lc := cfg.LogConfig()
	lc.Output = logOut
	if shared.GetVerbose() {
		lc.Level = "debug"
	}
	logger := log.New(lc)

	version, _, _ := shared.GetVersion()
	tp, err := tracing.NewProvider(ctx, cfg.TracingConfig(version))
	if err != nil {
		return nil, err
	}

	store, err := shared.OpenBackend(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		tracing: tp,
	}
	if cfg.Metrics.Enabled {
		rt.metrics = metrics.New()
	}

	runnerOpts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithTracer(tp.Tracer()),
		agent.WithRateLimit(cfg.Agent.RequestsPerSecond, cfg.Agent.Burst),
	}
	if rt.metrics != nil {
		runnerOpts = append(runnerOpts, agent.WithMetrics(rt.metrics))
	}
	rt.runner = agent.NewRunner(agent.EchoProvider{}, runnerOpts...)

	return rt, nil
}

// newEngine builds an engine whose agent steps go to def's agents. Each
// agent keeps its conversation for the length of the run.
func (rt *runtime) newEngine(def *workflow.Definition) *workflow.Engine {
	delegate := workflow.NewRunnerDelegate(rt.runner)
	for _, a := range def.Agents {
		delegate.Add(a, agent.NewConversationMemory(memoryMessages))
	}

	opts := []workflow.EngineOption{
		workflow.WithLogger(rt.logger),
		workflow.WithAgents(delegate),
		workflow.WithStore(rt.store),
		workflow.WithTracer(rt.tracing.Tracer()),
		workflow.WithMaxParallel(rt.cfg.Engine.MaxParallel),
		workflow.WithRetryDelay(rt.cfg.Engine.RetryDelay),
		workflow.WithDefaultStepTimeout(rt.cfg.Engine.DefaultStepTimeout),
	}
	if rt.metrics != nil {
		opts = append(opts, workflow.WithMetrics(rt.metrics))
	}
	return workflow.NewEngine(opts...)
}

func (rt *runtime) saveWorkflow(ctx context.Context, w *workflow.Workflow) {
	if err := rt.store.SaveWorkflow(ctx, w); err != nil {
		rt.logger.Warn("failed to save workflow", slog.String(log.WorkflowKey, w.Name), slog.Any("error", err))
	}
}

func (rt *runtime) flushMetrics() {
	if rt.metrics == nil || rt.cfg.Metrics.File == "" {
		return
	}
	if err := rt.metrics.WriteFile(rt.cfg.Metrics.File); err != nil {
		rt.logger.Warn("failed to write metrics file", slog.String("path", rt.cfg.Metrics.File), slog.Any("error", err))
	}
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("failed to close storage backend", slog.Any("error", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tracing.Shutdown(ctx); err != nil {
		rt.logger.Warn("failed to flush traces", slog.Any("error", err))
	}
}
