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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

type options struct {
	inputs      []string
	inputFile   string
	maxParallel int
	timeout     time.Duration
	metricsFile string
	dryRun      bool
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow",
		Long: `Run executes a workflow file and prints a summary of every step.

Agent steps are answered by the built-in echo provider, which replies with
the rendered step input, so workflows run end to end without a model.

The finished run is saved to the configured storage backend (memory,
sqlite or redis) and can be inspected later with 'stepflow runs'.

See also: stepflow validate, stepflow order, stepflow runs`,
		Example: `  # Run with inputs; @file reads a value from a file
  stepflow run review.yaml --input diff=@change.patch --input mode=strict

  # Inputs from a JSON file, at most two steps at a time
  stepflow run review.yaml --input-file inputs.json --max-parallel 2

  # Write Prometheus metrics for the node_exporter textfile collector
  stepflow run review.yaml --metrics-file /var/lib/node_exporter/stepflow.prom

  # Print the run as JSON
  stepflow run review.yaml --json | jq '.run.outputs'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("max-parallel") {
				opts.maxParallel = -1
			}
			return runWorkflow(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil, "Workflow input in key=value format")
	cmd.Flags().StringVar(&opts.inputFile, "input-file", "", "JSON file with inputs (use '-' for stdin)")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "Maximum concurrent steps per group (0 = unbounded)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Cancel the run after this long")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show the execution plan without running")

	return cmd
}

// Result is the JSON form of the run command.
type Result struct {
	shared.JSONResponse
	Run *workflow.WorkflowRun `json:"run"`
}

func runWorkflow(cmd *cobra.Command, path string, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return shared.NewConfigError("failed to load configuration", err)
	}
	if opts.maxParallel >= 0 {
		cfg.Engine.MaxParallel = opts.maxParallel
	}
	if opts.metricsFile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.File = opts.metricsFile
	}

	def, err := workflow.LoadFile(path, workflow.WithAgentDefaults(cfg.AgentDefaults()))
	if err != nil {
		return shared.NewInvalidWorkflowError(fmt.Sprintf("%s is not a valid workflow", path), err)
	}

	inputs, err := parseInputs(opts.inputs, opts.inputFile, cmd.InOrStdin())
	if err != nil {
		return shared.NewInvalidInputError("invalid inputs", err)
	}

	if opts.dryRun {
		return printPlan(cmd.OutOrStdout(), def)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	rt, err := newRuntime(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return shared.NewConfigError("failed to initialise runtime", err)
	}
	defer rt.Close()

	rt.saveWorkflow(ctx, &def.Workflow)
	run := rt.newEngine(def).Run(ctx, &def.Workflow, inputs)
	rt.flushMetrics()

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, Result{
			JSONResponse: shared.NewJSONResponse("run", run.Status == workflow.RunStatusCompleted),
			Run:          run,
		}); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		printSummary(out, def, run)
	}

	if run.Status == workflow.RunStatusCompleted {
		return nil
	}
	if shared.GetJSON() {
		return &shared.ExitError{Code: shared.ExitExecutionFailed}
	}
	msg := fmt.Sprintf("run %s %s", run.ID, run.Status)
	if run.Error == "" {
		return shared.NewExecutionError(msg, nil)
	}
	return shared.NewExecutionError(msg, errors.New(run.Error))
}
