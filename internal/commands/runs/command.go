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

// Package runs implements commands for inspecting stored workflow runs.
package runs

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

var (
	idColumn     = lipgloss.NewStyle().Width(18)
	statusColumn = lipgloss.NewStyle().Width(13)
	nameColumn   = lipgloss.NewStyle().Width(18)
)

// NewCommand creates the runs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored workflow runs",
		Long: `Commands for listing and viewing finished workflow runs.

Runs are read from the configured storage backend. The default memory
backend forgets runs when the process exits; configure sqlite or redis
to keep history between invocations.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newDeleteCommand())

	return cmd
}

func newListCommand() *cobra.Command {
	var (
		status     string
		workflowID string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs, newest first",
		Example: `  stepflow runs list
  stepflow runs list --status failed --limit 5
  stepflow runs list --json | jq '.runs[].id'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := backend.RunFilter{
				Status:     workflow.RunStatus(status),
				WorkflowID: workflowID,
				Limit:      limit,
				Offset:     offset,
			}
			return withBackend(cmd, func(ctx context.Context, be backend.Backend) error {
				return runsList(ctx, cmd.OutOrStdout(), be, filter)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (completed, failed, cancelled)")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Filter by workflow id")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many runs")

	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be backend.Backend) error {
				return runsShow(ctx, cmd.OutOrStdout(), be, args[0])
			})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, be backend.Backend) error {
				if _, err := be.GetRun(ctx, args[0]); err != nil {
					return lookupError(err)
				}
				if err := be.DeleteRun(ctx, args[0]); err != nil {
					return shared.NewExecutionError("failed to delete run", err)
				}
				if !shared.GetQuiet() && !shared.GetJSON() {
					fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("deleted "+args[0]))
				}
				return nil
			})
		},
	}
}

func withBackend(cmd *cobra.Command, fn func(ctx context.Context, be backend.Backend) error) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return shared.NewConfigError("failed to load configuration", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	be, err := shared.OpenBackend(ctx, cfg)
	if err != nil {
		return shared.NewConfigError("failed to open storage backend", err)
	}
	defer be.Close()
	return fn(ctx, be)
}

func lookupError(err error) error {
	if errors.IsNotFound(err) {
		return &shared.ExitError{Code: shared.ExitInvalidInput, Message: err.Error()}
	}
	return shared.NewExecutionError("failed to read run", err)
}

func runsList(ctx context.Context, w io.Writer, be backend.RunLister, filter backend.RunFilter) error {
	runs, err := be.ListRuns(ctx, filter)
	if err != nil {
		return shared.NewExecutionError("failed to list runs", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Runs []*workflow.WorkflowRun `json:"runs"`
		}{shared.NewJSONResponse("runs list", true), runs})
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, shared.RenderLabel("no runs found"))
		return nil
	}

	fmt.Fprintln(w, shared.Bold.Render(
		idColumn.Render("RUN")+statusColumn.Render("STATUS")+nameColumn.Render("WORKFLOW")+"STARTED"))
	for _, r := range runs {
		fmt.Fprintln(w,
			idColumn.Render(r.ID)+
				statusColumn.Render(shared.RenderRunStatus(r.Status))+
				nameColumn.Render(r.WorkflowID)+
				shared.RenderLabel(r.StartedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

func runsShow(ctx context.Context, w io.Writer, be backend.RunStore, id string) error {
	run, err := be.GetRun(ctx, id)
	if err != nil {
		return lookupError(err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Run *workflow.WorkflowRun `json:"run"`
		}{shared.NewJSONResponse("runs show", true), run})
	}

	fmt.Fprintf(w, "%s %s\n", shared.Header.Render(run.ID), shared.RenderRunStatus(run.Status))
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("workflow:"), run.WorkflowID)
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("started: "), run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "%s %dms\n", shared.RenderLabel("duration:"), run.DurationMs())
	if run.Error != "" {
		fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("error:   "), shared.StatusError.Render(run.Error))
	}

	fmt.Fprintln(w, shared.Bold.Render("Steps"))
	for _, res := range run.StepResults {
		line := fmt.Sprintf("  %s %s", statusColumn.Render(shared.RenderStepStatus(res.Status)), res.StepID)
		if res.Attempts > 1 {
			line += shared.RenderLabel(fmt.Sprintf(" (%d attempts)", res.Attempts))
		}
		fmt.Fprintln(w, line)
		if res.Error != "" {
			fmt.Fprintf(w, "      %s\n", shared.StatusError.Render(res.Error))
		}
	}
	return nil
}
