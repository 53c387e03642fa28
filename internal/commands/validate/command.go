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

package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Result is the JSON form of a successful validation.
type Result struct {
	shared.JSONResponse
	Workflow WorkflowSummary `json:"workflow"`
	Warnings []string        `json:"warnings"`
}

// WorkflowSummary describes the validated workflow.
type WorkflowSummary struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Steps  int        `json:"steps"`
	Agents int        `json:"agents"`
	Groups [][]string `json:"groups"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow file",
		Long: `Validate parses a workflow file and checks its structure: unique step ids,
known dependencies, no cycles, and that agent steps reference declared agents.

Conditions that do not compile, and conditions that read steps outside a
step's dependencies, are reported as warnings.

See also: stepflow order, stepflow run`,
		Example: `  # Basic validation
  stepflow validate workflow.yaml

  # Fail on warnings too
  stepflow validate workflow.yaml --strict

  # Machine-readable output
  stepflow validate workflow.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, strict bool) error {
	out := cmd.OutOrStdout()
	useJSON := shared.GetJSON()

	def, err := workflow.LoadFile(path)
	if err != nil {
		if useJSON {
			_ = shared.EmitJSONError(out, "validate", []shared.JSONError{
				{Code: "INVALID_WORKFLOW", Message: err.Error()},
			})
			return &shared.ExitError{Code: shared.ExitInvalidWorkflow}
		}
		return shared.NewInvalidWorkflowError(fmt.Sprintf("%s is not a valid workflow", path), err)
	}

	groups, err := def.ExecutionOrder()
	if err != nil {
		return shared.NewInvalidWorkflowError(fmt.Sprintf("%s is not a valid workflow", path), err)
	}
	warnings := def.Lint()
	failed := strict && len(warnings) > 0

	if useJSON {
		res := Result{
			JSONResponse: shared.NewJSONResponse("validate", !failed),
			Workflow: WorkflowSummary{
				ID:     def.ID,
				Name:   def.Name,
				Steps:  len(def.Steps),
				Agents: len(def.Agents),
				Groups: groups,
			},
			Warnings: warnings,
		}
		if res.Warnings == nil {
			res.Warnings = []string{}
		}
		if err := shared.EmitJSON(out, res); err != nil {
			return err
		}
	} else if !shared.GetQuiet() || failed {
		for _, w := range warnings {
			fmt.Fprintln(out, shared.RenderWarn(w))
		}
		if !failed {
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s is valid (%d steps in %d groups, %d agents)",
				path, len(def.Steps), len(groups), len(def.Agents))))
		}
	}

	if failed {
		msg := fmt.Sprintf("%s has %d warnings", path, len(warnings))
		if useJSON {
			msg = ""
		}
		return &shared.ExitError{Code: shared.ExitInvalidWorkflow, Message: msg}
	}
	return nil
}
