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

// Package order implements the order command, which prints the parallel
// groups a workflow would execute in.
package order

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Result is the JSON form of the order command.
type Result struct {
	shared.JSONResponse
	Workflow string     `json:"workflow"`
	Groups   [][]string `json:"groups"`
}

// NewCommand creates the order command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "order <workflow>",
		Short: "Show the execution order of a workflow",
		Long: `Order prints the groups a workflow executes in. Steps in the same group have
no dependencies on each other and run in parallel; each group starts after
the previous one has finished.`,
		Example: `  stepflow order workflow.yaml
  stepflow order workflow.yaml --json | jq '.groups | length'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, args[0])
		},
	}
}

func runOrder(cmd *cobra.Command, path string) error {
	def, err := workflow.LoadFile(path)
	if err != nil {
		return shared.NewInvalidWorkflowError(fmt.Sprintf("%s is not a valid workflow", path), err)
	}
	groups, err := def.ExecutionOrder()
	if err != nil {
		return shared.NewInvalidWorkflowError(fmt.Sprintf("%s is not a valid workflow", path), err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, Result{
			JSONResponse: shared.NewJSONResponse("order", true),
			Workflow:     def.Name,
			Groups:       groups,
		})
	}

	fmt.Fprintln(out, shared.Header.Render(def.Name))
	for i, g := range groups {
		fmt.Fprintf(out, "%s %s\n", shared.RenderLabel(fmt.Sprintf("group %d:", i+1)), strings.Join(g, ", "))
	}
	return nil
}
