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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/stepflow/internal/commands/shared"
	"github.com/tombee/stepflow/pkg/workflow"
)

// maxValueWidth truncates outputs in the text summary.
const maxValueWidth = 72

var (
	statusColumn = lipgloss.NewStyle().Width(13)
	detailIndent = lipgloss.NewStyle().PaddingLeft(4)
)

func printPlan(w io.Writer, def *workflow.Definition) error {
	groups, err := def.ExecutionOrder()
	if err != nil {
		return shared.NewInvalidWorkflowError("invalid workflow", err)
	}
	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Groups [][]string `json:"groups"`
		}{shared.NewJSONResponse("run", true), groups})
	}

	fmt.Fprintln(w, shared.Header.Render(def.Name)+" "+shared.RenderLabel("(dry run)"))
	for i, g := range groups {
		fmt.Fprintf(w, "%s\n", shared.RenderLabel(fmt.Sprintf("group %d", i+1)))
		for _, id := range g {
			fmt.Fprintf(w, "  %s %s\n", shared.SymbolInfo, describeStep(def.Step(id)))
		}
	}
	return nil
}

func describeStep(s *workflow.Step) string {
	var b strings.Builder
	b.WriteString(shared.Bold.Render(s.ID))
	if s.AgentID != "" {
		b.WriteString(" agent=" + s.AgentID)
	} else if s.Action != "" {
		b.WriteString(" action=" + s.Action)
	}
	if s.Condition != "" {
		b.WriteString(shared.RenderLabel(" if " + s.Condition))
	}
	if s.RetryCount > 0 {
		b.WriteString(shared.RenderLabel(fmt.Sprintf(" retries=%d", s.RetryCount)))
	}
	return b.String()
}

func printSummary(w io.Writer, def *workflow.Definition, run *workflow.WorkflowRun) {
	fmt.Fprintf(w, "%s %s %s %s\n",
		shared.Header.Render(def.Name),
		shared.RenderLabel(run.ID),
		shared.RenderRunStatus(run.Status),
		shared.RenderLabel(formatDuration(run.DurationMs())),
	)

	for _, s := range def.Steps {
		res := run.GetStepResult(s.ID)
		if res == nil {
			fmt.Fprintf(w, "  %s %s\n", statusColumn.Render(shared.RenderLabel("not run")), s.ID)
			continue
		}
		line := fmt.Sprintf("  %s %s", statusColumn.Render(shared.RenderStepStatus(res.Status)), s.ID)
		if res.Status != workflow.StepStatusSkipped {
			line += " " + shared.RenderLabel(formatDuration(res.DurationMs()))
		}
		if res.Attempts > 1 {
			line += shared.RenderLabel(fmt.Sprintf(" (%d attempts)", res.Attempts))
		}
		fmt.Fprintln(w, line)
		if res.Error != "" {
			fmt.Fprintln(w, detailIndent.Render(shared.StatusError.Render(res.Error)))
		}
	}

	if len(run.Outputs) > 0 {
		fmt.Fprintln(w, shared.Bold.Render("Outputs"))
		for _, s := range def.Steps {
			if v, ok := run.Outputs[s.ID]; ok {
				fmt.Fprintf(w, "  %s %s\n", shared.RenderLabel(s.ID+":"), formatValue(v))
			}
		}
	}

	if run.Error != "" {
		fmt.Fprintln(w, shared.RenderError(run.Error))
	}
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// formatValue renders an output on one line.
func formatValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case nil:
		s = "null"
	default:
		data, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(data)
		}
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxValueWidth {
		s = string(r[:maxValueWidth-3]) + "..."
	}
	return s
}
