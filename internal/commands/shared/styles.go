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

package shared

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/stepflow/pkg/workflow"
)

// CLI style colors using lipgloss
var (
	StatusOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	StatusWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	StatusInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // blue
	Muted       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	Bold        = lipgloss.NewStyle().Bold(true)
	Header      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
)

// Symbols for status indicators
const (
	SymbolOK    = "✓"
	SymbolWarn  = "⚠"
	SymbolError = "✗"
	SymbolSkip  = "○"
	SymbolInfo  = "•"
)

func RenderOK(msg string) string {
	return StatusOK.Render(SymbolOK) + " " + msg
}

func RenderWarn(msg string) string {
	return StatusWarn.Render(SymbolWarn) + " " + msg
}

func RenderError(msg string) string {
	return StatusError.Render(SymbolError) + " " + msg
}

func RenderLabel(label string) string {
	return Muted.Render(label)
}

// RenderRunStatus colours a run status.
func RenderRunStatus(s workflow.RunStatus) string {
	switch s {
	case workflow.RunStatusCompleted:
		return StatusOK.Render(string(s))
	case workflow.RunStatusFailed:
		return StatusError.Render(string(s))
	case workflow.RunStatusCancelled:
		return StatusWarn.Render(string(s))
	default:
		return StatusInfo.Render(string(s))
	}
}

// RenderStepStatus renders a step status with its symbol.
func RenderStepStatus(s workflow.StepStatus) string {
	switch s {
	case workflow.StepStatusCompleted:
		return StatusOK.Render(SymbolOK + " " + string(s))
	case workflow.StepStatusFailed:
		return StatusError.Render(SymbolError + " " + string(s))
	case workflow.StepStatusSkipped:
		return Muted.Render(SymbolSkip + " " + string(s))
	default:
		return StatusInfo.Render(SymbolInfo + " " + string(s))
	}
}
