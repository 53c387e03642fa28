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

package order

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stepflow/internal/commands/shared"
)

const diamond = `
name: diamond
steps:
  - id: d
    depends_on: [b, c]
  - id: c
    depends_on: [a]
  - id: b
    depends_on: [a]
  - id: a
`

func execute(t *testing.T, content string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cmd := NewCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

func TestOrderText(t *testing.T) {
	out, err := execute(t, diamond)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "diamond")
	assert.Contains(t, lines[1], "group 1: a")
	assert.Contains(t, lines[2], "group 2: c, b")
	assert.Contains(t, lines[3], "group 3: d")
}

func TestOrderJSON(t *testing.T) {
	defer shared.SetJSONForTest(true)()

	out, err := execute(t, diamond)
	require.NoError(t, err)

	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "diamond", res.Workflow)
	assert.Equal(t, [][]string{{"a"}, {"c", "b"}, {"d"}}, res.Groups)
}

func TestOrderUnknownDependency(t *testing.T) {
	_, err := execute(t, "name: broken\nsteps:\n  - id: a\n    depends_on: [ghost]\n")
	assert.Equal(t, shared.ExitInvalidWorkflow, shared.ExitCode(err))
}
