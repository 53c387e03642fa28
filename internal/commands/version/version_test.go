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

package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tombee/stepflow/internal/commands/shared"
)

func TestVersionOutput(t *testing.T) {
	shared.SetVersion("1.0.0", "test123", "2026-01-05")
	defer shared.SetVersion("dev", "unknown", "unknown")

	cmd := NewVersionCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "stepflow version 1.0.0") {
		t.Errorf("expected version line, got: %s", out)
	}
	if !strings.Contains(out, "test123") {
		t.Errorf("expected commit in output, got: %s", out)
	}
}

func TestVersionJSONOutput(t *testing.T) {
	shared.SetVersion("1.0.0", "test123", "2026-01-05")
	defer shared.SetVersion("dev", "unknown", "unknown")
	defer shared.SetJSONForTest(true)()

	cmd := NewVersionCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if info.Version != "1.0.0" || info.Commit != "test123" || info.BuildDate != "2026-01-05" {
		t.Errorf("unexpected version info %+v", info)
	}
}
