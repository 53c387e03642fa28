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

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/internal/backend/backendtest"
	"github.com/tombee/stepflow/pkg/workflow"
)

func TestBackend(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend { return New() })
}

func TestBackend_StoresCopies(t *testing.T) {
	b := New()
	ctx := context.Background()
	run := backendtest.NewRun("run_1", "wf_1", workflow.RunStatusCompleted, time.Now())

	if err := b.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	run.Status = workflow.RunStatusFailed
	run.Inputs["topic"] = "changed"

	got, err := b.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != workflow.RunStatusCompleted {
		t.Errorf("stored status changed to %s", got.Status)
	}
	if got.Inputs["topic"] != "queues" {
		t.Errorf("stored inputs changed to %v", got.Inputs)
	}
}
