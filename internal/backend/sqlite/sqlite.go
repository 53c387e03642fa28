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

// Package sqlite provides a SQLite backend implementation for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/pkg/errors"
	"github.com/tombee/stepflow/pkg/workflow"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore      = (*Backend)(nil)
	_ backend.RunLister     = (*Backend)(nil)
	_ backend.WorkflowStore = (*Backend)(nil)
	_ backend.Backend       = (*Backend)(nil)
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Backend is a SQLite storage backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" keeps everything in memory.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database at cfg.Path and applies migrations.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT,
			outputs TEXT,
			error TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow_id ON runs(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			step_id TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			completed_at TEXT,
			PRIMARY KEY (run_id, position),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			definition TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun inserts or replaces a run together with its step results.
func (b *Backend) SaveRun(ctx context.Context, run *workflow.WorkflowRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}

	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	outputsJSON, err := json.Marshal(run.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, inputs, outputs, error, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`,
		run.ID, run.WorkflowID, string(run.Status),
		string(inputsJSON), string(outputsJSON), nullString(run.Error),
		run.StartedAt.UTC().Format(timeLayout), formatTime(run.CompletedAt),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear step results: %w", err)
	}

	for i, res := range run.StepResults {
		var outputJSON []byte
		if res.Output != nil {
			outputJSON, err = json.Marshal(res.Output)
			if err != nil {
				return fmt.Errorf("failed to marshal output of step %s: %w", res.StepID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_results (run_id, position, step_id, status, output, error, attempts, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, i, res.StepID, string(res.Status), nullBytes(outputJSON), nullString(res.Error),
			res.Attempts, formatTime(res.StartedAt), formatTime(res.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save step result %s: %w", res.StepID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, inputs, outputs, error, started_at, completed_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.StepResults, err = b.stepResults(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs with optional filtering, newest first.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*workflow.WorkflowRun, error) {
	query := `SELECT id, workflow_id, status, inputs, outputs, error, started_at, completed_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	query += " ORDER BY started_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*workflow.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	rows.Close()

	for _, run := range runs {
		if run.StepResults, err = b.stepResults(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// DeleteRun deletes a run and its step results.
func (b *Backend) DeleteRun(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

func (b *Backend) stepResults(ctx context.Context, runID string) ([]workflow.StepResult, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT step_id, status, output, error, attempts, started_at, completed_at
		FROM step_results WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step results: %w", err)
	}
	defer rows.Close()

	results := []workflow.StepResult{}
	for rows.Next() {
		var res workflow.StepResult
		var status string
		var output, errStr, startedAt, completedAt sql.NullString
		if err := rows.Scan(&res.StepID, &status, &output, &errStr, &res.Attempts, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		res.Status = workflow.StepStatus(status)
		res.Error = errStr.String
		res.StartedAt = parseTime(startedAt)
		res.CompletedAt = parseTime(completedAt)
		if output.Valid && output.String != "" {
			if err := json.Unmarshal([]byte(output.String), &res.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output of step %s: %w", res.StepID, err)
			}
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// SaveWorkflow inserts or replaces a workflow definition.
func (b *Backend) SaveWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("workflow id required")
	}

	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	def, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, w.ID, w.Name, string(w.Status), string(def),
		w.CreatedAt.UTC().Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow definition by ID.
func (b *Backend) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var def string
	err := b.db.QueryRowContext(ctx, `SELECT definition FROM workflows WHERE id = ?`, id).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var w workflow.Workflow
	if err := json.Unmarshal([]byte(def), &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &w, nil
}

// ListWorkflows returns all workflow definitions ordered by name.
func (b *Backend) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT definition FROM workflows ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	result := []*workflow.Workflow{}
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		var w workflow.Workflow
		if err := json.Unmarshal([]byte(def), &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
		}
		result = append(result, &w)
	}
	return result, rows.Err()
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*workflow.WorkflowRun, error) {
	var run workflow.WorkflowRun
	var status, startedAt string
	var inputsJSON, outputsJSON, errStr, completedAt sql.NullString

	if err := s.Scan(&run.ID, &run.WorkflowID, &status, &inputsJSON, &outputsJSON, &errStr, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	run.Status = workflow.RunStatus(status)
	run.Error = errStr.String
	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	run.CompletedAt = parseTime(completedAt)

	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &run.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	if outputsJSON.Valid && outputsJSON.String != "" && outputsJSON.String != "null" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &run.Outputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
		}
	}
	return &run, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s.String)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
