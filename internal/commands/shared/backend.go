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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/stepflow/internal/backend"
	"github.com/tombee/stepflow/internal/backend/memory"
	"github.com/tombee/stepflow/internal/backend/redis"
	"github.com/tombee/stepflow/internal/backend/sqlite"
	"github.com/tombee/stepflow/internal/config"
)

// OpenBackend creates the storage backend selected by cfg.
func OpenBackend(ctx context.Context, cfg *config.Config) (backend.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.Storage.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		be, err := sqlite.New(sqlite.Config{
			Path: cfg.Storage.SQLite.Path,
			WAL:  cfg.Storage.SQLite.WAL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite backend: %w", err)
		}
		return be, nil
	case config.BackendRedis:
		be, err := redis.New(ctx, redis.Config{
			URL:    cfg.Storage.Redis.URL,
			Prefix: cfg.Storage.Redis.Prefix,
			RunTTL: cfg.Storage.Redis.RunTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis backend: %w", err)
		}
		return be, nil
	default:
		return memory.New(), nil
	}
}
