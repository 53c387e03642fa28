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

// Package shared holds the global flags, exit codes, output helpers and
// runtime wiring used by every stepflow command.
package shared

import (
	"github.com/tombee/stepflow/internal/config"
)

var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers for the root command's persistent
// flags.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &configFlag
}

func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

func GetVerbose() bool {
	return verboseFlag
}

func GetQuiet() bool {
	return quietFlag
}

func GetJSON() bool {
	return jsonFlag
}

func GetConfigPath() string {
	return configFlag
}

func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// SetJSONForTest toggles --json and returns a func restoring the old value.
func SetJSONForTest(v bool) func() {
	old := jsonFlag
	jsonFlag = v
	return func() { jsonFlag = old }
}

func SetConfigPathForTest(path string) {
	configFlag = path
}

// LoadConfig loads the file named by --config, or the default config file
// when the flag is unset.
func LoadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag)
	}
	return config.LoadDefault()
}
