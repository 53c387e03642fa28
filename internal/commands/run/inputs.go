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
	"os"
	"strings"
)

// loadInputFile loads inputs from a JSON file, or from stdin when path is "-".
func loadInputFile(path string, stdin io.Reader) (map[string]any, error) {
	var data []byte
	var err error

	if path == "-" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return inputs, nil
}

// parseInputs merges key=value arguments over the inputs from inputFile.
// A value starting with @ is read from the named file.
func parseInputs(inputArgs []string, inputFile string, stdin io.Reader) (map[string]any, error) {
	inputs := make(map[string]any)
	if inputFile != "" {
		var err error
		inputs, err = loadInputFile(inputFile, stdin)
		if err != nil {
			return nil, err
		}
	}

	for _, arg := range inputArgs {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q (expected key=value)", arg)
		}
		if strings.HasPrefix(value, "@") {
			data, err := os.ReadFile(value[1:])
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", key, err)
			}
			value = string(data)
		}
		inputs[key] = value
	}

	return inputs, nil
}
