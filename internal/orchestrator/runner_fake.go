// Copyright 2024 LatentFS Authors
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

package orchestrator

import (
	"context"
	"fmt"
)

// FakeRunner is a deterministic in-memory stand-in for a real engine
// binary, used by the test suite to simulate the "file not found" log line
// deterministically (§4.5, §8). Each call
// pops the next scripted Result off Script; once exhausted, Run reports
// success with a minimal synthetic PDF.
type FakeRunner struct {
	Script []Result
	calls  int
}

// Run returns the next scripted result, advancing the script cursor.
func (r *FakeRunner) Run(ctx context.Context, argv []string, fs EngineFS) (*Result, error) {
	if r.calls < len(r.Script) {
		res := r.Script[r.calls]
		r.calls++
		return &res, nil
	}
	r.calls++
	return &Result{ExitCode: 0, Log: "Output written on out.pdf.", PDF: []byte("%PDF-1.5\n%%fake\n")}, nil
}

// Calls reports how many times Run has been invoked.
func (r *FakeRunner) Calls() int { return r.calls }

// MissingFileResult builds a scripted failure whose log line matches the
// Orchestrator's missing-file detection regex, for a given filename.
func MissingFileResult(missing string) Result {
	return Result{
		ExitCode: 1,
		Log:      fmt.Sprintf("! LaTeX Error: File `%s' not found.", missing),
	}
}
