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

import "context"

// Result is an engine invocation's observable outcome.
type Result struct {
	ExitCode int
	Log      string
	PDF      []byte // empty if the engine produced no output artifact
}

// Runner abstracts invoking a TeX engine binary against a working
// filesystem (§4.5). ProcessRunner execs a real binary; FakeRunner
// is a deterministic in-memory stand-in for tests.
type Runner interface {
	Run(ctx context.Context, argv []string, fs EngineFS) (*Result, error)
}
