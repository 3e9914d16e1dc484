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

//go:build !texengine

package orchestrator

import (
	"context"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// unavailableRunner is wired in whenever this binary was built without the
// texengine tag - the TeX engine binaries are an external collaborator not
// present in this module (§1 "Out of scope").
type unavailableRunner struct{}

func (unavailableRunner) Run(ctx context.Context, argv []string, fs EngineFS) (*Result, error) {
	return nil, common.NewError(common.KindFatal, "Runner.Run", common.ErrEngineUnavailable)
}

// DefaultRunner returns the Runner the daemon wires in by default. Without
// the texengine build tag, every compile fails fast with a clear error
// rather than silently invoking nothing.
func DefaultRunner() Runner {
	return unavailableRunner{}
}
