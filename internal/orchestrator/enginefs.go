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

// Package orchestrator implements the Compilation Orchestrator: the
// explicit state machine that selects an engine, computes a bundle closure,
// mounts it, invokes the engine, and on a "file not found" failure parses
// the log, fetches the missing package, and retries within a bound.
package orchestrator

import (
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// EngineFS is the capability the Orchestrator injects into an engine
// invocation: {write, read, mkdir, unlink} (§9 "Emscripten-style FS
// coupling"). It is satisfied by an adapter over billy.Filesystem; the
// daemon hands each compile a fresh memfs.
type EngineFS interface {
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	MkdirAll(path string) error
	Remove(path string) error
}

// billyEngineFS adapts a billy.Filesystem to EngineFS, the same adapter
// shape the teacher's BillyAdapter uses to front an arbitrary filesystem
// implementation with a narrow capability surface.
type billyEngineFS struct {
	fs billy.Filesystem
}

// NewBillyEngineFS wraps fs as an EngineFS.
func NewBillyEngineFS(fs billy.Filesystem) EngineFS {
	return &billyEngineFS{fs: fs}
}

func toRelative(canonicalPath string) string {
	return strings.TrimPrefix(canonicalPath, "/")
}

func (b *billyEngineFS) Write(p string, data []byte) error {
	rel := toRelative(p)
	if dir := path.Dir(rel); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := b.fs.Create(rel)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (b *billyEngineFS) Read(p string) ([]byte, error) {
	f, err := b.fs.Open(toRelative(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (b *billyEngineFS) MkdirAll(p string) error {
	return b.fs.MkdirAll(toRelative(p), 0o755)
}

func (b *billyEngineFS) Remove(p string) error {
	return b.fs.Remove(toRelative(p))
}
