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

//go:build texengine

package orchestrator

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// ProcessRunner execs a real pdflatex/xelatex/lualatex binary against a
// scratch directory synced from fs. It is built only under the texengine
// tag, since the binaries themselves are an external collaborator not
// present in this module (§1 "Out of scope").
type ProcessRunner struct {
	// WorkDir is the parent directory scratch compile directories are
	// created under. Defaults to os.TempDir() if empty.
	WorkDir string
}

func (p *ProcessRunner) Run(ctx context.Context, argv []string, fs EngineFS) (*Result, error) {
	if len(argv) == 0 {
		return nil, common.NewError(common.KindFatal, "ProcessRunner.Run", common.ErrInvalidName)
	}

	scratch, err := os.MkdirTemp(p.WorkDir, "texlazy-compile-")
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "ProcessRunner.Run", err)
	}
	defer os.RemoveAll(scratch)

	scratchFS := osfs.New(scratch)
	if err := syncToScratch(fs, scratchFS); err != nil {
		return nil, common.NewError(common.KindTransientIO, "ProcessRunner.Run", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = scratch
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	mainFile := argv[len(argv)-1]
	pdfPath := filepath.Join(scratch, trimExt(mainFile)+".pdf")
	pdf, _ := os.ReadFile(pdfPath)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, common.NewError(common.KindEngineFailure, "ProcessRunner.Run", runErr)
		}
	}

	return &Result{ExitCode: exitCode, Log: out.String(), PDF: pdf}, nil
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// syncToScratch copies every file the EngineFS has already mounted down
// into a real directory the engine binary can see. A minimal adapter walk
// suffices here since production EngineFS instances are themselves billy
// filesystems rooted at the compile's working directory.
func syncToScratch(fs EngineFS, dst billy.Filesystem) error {
	src, ok := fs.(*billyEngineFS)
	if !ok {
		return nil
	}
	return billyWalk(src.fs, "/", func(p string, data []byte) error {
		if dir := filepath.Dir(p); dir != "." && dir != "/" {
			if err := dst.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := dst.Create(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.Write(data)
		return err
	})
}

// billyWalk visits every regular file under root in src, calling visit with
// its path (relative to src's root) and full contents.
func billyWalk(src billy.Filesystem, root string, visit func(path string, data []byte) error) error {
	entries, err := src.ReadDir(root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		full := filepath.Join(root, entry.Name())
		if entry.IsDir() {
			if err := billyWalk(src, full, visit); err != nil {
				return err
			}
			continue
		}
		f, err := src.Open(full)
		if err != nil {
			return err
		}
		data, err := ioReadAllClose(f)
		if err != nil {
			return err
		}
		if err := visit(full, data); err != nil {
			return err
		}
	}
	return nil
}

func ioReadAllClose(f billy.File) ([]byte, error) {
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
