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
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiglumProject/busytex-lazy/internal/bundle"
	"github.com/SiglumProject/busytex-lazy/internal/engine"
	"github.com/SiglumProject/busytex-lazy/internal/fetcher"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// fakeEngineFS is an in-memory EngineFS used across the orchestrator test
// suite, mirroring bundle package's fakeEngineFS but satisfying the richer
// {write, read, mkdir, unlink} surface the Orchestrator injects.
type fakeEngineFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeEngineFS() *fakeEngineFS {
	return &fakeEngineFS{files: map[string][]byte{}}
}

func (f *fakeEngineFS) Write(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), data...)
	return nil
}

func (f *fakeEngineFS) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[path], nil
}

func (f *fakeEngineFS) MkdirAll(path string) error { return nil }

func (f *fakeEngineFS) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	return nil
}

// newWildcardBundleServer answers any /bundles/<name>.data.gz and
// /bundles/<name>.meta.json request with an empty, validly-formed bundle, so
// tests can exercise the Orchestrator's state machine without caring about
// the bundle closure's exact contents.
func newWildcardBundleServer() *httptest.Server {
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	gw.Close()
	emptyPayload := gz.Bytes()

	mux := http.NewServeMux()
	mux.HandleFunc("/bundles/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case bytes.HasSuffix([]byte(r.URL.Path), []byte(".data.gz")):
			w.Write(emptyPayload)
		case bytes.HasSuffix([]byte(r.URL.Path), []byte(".meta.json")):
			json.NewEncoder(w).Encode(bundle.Metadata{Name: "x", Files: nil, TotalSize: 0})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return httptest.NewServer(mux)
}

type testHarness struct {
	st     *store.Store
	mgr    *bundle.Manager
	fetch  *fetcher.Fetcher
	sel    *engine.Selector
	bundleSrv *httptest.Server
	pkgMux *http.ServeMux
	pkgSrv *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenMem(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := bundle.NewRegistry()
	reg.LoadStatic(
		[]string{"core", "latex-base", "l3", "graphics", "tools", "fmt-pdflatex", "fonts-cm", "amsfonts", "lingmacros-bundle"},
		map[string]string{"lingmacros": "lingmacros-bundle"},
		nil, nil, nil,
	)

	bundleSrv := newWildcardBundleServer()
	t.Cleanup(bundleSrv.Close)

	mgr := bundle.NewManager(reg, st, &bundle.RegistryLoader{BaseURL: bundleSrv.URL}, nil)

	pkgMux := http.NewServeMux()
	pkgSrv := httptest.NewServer(pkgMux)
	t.Cleanup(pkgSrv.Close)

	f := fetcher.New(st, pkgSrv.URL, nil)
	sel := engine.New(st)

	return &testHarness{st: st, mgr: mgr, fetch: f, sel: sel, bundleSrv: bundleSrv, pkgMux: pkgMux, pkgSrv: pkgSrv}
}

// TestCompileColdCacheHelloWorld is scenario E1: a dependency-free document
// compiles successfully on the first attempt, with no retries.
func TestCompileColdCacheHelloWorld(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t)
	ctx := context.Background()

	runner := &FakeRunner{}
	orch := New(h.mgr, h.fetch, h.sel, h.st, runner, 0, nil)

	req := Request{JobID: "job-1", Source: "\\documentclass{article}\\begin{document}Hello\\end{document}", MainFile: "/work/main.tex", EngineHint: "pdflatex"}
	outcome, err := orch.Compile(ctx, req, newFakeEngineFS())
	require.NoError(t, err)

	assert.True(t, outcome.OK)
	assert.NotEmpty(t, outcome.PDF)
	assert.Equal(t, 0, outcome.Retries)
	assert.Equal(t, 1, runner.Calls())
}

// TestCompileRecoversMissingPackage is scenario E3: the engine first fails
// on a missing package, the Fetcher supplies it, and the second attempt
// succeeds.
func TestCompileRecoversMissingPackage(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t)
	ctx := context.Background()

	h.pkgMux.HandleFunc("/api/fetch/lingmacros", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name": "lingmacros",
			"files": map[string]interface{}{
				"/texlive/texmf-dist/tex/latex/lingmacros/lingmacros.sty": map[string]string{
					"path":    "/texlive/texmf-dist/tex/latex/lingmacros/lingmacros.sty",
					"content": "\\ProvidesPackage{lingmacros}",
				},
			},
			"dependencies": []string{},
		})
	})

	runner := &FakeRunner{Script: []Result{
		MissingFileResult("lingmacros.sty"),
	}}
	orch := New(h.mgr, h.fetch, h.sel, h.st, runner, 3, nil)

	req := Request{
		JobID:    "job-2",
		Source:   "\\documentclass{article}\\usepackage{lingmacros}\\begin{document}Hi\\end{document}",
		MainFile: "/work/main.tex",
		EngineHint: "pdflatex",
	}
	fs := newFakeEngineFS()
	outcome, err := orch.Compile(ctx, req, fs)
	require.NoError(t, err)

	assert.True(t, outcome.OK)
	assert.Equal(t, 1, outcome.Retries)
	assert.Equal(t, 1, outcome.PackagesFetched)
	assert.Equal(t, 2, runner.Calls())

	_, ok := fs.files["/texlive/texmf-dist/tex/latex/lingmacros/lingmacros.sty"]
	assert.True(t, ok, "recovered package file must be mounted before the retry")
}

// TestCompileNegativeCacheAcrossTwoCompiles is scenario E4: a package that
// the proxy reports as not-found is negative-cached, so a second, unrelated
// compile that needs the same package does not hit the network again and
// fails fast.
func TestCompileNegativeCacheAcrossTwoCompiles(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t)
	ctx := context.Background()

	var hits int
	h.pkgMux.HandleFunc("/api/fetch/doesnotexist", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	script := func() []Result {
		return []Result{MissingFileResult("doesnotexist.sty"), MissingFileResult("doesnotexist.sty")}
	}

	runner1 := &FakeRunner{Script: script()}
	orch1 := New(h.mgr, h.fetch, h.sel, h.st, runner1, 3, nil)
	req := Request{JobID: "job-3a", Source: "\\usepackage{doesnotexist}", MainFile: "/work/main.tex", EngineHint: "pdflatex"}
	outcome1, err := orch1.Compile(ctx, req, newFakeEngineFS())
	require.NoError(t, err)
	assert.False(t, outcome1.OK)
	assert.Equal(t, 1, hits)

	runner2 := &FakeRunner{Script: script()}
	orch2 := New(h.mgr, h.fetch, h.sel, h.st, runner2, 3, nil)
	req2 := Request{JobID: "job-3b", Source: "\\usepackage{doesnotexist}", MainFile: "/work/main.tex", EngineHint: "pdflatex"}
	outcome2, err := orch2.Compile(ctx, req2, newFakeEngineFS())
	require.NoError(t, err)
	assert.False(t, outcome2.OK)
	assert.Equal(t, 1, hits, "second compile must be served from the negative cache, not the network")
}

// TestCompileRetryBoundTermination checks the retry bound: a persistently failing
// document with a different missing file reported on every attempt must
// terminate at the retry bound rather than loop forever.
func TestCompileRetryBoundTermination(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t)
	ctx := context.Background()

	for _, name := range []string{"pkga", "pkgb", "pkgc", "pkgd"} {
		h.pkgMux.HandleFunc("/api/fetch/"+name, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"name":         name,
				"files":        map[string]interface{}{"/texlive/texmf-dist/tex/latex/" + name + "/" + name + ".sty": map[string]string{"path": "/texlive/texmf-dist/tex/latex/" + name + "/" + name + ".sty", "content": "x"}},
				"dependencies": []string{},
			})
		})
	}

	runner := &FakeRunner{Script: []Result{
		MissingFileResult("pkga.sty"),
		MissingFileResult("pkgb.sty"),
		MissingFileResult("pkgc.sty"),
		MissingFileResult("pkgd.sty"),
	}}
	orch := New(h.mgr, h.fetch, h.sel, h.st, runner, 3, nil)

	req := Request{JobID: "job-4", Source: "\\documentclass{article}", MainFile: "/work/main.tex", EngineHint: "pdflatex"}
	outcome, err := orch.Compile(ctx, req, newFakeEngineFS())
	require.NoError(t, err)

	assert.False(t, outcome.OK)
	assert.Equal(t, 3, outcome.Retries)
	assert.LessOrEqual(t, runner.Calls(), 4)
}

// TestCompileRetriesOnlyOncePerPackageName guards the progress guarantee: a
// package name that already produced nothing is never retried a second time
// within the same compile, even if the engine keeps reporting it missing.
func TestCompileRetriesOnlyOncePerPackageName(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t)
	ctx := context.Background()

	var hits int
	h.pkgMux.HandleFunc("/api/fetch/ghost", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})

	runner := &FakeRunner{Script: []Result{
		MissingFileResult("ghost.sty"),
		MissingFileResult("ghost.sty"),
		MissingFileResult("ghost.sty"),
	}}
	orch := New(h.mgr, h.fetch, h.sel, h.st, runner, 3, nil)

	req := Request{JobID: "job-5", Source: "\\documentclass{article}", MainFile: "/work/main.tex", EngineHint: "pdflatex"}
	outcome, err := orch.Compile(ctx, req, newFakeEngineFS())
	require.NoError(t, err)

	assert.False(t, outcome.OK)
	assert.Equal(t, 1, hits, "a package already known to produce nothing is attempted at most once per compile")
}
