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

package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// FileManifestEntry locates a canonical path within a bundle without
// requiring the whole bundle's metadata to be loaded first.
type FileManifestEntry struct {
	Bundle string `json:"bundle"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
}

// Registry is the global, read-only-after-load table the Bundle Manager
// resolves closures against (§3 "Registry"). The runtime-loaded
// package-map.json is the single authoritative source - no compiled-in
// bootstrap table ships with this implementation (§9 open question).
type Registry struct {
	mu sync.RWMutex

	bundleNames  map[string]struct{}
	packageMap   map[string]string
	fileManifest map[string]FileManifestEntry
	bundleDeps   map[string][]string
	packageDeps  map[string][]string

	loaded bool
}

// NewRegistry returns an empty, unloaded Registry.
func NewRegistry() *Registry {
	return &Registry{
		bundleNames:  make(map[string]struct{}),
		packageMap:   make(map[string]string),
		fileManifest: make(map[string]FileManifestEntry),
		bundleDeps:   make(map[string][]string),
		packageDeps:  make(map[string][]string),
	}
}

// RegistryLoader fetches the registry manifests over HTTP, against a single
// base URL (§6 "Registry files").
type RegistryLoader struct {
	BaseURL string
	Client  *http.Client
}

func (l *RegistryLoader) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *RegistryLoader) fetchJSON(ctx context.Context, name string, out interface{}) error {
	url := l.BaseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return common.NewError(common.KindFatal, "fetchJSON", err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return common.NewError(common.KindTransientIO, "fetchJSON", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return common.NewError(common.KindNotFound, "fetchJSON", fmt.Errorf("%s: %w", name, common.ErrNotFound))
	}
	if resp.StatusCode != http.StatusOK {
		return common.NewError(common.KindTransientIO, "fetchJSON", fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.NewError(common.KindTransientIO, "fetchJSON", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return common.NewError(common.KindMalformed, "fetchJSON", fmt.Errorf("%s: %w", name, err))
	}
	return nil
}

// Load fetches the three required manifests and the two optional dependency
// graphs, populating r. It is idempotent: a second call on an already-
// loaded Registry is a no-op (§4.2 "loadRegistry").
func (r *Registry) Load(ctx context.Context, loader *RegistryLoader) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	var names []string
	if err := loader.fetchJSON(ctx, "registry.json", &names); err != nil {
		return common.NewError(common.KindFatal, "Registry.Load", err)
	}

	var packageMap map[string]string
	if err := loader.fetchJSON(ctx, "package-map.json", &packageMap); err != nil {
		return common.NewError(common.KindFatal, "Registry.Load", err)
	}

	var manifest map[string]FileManifestEntry
	if err := loader.fetchJSON(ctx, "file-manifest.json", &manifest); err != nil {
		return common.NewError(common.KindFatal, "Registry.Load", err)
	}

	var bundleDeps map[string][]string
	if err := loader.fetchJSON(ctx, "bundle-deps.json", &bundleDeps); err != nil {
		if !common.IsKind(err, common.KindNotFound) {
			return common.NewError(common.KindFatal, "Registry.Load", err)
		}
		bundleDeps = map[string][]string{}
	}

	var packageDeps map[string][]string
	if err := loader.fetchJSON(ctx, "package-deps.json", &packageDeps); err != nil {
		if !common.IsKind(err, common.KindNotFound) {
			return common.NewError(common.KindFatal, "Registry.Load", err)
		}
		packageDeps = map[string][]string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.bundleNames[n] = struct{}{}
	}
	r.packageMap = packageMap
	r.fileManifest = manifest
	r.bundleDeps = bundleDeps
	r.packageDeps = packageDeps
	r.loaded = true
	return nil
}

// LoadStatic populates the registry directly (used by tests and by any
// caller that already has the manifests in hand, bypassing HTTP).
func (r *Registry) LoadStatic(names []string, packageMap map[string]string, manifest map[string]FileManifestEntry, bundleDeps, packageDeps map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.bundleNames[n] = struct{}{}
	}
	if packageMap != nil {
		r.packageMap = packageMap
	}
	if manifest != nil {
		r.fileManifest = manifest
	}
	if bundleDeps != nil {
		r.bundleDeps = bundleDeps
	}
	if packageDeps != nil {
		r.packageDeps = packageDeps
	}
	r.loaded = true
}

// HasBundle reports whether name is a known bundle.
func (r *Registry) HasBundle(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundleNames[name]
	return ok
}

// BundleFor returns the bundle a package maps to, if any.
func (r *Registry) BundleFor(pkg string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.packageMap[pkg]
	return b, ok
}

// BundleDeps returns the dependency bundles of name.
func (r *Registry) BundleDeps(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bundleDeps[name]
}

// PackageDeps returns the dependency packages of pkg, if known.
func (r *Registry) PackageDeps(pkg string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps, ok := r.packageDeps[pkg]
	return deps, ok
}

// FileManifestEntryFor returns the bundle+extent a canonical path lives in.
func (r *Registry) FileManifestEntryFor(canonicalPath string) (FileManifestEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.fileManifest[canonicalPath]
	return e, ok
}

// Loaded reports whether Load/LoadStatic has completed successfully.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}
