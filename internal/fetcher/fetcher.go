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

package fetcher

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/SiglumProject/busytex-lazy/internal/common"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// Fetcher is the Package Fetcher component (§4.3).
type Fetcher struct {
	ProxyBaseURL string
	Store        *store.Store
	Client       *http.Client

	log   *logrus.Entry
	group singleflight.Group

	mu           sync.Mutex
	mountedFiles map[string]struct{}
}

// New constructs a Fetcher. log may be nil.
func New(st *store.Store, proxyBaseURL string, log *logrus.Entry) *Fetcher {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Fetcher{
		ProxyBaseURL: proxyBaseURL,
		Store:        st,
		log:          log.WithField("component", "fetcher"),
		mountedFiles: make(map[string]struct{}),
	}
}

// FetchPackage obtains files for name, consulting the cache protocol before
// ever reaching the network, and returns nil (no error) if the package is
// unresolvable (§4.3 "fetchPackage"). In-flight requests for the same name
// are deduplicated via singleflight (Testable Property 3, extended to
// packages).
func (f *Fetcher) FetchPackage(ctx context.Context, name string) (map[string][]byte, error) {
	v, err, _ := f.group.Do(name, func() (interface{}, error) {
		return f.fetchPackageLocked(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(map[string][]byte), nil
}

func (f *Fetcher) fetchPackageLocked(ctx context.Context, name string) (map[string][]byte, error) {
	if files, ok, err := f.checkCache(ctx, name); err != nil {
		return nil, err
	} else if ok {
		return files, nil
	}

	aliases, err := f.Store.DB.GetAliases(ctx)
	if err != nil {
		return nil, err
	}
	effectiveName := name
	if target, ok := aliases[name]; ok {
		if files, ok, err := f.checkCache(ctx, target); err != nil {
			return nil, err
		} else if ok {
			return files, nil
		}
		effectiveName = target
	}

	result, found, err := f.callFetch(ctx, effectiveName)
	if err != nil {
		// Transient: fall through to nil, do not persist a negative.
		f.log.WithError(err).WithField("package", effectiveName).Warn("transient fetch failure")
		return nil, nil
	}
	if found {
		f.persistResult(ctx, effectiveName, result)
		return result.Files, nil
	}

	// Not found under effectiveName: try alias discovery (one hop bound).
	if effectiveName == name {
		if parent, ok, err := f.callPkg(ctx, name); err == nil && ok {
			if err := f.Store.DB.PutAlias(ctx, name, parent); err != nil {
				f.log.WithError(err).WithField("package", name).Warn("failed to persist alias")
			}
			if result2, found2, err2 := f.callFetch(ctx, parent); err2 == nil && found2 {
				f.persistResult(ctx, parent, result2)
				return result2.Files, nil
			}
		}
	}

	if err := f.Store.DB.PutNotFound(ctx, name); err != nil {
		f.log.WithError(err).WithField("package", name).Warn("failed to persist negative cache entry")
	}
	return nil, nil
}

// checkCache implements the Fetcher's cache protocol (§4.3 "Cache protocol").
func (f *Fetcher) checkCache(ctx context.Context, name string) (map[string][]byte, bool, error) {
	rec, ok, err := f.Store.DB.GetPackage(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if rec.NotFound {
		return nil, true, nil
	}

	files := make(map[string][]byte, len(rec.CanonicalPaths))
	for _, path := range rec.CanonicalPaths {
		data, err := f.Store.Blob.Read(path)
		if err != nil {
			if common.IsKind(err, common.KindNotFound) {
				// Cache says we have it, blob store disagrees: treat as a
				// miss and let the network path repair it.
				return nil, false, nil
			}
			return nil, false, err
		}
		files[path] = data
		f.markMounted(path)
	}
	return files, true, nil
}

func (f *Fetcher) persistResult(ctx context.Context, name string, result *fetchResult) {
	paths := make([]string, 0, len(result.Files))
	for canonicalPath, data := range result.Files {
		if err := f.Store.Blob.Write(canonicalPath, data); err != nil {
			f.log.WithError(err).WithField("path", canonicalPath).Warn("failed to persist fetched file")
			continue
		}
		paths = append(paths, canonicalPath)
		f.markMounted(canonicalPath)
	}
	rec := store.PackageRecord{
		Name:           name,
		CanonicalPaths: paths,
		Dependencies:   result.Dependencies,
	}
	if err := f.Store.DB.PutPackage(ctx, rec); err != nil {
		f.log.WithError(err).WithField("package", name).Warn("failed to persist package record")
	}
}

func (f *Fetcher) markMounted(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mountedFiles[path] = struct{}{}
}

// FetchWithDependencies returns the transitive closure of files for name,
// cycle-safe via a visited set (§4.3 "fetchWithDependencies", §9 "Cyclic
// dependency tolerance").
func (f *Fetcher) FetchWithDependencies(ctx context.Context, name string) (map[string][]byte, error) {
	all := make(map[string][]byte)
	visited := make(map[string]struct{})

	var visit func(n string) error
	visit = func(n string) error {
		if _, ok := visited[n]; ok {
			return nil
		}
		visited[n] = struct{}{}

		files, err := f.FetchPackage(ctx, n)
		if err != nil {
			return err
		}
		if files == nil {
			return nil
		}
		for path, data := range files {
			all[path] = data
		}

		rec, ok, err := f.Store.DB.GetPackage(ctx, n)
		if err != nil || !ok || rec.NotFound {
			return nil
		}
		for _, dep := range rec.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(name); err != nil {
		return nil, err
	}
	return all, nil
}

// GetMountedFiles returns every canonical path mounted this session, used
// by the Orchestrator to decide when to re-mount before a retry (§4.3
// "getMountedFiles").
func (f *Fetcher) GetMountedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.mountedFiles))
	for p := range f.mountedFiles {
		paths = append(paths, p)
	}
	return paths
}
