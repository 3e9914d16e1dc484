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
	"fmt"
	"io"
	"net/http"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sirupsen/logrus"

	"github.com/SiglumProject/busytex-lazy/internal/cache"
	"github.com/SiglumProject/busytex-lazy/internal/common"
	"github.com/SiglumProject/busytex-lazy/internal/store"
)

// EngineFS is the narrow capability a bundle is mounted into (§9
// "Emscripten-style FS coupling"). The Orchestrator's own EngineFS satisfies
// this trivially; bundle.Manager never needs the full billy.Filesystem
// surface.
type EngineFS interface {
	Write(path string, data []byte) error
	MkdirAll(path string) error
}

// Manager is the Bundle Manager component (§4.2). It owns the in-process
// bundle payload cache, the Registry, and the persistent Store's blob
// backing for decompressed payloads.
type Manager struct {
	Registry *Registry
	Store    *store.Store
	Loader   *RegistryLoader

	log *logrus.Entry

	cache *cache.BundleCache // in-process tier: bundle name -> decompressed payload

	metaMu sync.RWMutex
	meta   map[string][]byte // bundle name -> raw metadata JSON, a lighter sibling tier

	group  singleflight.Group
	client *http.Client
}

// NewManager constructs a Manager. log may be nil, in which case a
// discard-by-default logger is used.
func NewManager(registry *Registry, st *store.Store, loader *RegistryLoader, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Manager{
		Registry: registry,
		Store:    st,
		Loader:   loader,
		log:      log.WithField("component", "bundle"),
		cache:    cache.NewBundleCache(),
		meta:     make(map[string][]byte),
		client:   http.DefaultClient,
	}
}

// LoadRegistry is a thin, idempotent wrapper over Registry.Load (§4.2
// "loadRegistry").
func (m *Manager) LoadRegistry(ctx context.Context) error {
	return m.Registry.Load(ctx, m.Loader)
}

// ClearCache drops every cached bundle payload and metadata blob, forcing
// the next LoadBundle/MountBundle to fall through to the blob store or
// network. Wired as the "cache clear" administrative command (§4.8).
func (m *Manager) ClearCache() {
	m.cache.Invalidate()
	m.metaMu.Lock()
	m.meta = make(map[string][]byte)
	m.metaMu.Unlock()
}

func (m *Manager) loadMetaFromMemory(name string) ([]byte, bool) {
	m.metaMu.RLock()
	defer m.metaMu.RUnlock()
	raw, ok := m.meta[name]
	return raw, ok
}

func (m *Manager) storeMetaInMemory(name string, raw []byte) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()
	m.meta[name] = raw
}

// LoadBundle implements the three-tier cache lookup: in-process map, blob
// store, network (§4.2 "loadBundle"). Concurrent callers for the same name
// share one in-flight fetch via singleflight, satisfying Testable Property 3
// (at-most-once fetch).
func (m *Manager) LoadBundle(ctx context.Context, name string) ([]byte, error) {
	if payload, ok := m.cache.Get(name); ok {
		return payload, nil
	}

	v, err, _ := m.group.Do(name, func() (interface{}, error) {
		if payload, ok := m.cache.Get(name); ok {
			return payload, nil
		}

		if blob, err := m.Store.Blob.Read("bundle:" + name); err == nil {
			m.cache.Set(name, blob)
			return blob, nil
		} else if !common.IsKind(err, common.KindNotFound) {
			m.log.WithError(err).WithField("bundle", name).Warn("blob store read failed, falling through to network")
		}

		payload, err := m.fetchAndDecompress(ctx, name)
		if err != nil {
			return nil, err
		}

		m.cache.Set(name, payload)
		if err := m.Store.Blob.Write("bundle:"+name, payload); err != nil {
			m.log.WithError(err).WithField("bundle", name).Warn("failed to persist decompressed bundle")
		} else if err := m.Store.DB.PutBundleCache(ctx, name, int64(len(payload))); err != nil {
			m.log.WithError(err).WithField("bundle", name).Warn("failed to record bundle_cache row")
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (m *Manager) fetchAndDecompress(ctx context.Context, name string) ([]byte, error) {
	url := fmt.Sprintf("%s/bundles/%s.data.gz", m.Loader.BaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.NewError(common.KindFatal, "fetchAndDecompress", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "fetchAndDecompress", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, common.NewError(common.KindNotFound, "fetchAndDecompress", fmt.Errorf("bundle %q: %w", name, common.ErrNotFound))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, common.NewError(common.KindTransientIO, "fetchAndDecompress", fmt.Errorf("bundle %q: unexpected status %d", name, resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "fetchAndDecompress", err)
	}
	payload, err := Decompress(raw)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// LoadBundles is the parallel version of LoadBundle, fanning out with a
// bounded worker pool (§4.2 "loadBundles").
func (m *Manager) LoadBundles(ctx context.Context, names []string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, name := range names {
		name := name
		g.Go(func() error {
			payload, err := m.LoadBundle(ctx, name)
			if err != nil {
				if common.IsKind(err, common.KindMalformed) || common.IsKind(err, common.KindNotFound) {
					m.log.WithError(err).WithField("bundle", name).Warn("skipping bundle")
					return nil
				}
				return err
			}
			mu.Lock()
			results[name] = payload
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// MountBundle fetches name's metadata, validates it, and writes each file
// extent into fs (§4.2 "mountBundle"). Per-file errors are logged and
// skipped; only a Malformed/metadata-level error aborts the whole bundle.
func (m *Manager) MountBundle(ctx context.Context, name string, fs EngineFS) error {
	payload, err := m.LoadBundle(ctx, name)
	if err != nil {
		return err
	}

	metaRaw, err := m.fetchMetadata(ctx, name)
	if err != nil {
		return err
	}
	meta, err := ParseMetadata(metaRaw)
	if err != nil {
		return err
	}
	for _, bad := range danglingPaths(meta.Files) {
		m.log.WithField("bundle", name).WithField("path", bad).Warn("dropping file outside /texlive/")
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	for _, f := range meta.Files {
		if f.End > int64(len(payload)) || f.Start < 0 {
			m.log.WithField("bundle", name).WithField("path", f.CanonicalPath()).Warn("extent out of range, skipping file")
			continue
		}
		data := payload[f.Start:f.End]
		if err := fs.MkdirAll(path.Dir(f.CanonicalPath())); err != nil {
			m.log.WithError(err).WithField("path", f.CanonicalPath()).Warn("mkdir failed, skipping file")
			continue
		}
		if err := fs.Write(f.CanonicalPath(), data); err != nil {
			m.log.WithError(err).WithField("path", f.CanonicalPath()).Warn("mount write failed, skipping file")
		}
	}
	return nil
}

func (m *Manager) fetchMetadata(ctx context.Context, name string) ([]byte, error) {
	if raw, ok := m.loadMetaFromMemory(name); ok {
		return raw, nil
	}
	url := fmt.Sprintf("%s/bundles/%s.meta.json", m.Loader.BaseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.NewError(common.KindFatal, "fetchMetadata", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "fetchMetadata", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, common.NewError(common.KindMalformed, "fetchMetadata", fmt.Errorf("bundle %q metadata: status %d", name, resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "fetchMetadata", err)
	}
	m.storeMetaInMemory(name, raw)
	return raw, nil
}

// MountBundles mounts every one of names into fs, in closure order (the
// order ResolveBundles returned). Mounting must remain serial per the
// caller's ordering guarantee even though loading is parallel (§5,
// "each individual bundle's load-decompress-mount is atomic from the
// caller's view").
func (m *Manager) MountBundles(ctx context.Context, names []string, fs EngineFS) error {
	if _, err := m.LoadBundles(ctx, names); err != nil {
		return err
	}
	for _, name := range names {
		if err := m.MountBundle(ctx, name, fs); err != nil {
			if common.IsKind(err, common.KindMalformed) || common.IsKind(err, common.KindNotFound) {
				m.log.WithError(err).WithField("bundle", name).Warn("skipping bundle at mount")
				continue
			}
			return err
		}
	}
	return nil
}
