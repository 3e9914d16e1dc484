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

package cache

import "sync"

// BundleCache holds decompressed bundle payloads in process memory for the
// lifetime of the worker (§3 "Lifecycles": bundles are mounted on first
// demand and remain in memory... never rewritten). There is no TTL: a bundle
// name encodes its version, so a cached entry is valid forever until an
// explicit reset.
type BundleCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewBundleCache creates an empty bundle cache.
func NewBundleCache() *BundleCache {
	return &BundleCache{entries: make(map[string][]byte, 64)}
}

// Get returns the decompressed payload for name, and whether it was present.
func (c *BundleCache) Get(name string) ([]byte, bool) {
	if Disabled {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[name]
	return b, ok
}

// Set stores the decompressed payload for name.
func (c *BundleCache) Set(name string, payload []byte) {
	if Disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = payload
}

// Names returns the set of currently cached bundle names.
func (c *BundleCache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	return names
}

// Invalidate clears every cached bundle. Used by the "cache clear"
// administrative path; a total reset is an explicit user action (§3).
func (c *BundleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte, 64)
}

var _ Invalidator = (*BundleCache)(nil)
