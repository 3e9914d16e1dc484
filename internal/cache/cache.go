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

// Package cache provides the in-process caches the bundle manager and
// package fetcher layer on top of the persistent store.
//
// Design Principles:
// 1. Whole-cache reset - Invalidate clears every entry; there is no per-entry eviction
// 2. Single layer ownership - Each cache lives in one layer (no cross-layer signaling)
//
// Currently provides:
// - BundleCache: permanent in-memory store of decompressed bundle payloads
// - SingleFlight wrappers live in internal/bundle and internal/fetcher themselves,
//   since they dedup calls to those packages' own network paths.
package cache

import "os"

// Disabled controls whether all caching mechanisms are disabled.
// Set via TEXLAZY_CACHE=0 environment variable.
// When true, Get always misses and Set is a no-op.
//
// This is useful for testing and debugging to verify logic works correctly
// without caching, and to isolate cache-related bugs.
var Disabled = os.Getenv("TEXLAZY_CACHE") == "0"

// Invalidator is implemented by all caches that support full invalidation.
type Invalidator interface {
	// Invalidate clears all entries from the cache.
	Invalidate()
}
