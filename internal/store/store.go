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

// Package store implements the Persistent Store component (§4 "Persistent
// Store"): a blob store for bundle payloads and materialized files, layered
// with a SQLite-backed record store for package metadata, aliases, engine
// statistics and flags, and compile job telemetry.
package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store combines the blob store and the record store behind a single handle,
// the shape every other component is handed at construction time.
type Store struct {
	Blob *BlobStore
	DB   *DB
}

// Open opens (creating if absent) a disk-backed Store rooted at dir:
// dir/files and dir/bundles hold blob data, dir/texlazy.db holds records.
func Open(ctx context.Context, dir string) (*Store, error) {
	blob, err := NewOSBlobStore(dir)
	if err != nil {
		return nil, err
	}
	db, err := OpenDB(ctx, filepath.Join(dir, "texlazy.db"))
	if err != nil {
		return nil, fmt.Errorf("open store at %q: %w", dir, err)
	}
	return &Store{Blob: blob, DB: db}, nil
}

// OpenMem opens an in-memory Store, used by component tests and the
// Orchestrator's test harness.
func OpenMem(ctx context.Context) (*Store, error) {
	db, err := OpenDB(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{Blob: NewMemBlobStore(), DB: db}, nil
}

// Close releases the record store's database connection. The blob store
// holds no resources that need releasing.
func (s *Store) Close() error {
	return s.DB.Close()
}
