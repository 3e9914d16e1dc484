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

package store

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// BlobStore persists bundle payloads and materialized source files behind a
// billy.Filesystem capability, so production code runs against the real
// disk (osfs) while tests run against an in-memory filesystem (memfs) with
// no behavioural difference (§8 "Tests use an in-memory implementation").
type BlobStore struct {
	fs billy.Filesystem
}

// NewBlobStore wraps an already-constructed billy.Filesystem.
func NewBlobStore(fs billy.Filesystem) *BlobStore {
	return &BlobStore{fs: fs}
}

// NewOSBlobStore creates a BlobStore rooted at a directory on disk.
func NewOSBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create blob store root: %w", err)
	}
	return NewBlobStore(osfs.New(root)), nil
}

// NewMemBlobStore creates an in-memory BlobStore, used by component tests
// and by the Orchestrator's test harness.
func NewMemBlobStore() *BlobStore {
	return NewBlobStore(memfs.New())
}

// blobPath maps a canonical TeX path ("/texlive/...") or a pseudo-path
// ("bundle:<name>") onto a relative filesystem path safe to hand to billy.
func blobPath(key string) (string, error) {
	if strings.HasPrefix(key, "bundle:") {
		return path.Join("bundles", strings.TrimPrefix(key, "bundle:")), nil
	}
	if !common.IsCanonicalPath(key) {
		return "", common.NewError(common.KindMalformed, "blobPath", fmt.Errorf("%w: %q", common.ErrInvalidPath, key))
	}
	return path.Join("files", strings.TrimPrefix(key, common.CanonicalRoot)), nil
}

// Write stores data under key, creating parent directories as needed.
// A second Write to the same key overwrites it - last writer wins, per the
// Bundle Manager's idempotent-mount contract (§4 "Bundle Manager").
func (b *BlobStore) Write(key string, data []byte) error {
	rel, err := blobPath(key)
	if err != nil {
		return err
	}
	if dir := path.Dir(rel); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return common.NewError(common.KindTransientIO, "BlobStore.Write", err)
		}
	}
	f, err := b.fs.Create(rel)
	if err != nil {
		return common.NewError(common.KindTransientIO, "BlobStore.Write", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return common.NewError(common.KindTransientIO, "BlobStore.Write", err)
	}
	return nil
}

// Read returns the bytes stored under key. A missing key yields
// common.ErrNotFound wrapped as common.KindNotFound.
func (b *BlobStore) Read(key string) ([]byte, error) {
	rel, err := blobPath(key)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.Open(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewError(common.KindNotFound, "BlobStore.Read", common.ErrNotFound)
		}
		return nil, common.NewError(common.KindTransientIO, "BlobStore.Read", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, common.NewError(common.KindTransientIO, "BlobStore.Read", err)
	}
	return data, nil
}

// Exists reports whether key has been written.
func (b *BlobStore) Exists(key string) (bool, error) {
	rel, err := blobPath(key)
	if err != nil {
		return false, err
	}
	if _, err := b.fs.Stat(rel); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, common.NewError(common.KindTransientIO, "BlobStore.Exists", err)
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (b *BlobStore) Delete(key string) error {
	rel, err := blobPath(key)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(rel); err != nil && !os.IsNotExist(err) {
		return common.NewError(common.KindTransientIO, "BlobStore.Delete", err)
	}
	return nil
}

// Filesystem exposes the underlying billy.Filesystem for components - the
// Orchestrator's EngineFS in particular - that need direct filesystem
// semantics (rooted working directories, Chroot) rather than key/value
// blob access.
func (b *BlobStore) Filesystem() billy.Filesystem {
	return b.fs
}
