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

// Package bundle implements the Bundle Manager: resolving package
// identifiers to bundle identifiers, loading bundle payloads through a
// memory -> persistent store -> network cache chain, decompressing them, and
// exposing file extents to be mounted into an engine filesystem.
package bundle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/SiglumProject/busytex-lazy/internal/common"
)

// FileExtent is one file's position within a bundle's decompressed payload.
type FileExtent struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// CanonicalPath is the file's identity across every tier (§3 "Canonical path").
func (f FileExtent) CanonicalPath() string {
	return common.JoinCanonical(f.Path, f.Name)
}

// Metadata is the decoded shape of a bundle's <name>.meta.json.
type Metadata struct {
	Name      string       `json:"name"`
	Files     []FileExtent `json:"files"`
	TotalSize int64        `json:"totalSize"`
}

// Validate enforces Testable Property 1 (extents) and Property 8 (path
// safety). Files whose canonical path fails the /texlive/ prefix check are
// dropped, not the whole bundle; a structural problem (overlapping/
// unsorted extents, extent past totalSize) rejects the whole bundle as
// Malformed, since there is no way to safely serve a subset in that case.
func (m *Metadata) Validate() error {
	clean := make([]FileExtent, 0, len(m.Files))
	for _, f := range m.Files {
		cp := f.CanonicalPath()
		if !common.IsCanonicalPath(cp) {
			continue // logged by the caller at Warn; single file dropped
		}
		clean = append(clean, f)
	}
	m.Files = clean

	sorted := append([]FileExtent(nil), m.Files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var prevEnd int64
	for _, f := range sorted {
		if f.Start < prevEnd {
			return common.NewError(common.KindMalformed, "Metadata.Validate",
				fmt.Errorf("overlapping extents in bundle %q at offset %d", m.Name, f.Start))
		}
		if f.End < f.Start || f.End > m.TotalSize {
			return common.NewError(common.KindMalformed, "Metadata.Validate",
				fmt.Errorf("extent [%d,%d) out of bounds for bundle %q (totalSize=%d)", f.Start, f.End, m.Name, m.TotalSize))
		}
		prevEnd = f.End
	}
	return nil
}

// danglingPaths reports canonical paths that were dropped by Validate, for
// callers that want to log them individually.
func danglingPaths(files []FileExtent) []string {
	var bad []string
	for _, f := range files {
		cp := f.CanonicalPath()
		if !common.IsCanonicalPath(cp) {
			bad = append(bad, cp)
		}
	}
	return bad
}

// ParseMetadata decodes a <name>.meta.json payload.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, common.NewError(common.KindMalformed, "ParseMetadata", err)
	}
	return &m, nil
}
