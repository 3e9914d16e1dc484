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

import "github.com/uptrace/bun"

// Bun ORM models for the record store's tables (§3, §6 "Persisted layout").

// SchemaInfoModel represents the schema_info table.
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// RecordModel is the generic JSON-valued record the spec's record store
// contract (getRecord/putRecord/deleteRecord/listKeys) is built on. Every
// namespaced key - "pkg:<name>", "stats:<fingerprint>", "flag:<fp>:<name>",
// "aliases" - lives in this one table, mirroring the teacher's ConfigModel
// key/value pattern but with a JSON value instead of a plain string.
type RecordModel struct {
	bun.BaseModel `bun:"table:records"`

	Key       string `bun:"key,pk"`
	Value     []byte `bun:"value,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"`
}

// BundleCacheModel records that a bundle's decompressed payload has been
// durably written to the blob store under its bundle:<name> pseudo-path.
// The bytes themselves live in the blob store, not in this row.
type BundleCacheModel struct {
	bun.BaseModel `bun:"table:bundle_cache"`

	Name      string `bun:"name,pk"`
	TotalSize int64  `bun:"total_size,notnull"`
	LoadedAt  int64  `bun:"loaded_at,notnull"`
}

// CompileJobModel represents one Orchestrator run, from S0 to S_done.
type CompileJobModel struct {
	bun.BaseModel `bun:"table:compile_jobs"`

	JobID           string `bun:"job_id,pk"`
	SubmittedAt     int64  `bun:"submitted_at,notnull"`
	Engine          string `bun:"engine,notnull"`
	Status          string `bun:"status,notnull"` // "success" | "failure"
	Retries         int    `bun:"retries,notnull"`
	BytesDownloaded int64  `bun:"bytes_downloaded,notnull"`
	PackagesFetched int    `bun:"packages_fetched,notnull"`
	DurationMs      int64  `bun:"duration_ms,notnull"`
}
