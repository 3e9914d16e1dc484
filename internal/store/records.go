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
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SiglumProject/busytex-lazy/internal/util"
)

// Record store key namespaces (§3, §6 "Persisted layout").
const (
	keyPrefixPackage = "pkg:"
	keyPrefixStats   = "stats:"
	keyPrefixFlag    = "flag:"
	keyAliases       = "aliases"
)

// GetRecord fetches the raw value stored under key. ok is false when the key
// is absent - callers must not treat that as an error.
func (d *DB) GetRecord(ctx context.Context, key string) (value []byte, ok bool, err error) {
	var row RecordModel
	err = d.NewSelect().Model(&row).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get record %q: %w", key, err)
	}
	return row.Value, true, nil
}

// PutRecord upserts the value stored under key. Retries on "database is
// locked" since the daemon and the CLI's direct-mode path can both have the
// record store open at once.
func (d *DB) PutRecord(ctx context.Context, key string, value []byte) error {
	return util.Retry(ctx, func() error {
		return d.putRecordInternal(ctx, key, value)
	}, util.DatabaseRetryOptions(ctx)...)
}

func (d *DB) putRecordInternal(ctx context.Context, key string, value []byte) error {
	row := &RecordModel{Key: key, Value: value, UpdatedAt: time.Now().Unix()}
	_, err := d.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put record %q: %w", key, err)
	}
	return nil
}

// DeleteRecord removes key. Deleting an absent key is not an error.
func (d *DB) DeleteRecord(ctx context.Context, key string) error {
	return util.Retry(ctx, func() error {
		return d.deleteRecordInternal(ctx, key)
	}, util.DatabaseRetryOptions(ctx)...)
}

func (d *DB) deleteRecordInternal(ctx context.Context, key string) error {
	_, err := d.NewDelete().Model((*RecordModel)(nil)).Where("key = ?", key).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", key, err)
	}
	return nil
}

// ListKeys returns every key with the given prefix, in no particular order.
func (d *DB) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var rows []RecordModel
	q := d.NewSelect().Model(&rows).Column("key")
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE ?", escapeLike(prefix)+"%", "\\")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

// PackageRecord is the persisted metadata for a resolved CTAN-style package
// name (§3 "Package record"). NotFound marks a negative-cache entry: the
// fetcher has already established the package does not exist upstream.
type PackageRecord struct {
	Name           string   `json:"name"`
	CanonicalPaths []string `json:"canonical_paths,omitempty"`
	Dependencies   []string `json:"dependencies,omitempty"`
	CacheVersion   int      `json:"cache_version"`
	NotFound       bool     `json:"not_found,omitempty"`
}

func packageKey(name string) string { return keyPrefixPackage + name }

// GetPackage returns the package record for name, or ok=false if absent or
// stamped with a stale CacheVersion - a version mismatch is treated
// identically to a miss (§3, §9 open-question decision: invalidation is by
// CacheVersion only, never by wall-clock age).
func (d *DB) GetPackage(ctx context.Context, name string) (rec PackageRecord, ok bool, err error) {
	raw, found, err := d.GetRecord(ctx, packageKey(name))
	if err != nil || !found {
		return PackageRecord{}, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return PackageRecord{}, false, fmt.Errorf("decode package record %q: %w", name, err)
	}
	if rec.CacheVersion != CacheVersion {
		return PackageRecord{}, false, nil
	}
	return rec, true, nil
}

// PutPackage persists rec, stamping it with the current CacheVersion.
func (d *DB) PutPackage(ctx context.Context, rec PackageRecord) error {
	rec.CacheVersion = CacheVersion
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode package record %q: %w", rec.Name, err)
	}
	return d.PutRecord(ctx, packageKey(rec.Name), raw)
}

// PutNotFound records a negative-cache entry for name (§5 "Negative caching").
func (d *DB) PutNotFound(ctx context.Context, name string) error {
	return d.PutPackage(ctx, PackageRecord{Name: name, NotFound: true})
}

// AliasTable maps an unresolved package name to the name the fetcher
// eventually resolved it to, learned one hop at a time (§5 "Alias learning").
type AliasTable map[string]string

// GetAliases loads the whole alias table. An absent table is an empty one,
// not an error.
func (d *DB) GetAliases(ctx context.Context) (AliasTable, error) {
	raw, ok, err := d.GetRecord(ctx, keyAliases)
	if err != nil {
		return nil, err
	}
	if !ok {
		return AliasTable{}, nil
	}
	var table AliasTable
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode alias table: %w", err)
	}
	return table, nil
}

// PutAlias learns that from resolves to to, persisting the updated table.
// Callers are responsible for enforcing the one-hop bound (§5) before
// calling this - the store itself does not chase chains.
func (d *DB) PutAlias(ctx context.Context, from, to string) error {
	table, err := d.GetAliases(ctx)
	if err != nil {
		return err
	}
	table[from] = to
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("encode alias table: %w", err)
	}
	return d.PutRecord(ctx, keyAliases, raw)
}

// EngineStats holds the learned, incrementally-updated mean cost of
// compiling documents with a given preamble fingerprint on a given engine
// (§4 "Engine Selector", decision step 4 "learned statistics").
type EngineStats struct {
	Fingerprint  string  `json:"fingerprint"`
	Engine       string  `json:"engine"`
	SampleCount  int     `json:"sample_count"`
	MeanDuration float64 `json:"mean_duration_ms"`
	SuccessRate  float64 `json:"success_rate"`
	LastUsedMs   int64   `json:"last_used_ms"`
}

func statsKey(fingerprint, engine string) string {
	return keyPrefixStats + fingerprint + ":" + engine
}

// GetStats returns the learned stats for fingerprint+engine, or ok=false
// if no observations have been recorded yet.
func (d *DB) GetStats(ctx context.Context, fingerprint, engine string) (stats EngineStats, ok bool, err error) {
	raw, found, err := d.GetRecord(ctx, statsKey(fingerprint, engine))
	if err != nil || !found {
		return EngineStats{}, false, err
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return EngineStats{}, false, fmt.Errorf("decode engine stats %q/%q: %w", fingerprint, engine, err)
	}
	return stats, true, nil
}

// UpdateStats folds one more observation into the running mean, creating the
// record on first observation. The update is monotone: SampleCount only
// grows, which the Engine Selector relies on for its learning-is-monotone
// property (§8 Testable Property 7).
func (d *DB) UpdateStats(ctx context.Context, fingerprint, engine string, durationMs float64, success bool, nowMs int64) error {
	stats, ok, err := d.GetStats(ctx, fingerprint, engine)
	if err != nil {
		return err
	}
	if !ok {
		stats = EngineStats{Fingerprint: fingerprint, Engine: engine}
	}
	n := float64(stats.SampleCount)
	successValue := 0.0
	if success {
		successValue = 1.0
	}
	stats.MeanDuration = (stats.MeanDuration*n + durationMs) / (n + 1)
	stats.SuccessRate = (stats.SuccessRate*n + successValue) / (n + 1)
	stats.SampleCount++
	stats.LastUsedMs = nowMs

	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode engine stats %q/%q: %w", fingerprint, engine, err)
	}
	return d.PutRecord(ctx, statsKey(fingerprint, engine), raw)
}

func flagKey(fingerprint, name string) string {
	return keyPrefixFlag + fingerprint + ":" + name
}

// GetFlag returns a learned boolean flag for a preamble fingerprint, e.g.
// a "requires-xelatex" fact discovered by a previous compile's hard
// requirement scan. ok is false if the flag was never set.
func (d *DB) GetFlag(ctx context.Context, fingerprint, name string) (value bool, ok bool, err error) {
	raw, found, err := d.GetRecord(ctx, flagKey(fingerprint, name))
	if err != nil || !found {
		return false, false, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, false, fmt.Errorf("decode engine flag %q/%q: %w", fingerprint, name, err)
	}
	return value, true, nil
}

// PutFlag persists a learned boolean flag for fingerprint.
func (d *DB) PutFlag(ctx context.Context, fingerprint, name string, value bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return d.PutRecord(ctx, flagKey(fingerprint, name), raw)
}

// CompileJob telemetry (not part of the spec's literal record store; a
// SPEC_FULL.md non-regression addition, §3 "Compile job record").

// PutCompileJob inserts or replaces the telemetry row for one Orchestrator
// run.
func (d *DB) PutCompileJob(ctx context.Context, job CompileJobModel) error {
	return util.Retry(ctx, func() error {
		return d.putCompileJobInternal(ctx, job)
	}, util.DatabaseRetryOptions(ctx)...)
}

func (d *DB) putCompileJobInternal(ctx context.Context, job CompileJobModel) error {
	_, err := d.NewInsert().Model(&job).
		On("CONFLICT (job_id) DO UPDATE SET status = EXCLUDED.status, retries = EXCLUDED.retries, "+
			"bytes_downloaded = EXCLUDED.bytes_downloaded, packages_fetched = EXCLUDED.packages_fetched, "+
			"duration_ms = EXCLUDED.duration_ms").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put compile job %q: %w", job.JobID, err)
	}
	return nil
}

// RecentCompileJobs returns up to limit of the most recently submitted jobs,
// newest first, for the CLI's "texlazy jobs" introspection subcommand.
func (d *DB) RecentCompileJobs(ctx context.Context, limit int) ([]CompileJobModel, error) {
	var jobs []CompileJobModel
	err := d.NewSelect().Model(&jobs).OrderExpr("submitted_at DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list compile jobs: %w", err)
	}
	return jobs, nil
}

// PutBundleCache records that bundle name's decompressed payload was loaded
// into the blob store, for cache warmness introspection only - it is not
// consulted on the read path, which goes through BlobStore directly.
func (d *DB) PutBundleCache(ctx context.Context, name string, totalSize int64) error {
	return util.Retry(ctx, func() error {
		return d.putBundleCacheInternal(ctx, name, totalSize)
	}, util.DatabaseRetryOptions(ctx)...)
}

func (d *DB) putBundleCacheInternal(ctx context.Context, name string, totalSize int64) error {
	row := &BundleCacheModel{Name: name, TotalSize: totalSize, LoadedAt: time.Now().Unix()}
	_, err := d.NewInsert().Model(row).
		On("CONFLICT (name) DO UPDATE SET total_size = EXCLUDED.total_size, loaded_at = EXCLUDED.loaded_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("put bundle cache %q: %w", name, err)
	}
	return nil
}

// LoadedBundleNames returns the names of every bundle ever recorded as
// loaded, for the "texlazy cache" CLI subcommand.
func (d *DB) LoadedBundleNames(ctx context.Context) ([]string, error) {
	var rows []BundleCacheModel
	if err := d.NewSelect().Model(&rows).Column("name").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list loaded bundles: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}
