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
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SchemaVersion identifies the record store's table layout. Bumping it
// doesn't by itself invalidate package records - see CacheVersion for that.
const SchemaVersion = "1"

// CacheVersion is compared against every stored package record on read
// (§3 "Package record"). Bump it to invalidate all cached package/negative
// records in one move without touching bundle or alias data.
const CacheVersion = 1

// DefaultBusyTimeout is the SQLite busy_timeout in milliseconds applied when
// neither an env var nor a config value overrides it.
const DefaultBusyTimeout = 15000

// EnvBusyTimeout overrides the busy_timeout for all record-store connections.
const EnvBusyTimeout = "TEXLAZY_BUSY_TIMEOUT"

var configBusyTimeout int

// SetConfigBusyTimeout lets daemon startup push a config-file value in,
// mirroring the teacher's SetConfigBusyTimeouts hook.
func SetConfigBusyTimeout(ms int) { configBusyTimeout = ms }

// busyTimeout resolves the busy_timeout to use: env var > config value > default.
func busyTimeout() int {
	if v := os.Getenv(EnvBusyTimeout); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return ms
		}
	}
	if configBusyTimeout > 0 {
		return configBusyTimeout
	}
	return DefaultBusyTimeout
}

// BuildDSN builds the SQLite DSN for the record store with the resolved
// busy_timeout embedded, matching the teacher's BuildDSN pattern.
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeout())
}

// applyPragmas sets PRAGMAs that the libsql DSN parameters are known to
// ignore; every PRAGMA must be issued explicitly after opening the
// connection.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout()),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if err := execPragma(db, p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// execPragma runs a PRAGMA statement using Query rather than Exec, since
// libsql's driver returns a result set for PRAGMA statements.
func execPragma(db *sql.DB, stmt string) error {
	rows, err := db.Query(stmt)
	if err != nil {
		return err
	}
	return rows.Close()
}

const recordStoreSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bundle_cache (
    name TEXT PRIMARY KEY,
    total_size INTEGER NOT NULL,
    loaded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS compile_jobs (
    job_id TEXT PRIMARY KEY,
    submitted_at INTEGER NOT NULL,
    engine TEXT NOT NULL,
    status TEXT NOT NULL,
    retries INTEGER NOT NULL DEFAULT 0,
    bytes_downloaded INTEGER NOT NULL DEFAULT 0,
    packages_fetched INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_compile_jobs_submitted ON compile_jobs(submitted_at DESC);
`

const initRecordStore = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execStatements executes multiple ;-terminated statements individually,
// since the libsql driver doesn't support multi-statement Exec.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
