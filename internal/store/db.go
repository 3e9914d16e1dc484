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
	"fmt"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/tursodatabase/go-libsql"
)

// DB wraps a Bun database instance over the libsql driver, the same pairing
// the teacher uses for its own metadata file.
type DB struct {
	*bun.DB
	sqlDB *sql.DB
	path  string
}

// OpenDB opens (creating if absent) the SQLite-backed record store at path.
func OpenDB(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create record store directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	if err := execStatements(sqlDB, recordStoreSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create record store schema: %w", err)
	}
	if err := execStatements(sqlDB, initRecordStore, SchemaVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialise record store: %w", err)
	}

	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	db := &DB{DB: bunDB, sqlDB: sqlDB, path: path}

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping record store: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.sqlDB.Close()
}
