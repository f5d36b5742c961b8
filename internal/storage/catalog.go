// Copyright 2024 DataLineage Authors
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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"

	"datalineage/internal/common"
)

// Catalog is the SQLite-backed metadata store for versions and lineage.
type Catalog struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first so the journal_mode switch waits on locks instead
	// of failing with "database is locked".
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// Create creates a new catalog file. It fails if path exists.
func Create(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("catalog %s: %w", path, common.ErrExists)
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	if err := execStatements(db, catalogSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initCatalog, SchemaVersion); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize schema info: %w", err)
	}
	log.Debugf("[Catalog] Create: %s", path)
	return &Catalog{path: path, db: db, bunDB: NewBunDB(db)}, nil
}

// Open opens an existing catalog file.
func Open(path string) (*Catalog, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog %s: %w", path, common.ErrNotFound)
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	bunDB := NewBunDB(db)
	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != "catalog" {
		db.Close()
		return nil, fmt.Errorf("not a catalog file (type=%s)", fileType)
	}
	// Older catalogs may predate indexes added since; the DDL is idempotent.
	if err := execStatements(db, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to update schema: %w", err)
	}
	return &Catalog{path: path, db: db, bunDB: bunDB}, nil
}

// OpenOrCreate opens path, creating the catalog when it does not exist.
func OpenOrCreate(path string) (*Catalog, error) {
	c, err := Open(path)
	if errors.Is(err, common.ErrNotFound) {
		return Create(path)
	}
	return c, err
}

// Close checkpoints the WAL into the main database and closes the connection.
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	// PRAGMA wal_checkpoint returns rows, so Query() not Exec()
	if rows, err := c.db.Query("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Warnf("[Catalog] WAL checkpoint failed: %v", err)
	} else {
		rows.Close()
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Path returns the file path
func (c *Catalog) Path() string {
	return c.path
}

// BunDB returns the Bun database wrapper.
func (c *Catalog) BunDB() *BunDB {
	return c.bunDB
}

// RunInTx wraps the given function in a single SQLite transaction.
// The transaction is rolled back if fn returns an error.
func (c *Catalog) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return c.bunDB.RunInTx(ctx, nil, fn)
}
