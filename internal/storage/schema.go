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
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const SchemaVersion = "1"

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// EnvBusyTimeout overrides the busy_timeout for every catalog connection.
const EnvBusyTimeout = "DATALINEAGE_BUSY_TIMEOUT"

// configBusyTimeout is set from the settings file via SetConfigBusyTimeout.
var configBusyTimeout int

// SetConfigBusyTimeout sets the settings-file busy_timeout. Values of 0 are
// ignored (use env var or default).
func SetConfigBusyTimeout(timeout int) {
	configBusyTimeout = timeout
}

// GetBusyTimeout returns the busy_timeout in milliseconds.
// Priority: env > settings file > default
func GetBusyTimeout() int {
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}
	if configBusyTimeout > 0 {
		return configBusyTimeout
	}
	return DefaultBusyTimeout
}

// BuildDSN builds the SQLite DSN for a catalog file.
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, GetBusyTimeout())
}

// Schema SQL for the catalog
const catalogSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Immutable dataset versions. Timestamps are unix nanoseconds.
CREATE TABLE IF NOT EXISTS dataset_versions (
    id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL,
    parent_version_id TEXT REFERENCES dataset_versions(id),
    content_hash TEXT NOT NULL,
    storage_location TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    row_count INTEGER NOT NULL DEFAULT 0,
    column_count INTEGER NOT NULL DEFAULT 0,
    columns TEXT NOT NULL DEFAULT '[]',
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    is_pinned INTEGER NOT NULL DEFAULT 0,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at INTEGER NOT NULL DEFAULT 0
);

-- Dedup lookup
CREATE INDEX IF NOT EXISTS idx_versions_dataset_hash ON dataset_versions(dataset_id, content_hash);

-- Children lookup and newest-first listing
CREATE INDEX IF NOT EXISTS idx_versions_parent ON dataset_versions(parent_version_id);
CREATE INDEX IF NOT EXISTS idx_versions_dataset_created ON dataset_versions(dataset_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_versions_location ON dataset_versions(storage_location);

-- Lineage edges. child_version_id is UNIQUE: a version has at most one
-- incoming edge. Edges outlive their child and are removed with their parent.
CREATE TABLE IF NOT EXISTS transformation_lineage (
    id TEXT PRIMARY KEY,
    parent_version_id TEXT NOT NULL,
    child_version_id TEXT NOT NULL UNIQUE,
    transformation_type TEXT NOT NULL,
    parameters TEXT NOT NULL DEFAULT '{}',
    steps TEXT NOT NULL DEFAULT '[]',
    rows_affected INTEGER NOT NULL DEFAULT 0,
    data_loss_percentage REAL NOT NULL DEFAULT 0 CHECK (data_loss_percentage >= 0 AND data_loss_percentage <= 100),
    applied_at INTEGER NOT NULL,
    applied_by TEXT NOT NULL DEFAULT '',
    request_token TEXT UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_lineage_parent ON transformation_lineage(parent_version_id);
`

const initCatalog = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('type', 'catalog');
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		if argIdx+placeholders > len(args) {
			return fmt.Errorf("statement needs %d more argument(s): %s", placeholders, stmt)
		}
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		// Skip comments and empty lines
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
