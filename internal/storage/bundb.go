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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"datalineage/internal/common"
)

// BunDB wraps a Bun database instance for type-safe queries.
//
// Methods with a With suffix take the bun.IDB to run on, so they compose
// inside RunInTx; the plain forms run on the database itself.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// GetSchemaInfo retrieves a schema_info value by key ("" when absent).
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// --- Version Operations ---

// InsertVersionWith inserts a new version row.
func (db *BunDB) InsertVersionWith(idb bun.IDB, ctx context.Context, m *VersionModel) error {
	_, err := idb.NewInsert().Model(m).Exec(ctx)
	return err
}

// GetVersion retrieves a version by exact id.
func (db *BunDB) GetVersion(ctx context.Context, id string) (*VersionModel, error) {
	return db.GetVersionWith(db.DB, ctx, id)
}

// GetVersionWith retrieves a version by exact id. Missing rows are
// common.ErrNotFound.
func (db *BunDB) GetVersionWith(idb bun.IDB, ctx context.Context, id string) (*VersionModel, error) {
	var m VersionModel
	err := idb.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindVersionIDsByPrefix returns up to limit version ids starting with prefix.
func (db *BunDB) FindVersionIDsByPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	var ids []string
	err := db.NewSelect().
		Model((*VersionModel)(nil)).
		Column("id").
		Where("id LIKE ? || '%'", prefix).
		OrderExpr("id").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

// FindVersionByHashWith returns the oldest version of a dataset with the
// given content hash, or nil when there is none.
func (db *BunDB) FindVersionByHashWith(idb bun.IDB, ctx context.Context, datasetID, contentHash string) (*VersionModel, error) {
	var m VersionModel
	err := idb.NewSelect().
		Model(&m).
		Where("dataset_id = ?", datasetID).
		Where("content_hash = ?", contentHash).
		OrderExpr("created_at ASC, rowid ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListVersions returns a dataset's versions, newest first.
func (db *BunDB) ListVersions(ctx context.Context, datasetID string) ([]VersionModel, error) {
	var models []VersionModel
	err := db.NewSelect().
		Model(&models).
		Where("dataset_id = ?", datasetID).
		OrderExpr("created_at DESC, rowid DESC").
		Scan(ctx)
	return models, err
}

// ListDatasets summarizes every dataset in the catalog.
func (db *BunDB) ListDatasets(ctx context.Context) ([]DatasetSummary, error) {
	var out []DatasetSummary
	err := db.NewRaw(`
		SELECT v.dataset_id AS dataset_id,
		       COUNT(*) AS versions,
		       (SELECT l.id FROM dataset_versions l
		         WHERE l.dataset_id = v.dataset_id
		         ORDER BY l.created_at DESC, l.rowid DESC LIMIT 1) AS latest_version,
		       MAX(v.created_at) AS latest_at
		FROM dataset_versions v
		GROUP BY v.dataset_id
		ORDER BY v.dataset_id`).Scan(ctx, &out)
	return out, err
}

// TouchVersion records a read of a version.
func (db *BunDB) TouchVersion(ctx context.Context, id string, at int64) error {
	res, err := db.NewUpdate().
		Model((*VersionModel)(nil)).
		Set("access_count = access_count + 1").
		Set("last_accessed_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOne(res, "version "+id)
}

// SetPinned sets or clears a version's retention exemption.
func (db *BunDB) SetPinned(ctx context.Context, id string, pinned bool) error {
	res, err := db.NewUpdate().
		Model((*VersionModel)(nil)).
		Set("is_pinned = ?", pinned).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOne(res, "version "+id)
}

// CountChildrenWith counts the existing versions whose parent is id.
func (db *BunDB) CountChildrenWith(idb bun.IDB, ctx context.Context, id string) (int, error) {
	return idb.NewSelect().
		Model((*VersionModel)(nil)).
		Where("parent_version_id = ?", id).
		Count(ctx)
}

// CountLocationRefsWith counts the versions stored at location.
func (db *BunDB) CountLocationRefsWith(idb bun.IDB, ctx context.Context, location string) (int, error) {
	return idb.NewSelect().
		Model((*VersionModel)(nil)).
		Where("storage_location = ?", location).
		Count(ctx)
}

// DeleteVersionWith removes a version row.
func (db *BunDB) DeleteVersionWith(idb bun.IDB, ctx context.Context, id string) error {
	res, err := idb.NewDelete().
		Model((*VersionModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOne(res, "version "+id)
}

// --- Lineage Operations ---

// InsertLineageWith inserts a lineage edge.
func (db *BunDB) InsertLineageWith(idb bun.IDB, ctx context.Context, m *LineageModel) error {
	_, err := idb.NewInsert().Model(m).Exec(ctx)
	return err
}

// GetLineageByChildWith returns the incoming edge of a version, or nil.
func (db *BunDB) GetLineageByChildWith(idb bun.IDB, ctx context.Context, childID string) (*LineageModel, error) {
	return db.getLineageWith(idb, ctx, "child_version_id = ?", childID)
}

// GetLineageByToken returns the edge recorded under a request token, or nil.
func (db *BunDB) GetLineageByToken(ctx context.Context, token string) (*LineageModel, error) {
	return db.GetLineageByTokenWith(db.DB, ctx, token)
}

// GetLineageByTokenWith is GetLineageByToken on idb.
func (db *BunDB) GetLineageByTokenWith(idb bun.IDB, ctx context.Context, token string) (*LineageModel, error) {
	return db.getLineageWith(idb, ctx, "request_token = ?", token)
}

func (db *BunDB) getLineageWith(idb bun.IDB, ctx context.Context, where string, arg string) (*LineageModel, error) {
	var m LineageModel
	err := idb.NewSelect().
		Model(&m).
		Where(where, arg).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListLineageByParent returns the outgoing edges of a version whose child
// still exists, oldest first.
func (db *BunDB) ListLineageByParent(ctx context.Context, parentID string) ([]LineageModel, error) {
	var models []LineageModel
	err := db.NewSelect().
		Model(&models).
		Where("parent_version_id = ?", parentID).
		Where("child_version_id IN (SELECT id FROM dataset_versions)").
		OrderExpr("applied_at ASC, rowid ASC").
		Scan(ctx)
	return models, err
}

// DeleteOrphanedLineageWith removes the outgoing edges of parentID whose
// child no longer exists. It is called when parentID itself is deleted, so
// the removed edges have lost both endpoints.
func (db *BunDB) DeleteOrphanedLineageWith(idb bun.IDB, ctx context.Context, parentID string) (int64, error) {
	res, err := idb.NewDelete().
		Model((*LineageModel)(nil)).
		Where("parent_version_id = ?", parentID).
		Where("child_version_id NOT IN (SELECT id FROM dataset_versions)").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Statistics ---

// Stats summarizes the catalog.
func (db *BunDB) Stats(ctx context.Context) (*CatalogStats, error) {
	var stats CatalogStats
	err := db.NewRaw(`
		SELECT
		  (SELECT COUNT(DISTINCT dataset_id) FROM dataset_versions) AS datasets,
		  (SELECT COUNT(*) FROM dataset_versions) AS versions,
		  (SELECT COUNT(*) FROM dataset_versions WHERE is_pinned = 1) AS pinned,
		  (SELECT COUNT(*) FROM transformation_lineage) AS lineage_edges,
		  (SELECT COALESCE(SUM(size_bytes), 0) FROM dataset_versions) AS logical_bytes,
		  (SELECT COUNT(DISTINCT storage_location) FROM dataset_versions) AS distinct_blobs`).
		Scan(ctx, &stats)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, common.ErrNotFound)
	}
	return nil
}
