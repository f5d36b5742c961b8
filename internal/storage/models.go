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
	"github.com/uptrace/bun"
)

// Bun models for the catalog tables. Timestamps are unix nanoseconds; JSON
// columns are stored as text and decoded by their owning package.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// VersionModel represents the dataset_versions table
type VersionModel struct {
	bun.BaseModel `bun:"table:dataset_versions"`

	ID              string `bun:"id,pk"`
	DatasetID       string `bun:"dataset_id,notnull"`
	ParentVersionID string `bun:"parent_version_id,nullzero"` // NULL for roots
	ContentHash     string `bun:"content_hash,notnull"`
	StorageLocation string `bun:"storage_location,notnull"`
	SizeBytes       int64  `bun:"size_bytes,notnull"`
	RowCount        int64  `bun:"row_count,notnull"`
	ColumnCount     int64  `bun:"column_count,notnull"`
	Columns         string `bun:"columns,notnull"` // JSON array of column names
	CreatedBy       string `bun:"created_by,notnull"`
	CreatedAt       int64  `bun:"created_at,notnull"`
	IsPinned        bool   `bun:"is_pinned,notnull"`
	AccessCount     int64  `bun:"access_count,notnull"`
	LastAccessedAt  int64  `bun:"last_accessed_at,notnull"` // 0 = never
}

// LineageModel represents the transformation_lineage table
type LineageModel struct {
	bun.BaseModel `bun:"table:transformation_lineage"`

	ID                 string  `bun:"id,pk"`
	ParentVersionID    string  `bun:"parent_version_id,notnull"`
	ChildVersionID     string  `bun:"child_version_id,notnull"`
	TransformationType string  `bun:"transformation_type,notnull"`
	Parameters         string  `bun:"parameters,notnull"` // JSON object
	Steps              string  `bun:"steps,notnull"`      // JSON array of step records
	RowsAffected       int64   `bun:"rows_affected,notnull"`
	DataLossPercentage float64 `bun:"data_loss_percentage,notnull"`
	AppliedAt          int64   `bun:"applied_at,notnull"`
	AppliedBy          string  `bun:"applied_by,notnull"`
	RequestToken       string  `bun:"request_token,nullzero"` // NULL when absent
}

// DatasetSummary aggregates the versions of one dataset.
type DatasetSummary struct {
	DatasetID     string `bun:"dataset_id" json:"dataset_id"`
	Versions      int64  `bun:"versions" json:"versions"`
	LatestVersion string `bun:"latest_version" json:"latest_version"`
	LatestAt      int64  `bun:"latest_at" json:"latest_at"`
}

// CatalogStats summarizes the whole catalog.
type CatalogStats struct {
	Datasets      int64 `bun:"datasets" json:"datasets"`
	Versions      int64 `bun:"versions" json:"versions"`
	Pinned        int64 `bun:"pinned" json:"pinned"`
	LineageEdges  int64 `bun:"lineage_edges" json:"lineage_edges"`
	LogicalBytes  int64 `bun:"logical_bytes" json:"logical_bytes"`
	DistinctBlobs int64 `bun:"distinct_blobs" json:"distinct_blobs"`
}
