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

// Package version stores immutable, content-addressed dataset versions.
package version

import (
	"encoding/json"
	"time"

	"datalineage/internal/hasher"
	"datalineage/internal/storage"
)

// Version is one immutable snapshot of a dataset.
type Version struct {
	VersionID       string        `json:"version_id"`
	ContentHash     hasher.Digest `json:"content_hash"`
	DatasetID       string        `json:"dataset_id"`
	ParentVersionID string        `json:"parent_version_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	CreatedBy       string        `json:"created_by"`
	SizeBytes       int64         `json:"size_bytes"`
	RowCount        int64         `json:"row_count"`
	ColumnCount     int64         `json:"column_count"`
	Columns         []string      `json:"columns"`
	StorageLocation string        `json:"storage_location"`
	IsPinned        bool          `json:"is_pinned"`
	AccessCount     int64         `json:"access_count"`
	LastAccessedAt  time.Time     `json:"last_accessed_at,omitzero"`
}

// IsRoot reports whether the version was uploaded rather than derived.
func (v *Version) IsRoot() bool { return v.ParentVersionID == "" }

// Accessed reports whether the version has ever been read.
func (v *Version) Accessed() bool { return !v.LastAccessedAt.IsZero() }

func fromModel(m *storage.VersionModel) *Version {
	v := &Version{
		VersionID:       m.ID,
		ContentHash:     hasher.Digest(m.ContentHash),
		DatasetID:       m.DatasetID,
		ParentVersionID: m.ParentVersionID,
		CreatedAt:       time.Unix(0, m.CreatedAt),
		CreatedBy:       m.CreatedBy,
		SizeBytes:       m.SizeBytes,
		RowCount:        m.RowCount,
		ColumnCount:     m.ColumnCount,
		StorageLocation: m.StorageLocation,
		IsPinned:        m.IsPinned,
		AccessCount:     m.AccessCount,
	}
	if m.LastAccessedAt != 0 {
		v.LastAccessedAt = time.Unix(0, m.LastAccessedAt)
	}
	// A malformed column list only loses display information.
	_ = json.Unmarshal([]byte(m.Columns), &v.Columns)
	return v
}

func toModel(v *Version) (*storage.VersionModel, error) {
	cols := v.Columns
	if cols == nil {
		cols = []string{}
	}
	colJSON, err := json.Marshal(cols)
	if err != nil {
		return nil, err
	}
	m := &storage.VersionModel{
		ID:              v.VersionID,
		DatasetID:       v.DatasetID,
		ParentVersionID: v.ParentVersionID,
		ContentHash:     string(v.ContentHash),
		StorageLocation: v.StorageLocation,
		SizeBytes:       v.SizeBytes,
		RowCount:        v.RowCount,
		ColumnCount:     v.ColumnCount,
		Columns:         string(colJSON),
		CreatedBy:       v.CreatedBy,
		CreatedAt:       v.CreatedAt.UnixNano(),
		IsPinned:        v.IsPinned,
		AccessCount:     v.AccessCount,
	}
	if !v.LastAccessedAt.IsZero() {
		m.LastAccessedAt = v.LastAccessedAt.UnixNano()
	}
	return m, nil
}
