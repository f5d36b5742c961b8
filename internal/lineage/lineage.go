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

// Package lineage records which transformation produced which dataset
// version, and answers ancestry questions over the resulting DAG.
package lineage

import (
	"encoding/json"
	"fmt"
	"time"

	"datalineage/internal/storage"
	"datalineage/internal/transform"
)

// Lineage is a directed edge from a parent version to the child a
// transformation produced from it.
type Lineage struct {
	LineageID          string                 `json:"lineage_id"`
	ParentVersionID    string                 `json:"parent_version_id"`
	ChildVersionID     string                 `json:"child_version_id"`
	TransformationType transform.Type         `json:"transformation_type"`
	Parameters         map[string]any         `json:"parameters"`
	Steps              []transform.StepRecord `json:"steps,omitempty"`
	RowsAffected       int64                  `json:"rows_affected"`
	DataLossPercentage float64                `json:"data_loss_percentage"`
	AppliedAt          time.Time              `json:"applied_at"`
	AppliedBy          string                 `json:"applied_by"`
	RequestToken       string                 `json:"request_token,omitempty"`
}

// Record describes an edge to be recorded.
type Record struct {
	ParentVersionID    string
	ChildVersionID     string
	TransformationType transform.Type
	Parameters         map[string]any
	Steps              []transform.StepRecord
	RowsAffected       int
	DataLossPercentage float64
	AppliedBy          string
	RequestToken       string
}

func fromModel(m *storage.LineageModel) (*Lineage, error) {
	l := &Lineage{
		LineageID:          m.ID,
		ParentVersionID:    m.ParentVersionID,
		ChildVersionID:     m.ChildVersionID,
		TransformationType: transform.Type(m.TransformationType),
		RowsAffected:       m.RowsAffected,
		DataLossPercentage: m.DataLossPercentage,
		AppliedAt:          time.Unix(0, m.AppliedAt),
		AppliedBy:          m.AppliedBy,
		RequestToken:       m.RequestToken,
	}
	if err := json.Unmarshal([]byte(m.Parameters), &l.Parameters); err != nil {
		return nil, fmt.Errorf("lineage %s: decode parameters: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.Steps), &l.Steps); err != nil {
		return nil, fmt.Errorf("lineage %s: decode steps: %w", m.ID, err)
	}
	return l, nil
}

func fromModels(models []storage.LineageModel) ([]*Lineage, error) {
	out := make([]*Lineage, len(models))
	for i := range models {
		l, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = l
	}
	return out, nil
}
