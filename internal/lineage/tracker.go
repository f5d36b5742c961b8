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

package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"datalineage/internal/common"
	"datalineage/internal/storage"
	"datalineage/internal/transform"
)

// Tracker records and queries lineage edges.
type Tracker struct {
	db  *storage.BunDB
	now func() time.Time
}

// NewTracker creates a tracker over the catalog.
func NewTracker(db *storage.BunDB) *Tracker {
	return &Tracker{db: db, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// RecordTransformation records the edge rec describes.
func (t *Tracker) RecordTransformation(ctx context.Context, rec Record) (*Lineage, error) {
	var l *Lineage
	err := t.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		l, err = t.RecordWith(tx, ctx, rec)
		return err
	})
	return l, err
}

// RecordWith records an edge on idb. Both endpoints must exist, the child's
// parent pointer must name the parent, and the child may not already have an
// incoming edge or be an ancestor of the parent.
func (t *Tracker) RecordWith(idb bun.IDB, ctx context.Context, rec Record) (*Lineage, error) {
	if err := checkRecord(rec); err != nil {
		return nil, err
	}
	if err := t.checkAncestors(idb, ctx, rec.ParentVersionID, rec.ChildVersionID); err != nil {
		return nil, err
	}

	existing, err := t.db.GetLineageByChildWith(idb, ctx, rec.ChildVersionID)
	if err != nil {
		return nil, common.Transient("lineage lookup", err)
	}
	if existing != nil {
		return nil, &common.DuplicateLineageError{ChildVersionID: rec.ChildVersionID, ExistingLineageID: existing.ID}
	}

	child, err := t.db.GetVersionWith(idb, ctx, rec.ChildVersionID)
	if err != nil {
		return nil, fmt.Errorf("child: %w", common.Transient("version lookup", err))
	}
	if child.ParentVersionID != rec.ParentVersionID {
		return nil, &common.InvalidInputError{
			Field:  "child_version_id",
			Reason: fmt.Sprintf("version %s was not derived from %s", child.ID, rec.ParentVersionID),
		}
	}

	if rec.RequestToken != "" {
		prior, err := t.db.GetLineageByTokenWith(idb, ctx, rec.RequestToken)
		if err != nil {
			return nil, common.Transient("lineage lookup", err)
		}
		if prior != nil {
			return nil, fmt.Errorf("request token %q already produced %s: %w", rec.RequestToken, prior.ChildVersionID, common.ErrExists)
		}
	}

	m, err := t.toModel(rec)
	if err != nil {
		return nil, err
	}
	if err := t.db.InsertLineageWith(idb, ctx, m); err != nil {
		return nil, common.Transient("insert lineage", err)
	}
	log.Debugf("[Lineage] Record: %s -> %s (%s, rows=%d, loss=%.1f%%)",
		m.ParentVersionID, m.ChildVersionID, m.TransformationType, m.RowsAffected, m.DataLossPercentage)
	return fromModel(m)
}

func checkRecord(rec Record) error {
	if rec.ParentVersionID == "" {
		return &common.InvalidInputError{Field: "parent_version_id", Reason: "must not be empty"}
	}
	if rec.ChildVersionID == "" {
		return &common.InvalidInputError{Field: "child_version_id", Reason: "must not be empty"}
	}
	if rec.ParentVersionID == rec.ChildVersionID {
		return &common.CycleDetectedError{ParentVersionID: rec.ParentVersionID, ChildVersionID: rec.ChildVersionID}
	}
	if !rec.TransformationType.Known() {
		return &common.UnsupportedTransformationTypeError{Type: string(rec.TransformationType)}
	}
	if rec.RowsAffected < 0 {
		return &common.InvalidInputError{Field: "rows_affected", Reason: "must not be negative"}
	}
	if rec.DataLossPercentage < 0 || rec.DataLossPercentage > 100 {
		return &common.InvalidInputError{
			Field:  "data_loss_percentage",
			Reason: fmt.Sprintf("%.2f is outside [0, 100]", rec.DataLossPercentage),
		}
	}
	return nil
}

// checkAncestors walks up from parentID and fails if childID is on the way.
func (t *Tracker) checkAncestors(idb bun.IDB, ctx context.Context, parentID, childID string) error {
	seen := make(map[string]bool)
	cur := parentID
	for cur != "" {
		if cur == childID {
			return &common.CycleDetectedError{ParentVersionID: parentID, ChildVersionID: childID}
		}
		if seen[cur] {
			return &common.BrokenChainError{VersionID: parentID, MissingID: cur, Reason: "ancestry loops"}
		}
		seen[cur] = true

		v, err := t.db.GetVersionWith(idb, ctx, cur)
		if errors.Is(err, common.ErrNotFound) {
			if cur == parentID {
				return fmt.Errorf("parent: %w", err)
			}
			return &common.BrokenChainError{VersionID: parentID, MissingID: cur, Reason: "ancestor version missing"}
		}
		if err != nil {
			return common.Transient("version lookup", err)
		}
		cur = v.ParentVersionID
	}
	return nil
}

func (t *Tracker) toModel(rec Record) (*storage.LineageModel, error) {
	params := rec.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return nil, &common.InvalidInputError{Field: "parameters", Reason: err.Error()}
	}
	steps := rec.Steps
	if steps == nil {
		steps = []transform.StepRecord{}
	}
	stepJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, &common.InvalidInputError{Field: "steps", Reason: err.Error()}
	}
	return &storage.LineageModel{
		ID:                 uuid.New().String(),
		ParentVersionID:    rec.ParentVersionID,
		ChildVersionID:     rec.ChildVersionID,
		TransformationType: string(rec.TransformationType),
		Parameters:         string(paramJSON),
		Steps:              string(stepJSON),
		RowsAffected:       int64(rec.RowsAffected),
		DataLossPercentage: rec.DataLossPercentage,
		AppliedAt:          t.now().UnixNano(),
		AppliedBy:          rec.AppliedBy,
		RequestToken:       rec.RequestToken,
	}, nil
}

// ByToken returns the edge recorded under a request token, or nil.
func (t *Tracker) ByToken(ctx context.Context, token string) (*Lineage, error) {
	m, err := t.db.GetLineageByToken(ctx, token)
	if err != nil {
		return nil, common.Transient("lineage lookup", err)
	}
	if m == nil {
		return nil, nil
	}
	return fromModel(m)
}

// Incoming returns the edge that produced versionID, or nil for roots.
func (t *Tracker) Incoming(ctx context.Context, versionID string) (*Lineage, error) {
	m, err := t.db.GetLineageByChildWith(t.db.DB, ctx, versionID)
	if err != nil {
		return nil, common.Transient("lineage lookup", err)
	}
	if m == nil {
		return nil, nil
	}
	return fromModel(m)
}

// Children lists the edges out of versionID to versions that still exist,
// oldest first.
func (t *Tracker) Children(ctx context.Context, versionID string) ([]*Lineage, error) {
	models, err := t.db.ListLineageByParent(ctx, versionID)
	if err != nil {
		return nil, common.Transient("lineage lookup", err)
	}
	return fromModels(models)
}
