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

package service

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"datalineage/internal/common"
	"datalineage/internal/lineage"
	"datalineage/internal/transform"
	"datalineage/internal/version"
)

// CommitRequest applies Steps to the base version and stores the result as
// a new child version.
type CommitRequest struct {
	BaseVersionID string
	Steps         []transform.Step
	CreatedBy     string
	// RequestToken makes the commit idempotent: a retry with the same token
	// returns the version the first attempt produced.
	RequestToken string
	// RequireLeaf rejects the commit when the base already has children.
	RequireLeaf bool
	// StrictDataLoss turns a large-loss warning into an error.
	StrictDataLoss bool
}

// CommitResult is the outcome of CommitTransformation.
type CommitResult struct {
	Version  *version.Version  `json:"version"`
	Lineage  *lineage.Lineage  `json:"lineage"`
	Impact   *transform.Impact `json:"impact,omitempty"`
	Config   *transform.Config `json:"-"`
	Replayed bool              `json:"replayed"`
}

// CommitTransformation validates and applies a pipeline to the base
// version, then records the child version and its lineage edge together.
// Either both become visible or neither does; a blob written for a commit
// that fails is removed again.
func (s *Service) CommitTransformation(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if len(req.Steps) == 0 {
		return nil, &common.InvalidInputError{Field: "steps", Reason: "at least one step is required"}
	}
	base, err := s.versions.Peek(ctx, req.BaseVersionID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockDataset(ctx, base.DatasetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.RequestToken != "" {
		res, err := s.replay(ctx, base, req.RequestToken)
		if err != nil || res != nil {
			return res, err
		}
	}
	if req.RequireLeaf {
		children, err := s.lineage.Children(ctx, base.VersionID)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			return nil, errBaseNotLeaf(base.VersionID, len(children))
		}
	}

	frame, err := s.frameOf(ctx, base)
	if err != nil {
		return nil, err
	}
	cfg, err := s.engine.Validate(ctx, transform.NewConfig(req.Steps...), frame)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Apply(ctx, cfg, frame)
	if err != nil {
		return nil, err
	}
	if req.StrictDataLoss {
		if lossErr := result.Impact.LargeLoss(); lossErr != nil {
			return nil, lossErr
		}
	}
	content, err := result.Frame.Encode()
	if err != nil {
		return nil, err
	}
	records, err := transform.Records(req.Steps)
	if err != nil {
		return nil, err
	}

	// The transformation is done; finish the write even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	st, err := s.versions.Stage(ctx, version.Input{
		DatasetID:       base.DatasetID,
		ParentVersionID: base.VersionID,
		CreatedBy:       req.CreatedBy,
		Content:         content,
		RowCount:        result.Frame.NumRows(),
		Columns:         result.Frame.ColumnNames(),
	})
	if err != nil {
		return nil, err
	}
	defer st.Release()

	var child *version.Version
	var edge *lineage.Lineage
	err = s.tx.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if child, err = s.versions.InsertWith(tx, ctx, st); err != nil {
			return err
		}
		edge, err = s.lineage.RecordWith(tx, ctx, lineage.Record{
			ParentVersionID:    base.VersionID,
			ChildVersionID:     child.VersionID,
			TransformationType: req.Steps[0].Type,
			Parameters:         records[0].Params,
			Steps:              records,
			RowsAffected:       result.Impact.RowsAffected,
			DataLossPercentage: result.Impact.DataLossPercentage,
			AppliedBy:          req.CreatedBy,
			RequestToken:       req.RequestToken,
		})
		return err
	})
	if err != nil {
		if derr := s.versions.Discard(ctx, st); derr != nil {
			log.Warnf("[Commit] discard %s after failed commit: %v", st.Location, derr)
		}
		return nil, fmt.Errorf("commit on %s: %w", base.VersionID, err)
	}

	log.Infof("[Commit] %s -> %s (%d steps, rows %d -> %d, loss %.1f%%)",
		base.VersionID, child.VersionID, len(req.Steps),
		result.Impact.OriginalRows, result.Impact.FinalRows, result.Impact.DataLossPercentage)
	return &CommitResult{Version: child, Lineage: edge, Impact: result.Impact, Config: result.Config}, nil
}

// replay returns the result of an earlier commit made with token, or nil
// when the token is unused.
func (s *Service) replay(ctx context.Context, base *version.Version, token string) (*CommitResult, error) {
	prior, err := s.lineage.ByToken(ctx, token)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.ParentVersionID != base.VersionID {
		return nil, &common.InvalidInputError{
			Field:  "request_token",
			Reason: fmt.Sprintf("already used for a commit on %s", prior.ParentVersionID),
		}
	}
	child, err := s.versions.Peek(ctx, prior.ChildVersionID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, &common.BrokenChainError{VersionID: prior.ChildVersionID, MissingID: prior.ChildVersionID, Reason: "committed version was deleted"}
		}
		return nil, err
	}
	log.Debugf("[Commit] token %q replays %s", token, child.VersionID)
	return &CommitResult{Version: child, Lineage: prior, Replayed: true}, nil
}
