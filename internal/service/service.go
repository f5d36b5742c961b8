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

// Package service is the entry point for versioning and transformation
// operations. It composes the version store, the lineage tracker and the
// transformation engine, and owns per-dataset write serialization.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"datalineage/internal/cache"
	"datalineage/internal/common"
	"datalineage/internal/lineage"
	"datalineage/internal/storage"
	"datalineage/internal/table"
	"datalineage/internal/transform"
	"datalineage/internal/util"
	"datalineage/internal/version"
)

// VersionStore is the subset of version.Store the service depends on.
type VersionStore interface {
	CreateVersion(ctx context.Context, in version.Input) (*version.Version, bool, error)
	Stage(ctx context.Context, in version.Input) (*version.Staged, error)
	InsertWith(idb bun.IDB, ctx context.Context, st *version.Staged) (*version.Version, error)
	Discard(ctx context.Context, st *version.Staged) error
	Resolve(ctx context.Context, ref string) (string, error)
	GetVersion(ctx context.Context, ref string) (*version.Version, error)
	Peek(ctx context.Context, ref string) (*version.Version, error)
	ListVersions(ctx context.Context, datasetID string) ([]*version.Version, error)
	ListDatasets(ctx context.Context) ([]storage.DatasetSummary, error)
	PinVersion(ctx context.Context, ref string) (*version.Version, error)
	UnpinVersion(ctx context.Context, ref string) (*version.Version, error)
	DeleteVersion(ctx context.Context, ref string) (*version.Version, error)
	ReadContent(ctx context.Context, v *version.Version) ([]byte, error)
	Stats(ctx context.Context) (*storage.CatalogStats, error)
}

// LineageTracker is the subset of lineage.Tracker the service depends on.
type LineageTracker interface {
	RecordWith(idb bun.IDB, ctx context.Context, rec lineage.Record) (*lineage.Lineage, error)
	ByToken(ctx context.Context, token string) (*lineage.Lineage, error)
	Incoming(ctx context.Context, versionID string) (*lineage.Lineage, error)
	Children(ctx context.Context, versionID string) ([]*lineage.Lineage, error)
	GetLineageChain(ctx context.Context, versionID string) ([]*lineage.Lineage, error)
	CompareVersions(ctx context.Context, a, b string) (*lineage.Comparison, error)
}

// TxRunner runs fn in a single metadata transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error
}

// Service orchestrates versions, lineage and transformations.
type Service struct {
	tx       TxRunner
	versions VersionStore
	lineage  LineageTracker
	engine   *transform.Engine
	locks    *util.KeyedLocker
	now      func() time.Time
	closers  []io.Closer
}

// New assembles a service from its parts. A nil locker serializes datasets
// within the process only.
func New(tx TxRunner, versions VersionStore, tracker LineageTracker, engine *transform.Engine, locks *util.KeyedLocker) *Service {
	if locks == nil {
		locks = util.NewKeyedLocker("", util.LockPollConfig())
	}
	return &Service{
		tx:       tx,
		versions: versions,
		lineage:  tracker,
		engine:   engine,
		locks:    locks,
		now:      time.Now,
	}
}

// SetClock replaces the time source used by retention. Intended for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Engine returns the transformation engine.
func (s *Service) Engine() *transform.Engine { return s.engine }

// Close releases the catalog and blob store opened by Open.
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func (s *Service) lockDataset(ctx context.Context, datasetID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, "dataset/"+datasetID)
	if err != nil {
		return nil, fmt.Errorf("lock dataset %s: %w", datasetID, err)
	}
	return unlock, nil
}

// UploadRequest is a new root version.
type UploadRequest struct {
	DatasetID string
	Content   []byte
	CreatedBy string
}

// UploadResult reports the stored version. Created is false when the
// dataset already held identical content.
type UploadResult struct {
	Version *version.Version `json:"version"`
	Created bool             `json:"created"`
}

// CreateVersion stores uploaded CSV content as a root version.
func (s *Service) CreateVersion(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	frame, err := table.Decode(req.Content)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v, created, err := s.versions.CreateVersion(ctx, version.Input{
		DatasetID: req.DatasetID,
		CreatedBy: req.CreatedBy,
		Content:   req.Content,
		RowCount:  frame.NumRows(),
		Columns:   frame.ColumnNames(),
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("[Version] upload %s: %s (created=%v)", req.DatasetID, v.VersionID, created)
	return &UploadResult{Version: v, Created: created}, nil
}

// GetVersion returns a version and records the read.
func (s *Service) GetVersion(ctx context.Context, ref string) (*version.Version, error) {
	return s.versions.GetVersion(ctx, ref)
}

// ListVersions returns a dataset's versions, newest first.
func (s *Service) ListVersions(ctx context.Context, datasetID string) ([]*version.Version, error) {
	return s.versions.ListVersions(ctx, datasetID)
}

// ListDatasets summarizes every dataset.
func (s *Service) ListDatasets(ctx context.Context) ([]storage.DatasetSummary, error) {
	return s.versions.ListDatasets(ctx)
}

// LoadFrame reads and parses a version's content, recording the read.
func (s *Service) LoadFrame(ctx context.Context, ref string) (*version.Version, *table.Frame, error) {
	v, err := s.versions.GetVersion(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.frameOf(ctx, v)
	return v, f, err
}

// ReadContent returns a version's bytes, recording the read.
func (s *Service) ReadContent(ctx context.Context, ref string) (*version.Version, []byte, error) {
	v, err := s.versions.GetVersion(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.versions.ReadContent(ctx, v)
	return v, data, err
}

func (s *Service) frameOf(ctx context.Context, v *version.Version) (*table.Frame, error) {
	data, err := s.versions.ReadContent(ctx, v)
	if err != nil {
		return nil, err
	}
	f, err := table.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", v.VersionID, err)
	}
	return f, nil
}

// peekFrame loads a version's frame without recording a read.
func (s *Service) peekFrame(ctx context.Context, ref string) (*version.Version, *table.Frame, error) {
	v, err := s.versions.Peek(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.frameOf(ctx, v)
	return v, f, err
}

// PreviewStep runs one step against a version without committing anything.
func (s *Service) PreviewStep(ctx context.Context, ref string, step transform.Step) (*transform.Preview, error) {
	_, f, err := s.peekFrame(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.engine.PreviewStep(ctx, f, step)
}

// Validate checks steps against a version's schema. The returned config is
// Validated on success.
func (s *Service) Validate(ctx context.Context, ref string, steps []transform.Step) (*transform.Config, error) {
	_, f, err := s.peekFrame(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.engine.Validate(ctx, transform.NewConfig(steps...), f)
}

// CompareVersions relates two versions through their nearest common ancestor.
func (s *Service) CompareVersions(ctx context.Context, a, b string) (*lineage.Comparison, error) {
	idA, err := s.versions.Resolve(ctx, a)
	if err != nil {
		return nil, err
	}
	idB, err := s.versions.Resolve(ctx, b)
	if err != nil {
		return nil, err
	}
	return s.lineage.CompareVersions(ctx, idA, idB)
}

// GetLineageChain returns the edges from the root down to a version.
func (s *Service) GetLineageChain(ctx context.Context, ref string) ([]*lineage.Lineage, error) {
	id, err := s.versions.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.lineage.GetLineageChain(ctx, id)
}

// Children lists the edges from a version to the versions derived from it.
func (s *Service) Children(ctx context.Context, ref string) ([]*lineage.Lineage, error) {
	id, err := s.versions.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.lineage.Children(ctx, id)
}

// Pin exempts a version from retention.
func (s *Service) Pin(ctx context.Context, ref string) (*version.Version, error) {
	return s.versions.PinVersion(ctx, ref)
}

// Unpin makes a version eligible for retention again.
func (s *Service) Unpin(ctx context.Context, ref string) (*version.Version, error) {
	return s.versions.UnpinVersion(ctx, ref)
}

// Delete removes a version that is neither pinned nor a parent.
func (s *Service) Delete(ctx context.Context, ref string) (*version.Version, error) {
	v, err := s.versions.Peek(ctx, ref)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockDataset(ctx, v.DatasetID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.versions.DeleteVersion(ctx, v.VersionID)
}

// Stats summarizes the catalog and the statistics cache.
type Stats struct {
	Catalog *storage.CatalogStats `json:"catalog"`
	Cache   cache.FIFOStats       `json:"cache"`
}

// Stats returns catalog and cache statistics.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	cs, err := s.versions.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Catalog: cs, Cache: s.engine.CacheStats()}, nil
}

// errBaseNotLeaf is wrapped when RequireLeaf finds an existing child.
func errBaseNotLeaf(base string, children int) error {
	return fmt.Errorf("base version %s already has %d child version(s): %w", base, children, common.ErrConflict)
}
