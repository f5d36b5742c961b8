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

package version

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"datalineage/internal/blob"
	"datalineage/internal/common"
	"datalineage/internal/hasher"
	"datalineage/internal/storage"
	"datalineage/internal/util"
)

// MinPrefixLen is the shortest id prefix Resolve accepts.
const MinPrefixLen = 4

// Input describes content to be stored as a new version.
type Input struct {
	DatasetID       string
	ParentVersionID string // empty for uploads
	CreatedBy       string
	Content         []byte
	RowCount        int
	Columns         []string
}

// Staged is content that has been hashed and written to the blob store but
// not yet recorded in the catalog.
type Staged struct {
	Input       Input
	ContentHash hasher.Digest
	Location    string
	BlobCreated bool

	// Existing is set for uploads whose content the dataset already holds.
	Existing *Version

	release func()
}

// Release frees the content slot taken by Stage. Call it once the version is
// committed or discarded; it is safe to call more than once.
func (st *Staged) Release() {
	if st != nil && st.release != nil {
		st.release()
		st.release = nil
	}
}

// Store manages dataset versions over a metadata catalog and a blob store.
type Store struct {
	db     *storage.BunDB
	blobs  blob.Store
	hasher *hasher.Hasher
	locks  *util.KeyedLocker
	now    func() time.Time
}

// NewStore creates a version store. Blobs are shared by every version with
// the same content, so writes and removals of one hash are serialized on
// locks; a nil locker serializes within the process only.
func NewStore(db *storage.BunDB, blobs blob.Store, h *hasher.Hasher, locks *util.KeyedLocker) *Store {
	if locks == nil {
		locks = util.NewKeyedLocker("", util.LockPollConfig())
	}
	return &Store{db: db, blobs: blobs, hasher: h, locks: locks, now: time.Now}
}

func contentLockKey(d hasher.Digest) string {
	return "content/" + string(d)
}

func (s *Store) lockContent(ctx context.Context, d hasher.Digest) (func(), error) {
	unlock, err := s.locks.Lock(ctx, contentLockKey(d))
	if err != nil {
		return nil, fmt.Errorf("lock content %s: %w", d.Short(), err)
	}
	return unlock, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Hasher returns the content hasher the store addresses blobs with.
func (s *Store) Hasher() *hasher.Hasher { return s.hasher }

// CreateVersion stores content as a version of its dataset.
//
// An upload whose content the dataset already holds returns the existing
// version and created=false without touching the blob store. Derived
// versions always get a new record but share the blob of identical content.
func (s *Store) CreateVersion(ctx context.Context, in Input) (_ *Version, created bool, err error) {
	st, err := s.Stage(ctx, in)
	if err != nil {
		return nil, false, err
	}
	defer st.Release()
	if st.Existing != nil {
		return st.Existing, false, nil
	}

	var v *Version
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		v, err = s.InsertWith(tx, ctx, st)
		return err
	})
	if err != nil {
		if derr := s.Discard(ctx, st); derr != nil {
			log.Warnf("[Version] CreateVersion: discard %s failed: %v", st.Location, derr)
		}
		return nil, false, err
	}
	return v, true, nil
}

// Stage validates and hashes content and writes it to the blob store. The
// caller records it with InsertWith, or drops it with Discard, and then calls
// Release. Until then no other writer or delete of the same content runs.
func (s *Store) Stage(ctx context.Context, in Input) (_ *Staged, err error) {
	if strings.TrimSpace(in.DatasetID) == "" {
		return nil, &common.InvalidInputError{Field: "dataset_id", Reason: "must not be empty"}
	}
	digest, err := s.hasher.Hash(in.Content)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockContent(ctx, digest)
	if err != nil {
		return nil, err
	}
	st := &Staged{Input: in, ContentHash: digest, release: unlock}
	defer func() {
		if err != nil {
			st.Release()
		}
	}()

	if in.ParentVersionID == "" {
		m, err := s.db.FindVersionByHashWith(s.db.DB, ctx, in.DatasetID, string(digest))
		if err != nil {
			return nil, common.Transient("dedup lookup", err)
		}
		if m != nil {
			log.Debugf("[Version] Stage: %s already holds %s as %s", in.DatasetID, digest.Short(), m.ID)
			st.Existing = fromModel(m)
			st.Location = m.StorageLocation
			return st, nil
		}
	}

	location, created, err := s.blobs.Put(ctx, string(digest), in.Content)
	if err != nil {
		return nil, err
	}
	st.Location = location
	st.BlobCreated = created
	log.Debugf("[Version] Stage: %s -> %s (new blob: %v)", digest.Short(), location, created)
	return st, nil
}

// InsertWith records a staged version on idb. The parent, when set, must
// exist in the same dataset.
func (s *Store) InsertWith(idb bun.IDB, ctx context.Context, st *Staged) (*Version, error) {
	if st.Existing != nil {
		return st.Existing, nil
	}
	in := st.Input
	if in.ParentVersionID != "" {
		parent, err := s.db.GetVersionWith(idb, ctx, in.ParentVersionID)
		if err != nil {
			return nil, fmt.Errorf("parent: %w", common.Transient("version lookup", err))
		}
		if parent.DatasetID != in.DatasetID {
			return nil, &common.InvalidInputError{
				Field:  "parent_version_id",
				Reason: fmt.Sprintf("parent %s belongs to dataset %q", parent.ID, parent.DatasetID),
			}
		}
	}

	v := &Version{
		VersionID:       uuid.New().String(),
		ContentHash:     st.ContentHash,
		DatasetID:       in.DatasetID,
		ParentVersionID: in.ParentVersionID,
		CreatedAt:       s.now(),
		CreatedBy:       in.CreatedBy,
		SizeBytes:       int64(len(in.Content)),
		RowCount:        int64(in.RowCount),
		ColumnCount:     int64(len(in.Columns)),
		Columns:         append([]string(nil), in.Columns...),
		StorageLocation: st.Location,
	}
	m, err := toModel(v)
	if err != nil {
		return nil, err
	}
	if err := s.db.InsertVersionWith(idb, ctx, m); err != nil {
		return nil, common.Transient("insert version", err)
	}
	log.Debugf("[Version] Insert: %s dataset=%s parent=%q rows=%d", v.VersionID, v.DatasetID, v.ParentVersionID, v.RowCount)
	return v, nil
}

// Discard removes the blob written by Stage when no catalog row refers to it.
// The content slot must still be held.
func (s *Store) Discard(ctx context.Context, st *Staged) error {
	if st == nil || !st.BlobCreated {
		return nil
	}
	refs, err := s.db.CountLocationRefsWith(s.db.DB, ctx, st.Location)
	if err != nil {
		return common.Transient("count references", err)
	}
	if refs > 0 {
		return nil
	}
	if err := s.blobs.Delete(ctx, st.Location); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	log.Debugf("[Version] Discard: removed %s", st.Location)
	return nil
}

// Resolve maps a version id or unique id prefix to a full id.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", &common.InvalidInputError{Field: "version_id", Reason: "must not be empty"}
	}
	if _, err := s.db.GetVersion(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", common.Transient("version lookup", err)
	}
	if len(ref) < MinPrefixLen {
		return "", fmt.Errorf("version %q: %w", ref, common.ErrNotFound)
	}

	ids, err := s.db.FindVersionIDsByPrefix(ctx, ref, 2)
	if err != nil {
		return "", common.Transient("version lookup", err)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("version %q: %w", ref, common.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", &common.InvalidInputError{Field: "version_id", Reason: fmt.Sprintf("prefix %q is ambiguous", ref)}
	}
}

// GetVersion returns a version and records the read.
func (s *Store) GetVersion(ctx context.Context, ref string) (*Version, error) {
	id, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.db.TouchVersion(ctx, id, s.now().UnixNano()); err != nil {
		return nil, common.Transient("touch version", err)
	}
	return s.Peek(ctx, id)
}

// Peek returns a version without recording the read.
func (s *Store) Peek(ctx context.Context, ref string) (*Version, error) {
	id, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.PeekWith(s.db.DB, ctx, id)
}

// PeekWith returns the version with exact id on idb.
func (s *Store) PeekWith(idb bun.IDB, ctx context.Context, id string) (*Version, error) {
	m, err := s.db.GetVersionWith(idb, ctx, id)
	if err != nil {
		return nil, common.Transient("version lookup", err)
	}
	return fromModel(m), nil
}

// ListVersions returns a dataset's versions, newest first.
func (s *Store) ListVersions(ctx context.Context, datasetID string) ([]*Version, error) {
	models, err := s.db.ListVersions(ctx, datasetID)
	if err != nil {
		return nil, common.Transient("list versions", err)
	}
	out := make([]*Version, len(models))
	for i := range models {
		out[i] = fromModel(&models[i])
	}
	return out, nil
}

// ListDatasets summarizes every dataset.
func (s *Store) ListDatasets(ctx context.Context) ([]storage.DatasetSummary, error) {
	out, err := s.db.ListDatasets(ctx)
	if err != nil {
		return nil, common.Transient("list datasets", err)
	}
	return out, nil
}

// PinVersion exempts a version from retention.
func (s *Store) PinVersion(ctx context.Context, ref string) (*Version, error) {
	return s.setPinned(ctx, ref, true)
}

// UnpinVersion makes a version eligible for retention again.
func (s *Store) UnpinVersion(ctx context.Context, ref string) (*Version, error) {
	return s.setPinned(ctx, ref, false)
}

func (s *Store) setPinned(ctx context.Context, ref string, pinned bool) (*Version, error) {
	id, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.db.SetPinned(ctx, id, pinned); err != nil {
		return nil, common.Transient("pin version", err)
	}
	log.Debugf("[Version] %s pinned=%v", id, pinned)
	return s.Peek(ctx, id)
}

// DeleteVersion removes a version that is neither pinned nor a parent.
// The blob goes with the last version stored at its location, and lineage
// edges from the version to already deleted children are dropped.
func (s *Store) DeleteVersion(ctx context.Context, ref string) (*Version, error) {
	current, err := s.Peek(ctx, ref)
	if err != nil {
		return nil, err
	}
	id := current.VersionID
	unlock, err := s.lockContent(ctx, current.ContentHash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		victim *Version
		refs   int
	)
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		v, err := s.PeekWith(tx, ctx, id)
		if err != nil {
			return err
		}
		if v.IsPinned {
			return &common.VersionInUseError{VersionID: id, Pinned: true}
		}
		children, err := s.db.CountChildrenWith(tx, ctx, id)
		if err != nil {
			return common.Transient("count children", err)
		}
		if children > 0 {
			return &common.VersionInUseError{VersionID: id, Children: children}
		}
		if err := s.db.DeleteVersionWith(tx, ctx, id); err != nil {
			return common.Transient("delete version", err)
		}
		if n, err := s.db.DeleteOrphanedLineageWith(tx, ctx, id); err != nil {
			return common.Transient("delete lineage", err)
		} else if n > 0 {
			log.Debugf("[Version] Delete: dropped %d lineage edge(s) from %s", n, id)
		}
		refs, err = s.db.CountLocationRefsWith(tx, ctx, v.StorageLocation)
		if err != nil {
			return common.Transient("count references", err)
		}
		victim = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refs == 0 {
		if err := s.blobs.Delete(ctx, victim.StorageLocation); err != nil && !errors.Is(err, common.ErrNotFound) {
			log.Warnf("[Version] Delete: blob %s left behind: %v", victim.StorageLocation, err)
		}
	}
	log.Debugf("[Version] Delete: %s (blob refs left: %d)", id, refs)
	return victim, nil
}

// ReadContent returns a version's bytes after checking them against its hash.
func (s *Store) ReadContent(ctx context.Context, v *Version) ([]byte, error) {
	data, err := s.blobs.Get(ctx, v.StorageLocation)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, &common.BrokenChainError{VersionID: v.VersionID, MissingID: v.StorageLocation, Reason: "content missing from blob store"}
		}
		return nil, err
	}
	if !hasher.Verify(data, v.ContentHash) {
		return nil, fmt.Errorf("version %s: content does not match hash %s: %w", v.VersionID, v.ContentHash.Short(), common.ErrIntegrity)
	}
	return data, nil
}

// Stats summarizes the catalog.
func (s *Store) Stats(ctx context.Context) (*storage.CatalogStats, error) {
	st, err := s.db.Stats(ctx)
	if err != nil {
		return nil, common.Transient("catalog stats", err)
	}
	return st, nil
}
