package version

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"datalineage/internal/blob"
	"datalineage/internal/common"
	"datalineage/internal/hasher"
	"datalineage/internal/storage"
)

type testEnv struct {
	catalog *storage.Catalog
	store   *Store
	blobs   *countingStore
}

// countingStore records blob writes so dedup can be observed.
type countingStore struct {
	blob.Store
	puts    int
	writes  int
	deletes int
}

func (c *countingStore) Put(ctx context.Context, key string, data []byte) (string, bool, error) {
	c.puts++
	loc, created, err := c.Store.Put(ctx, key, data)
	if created {
		c.writes++
	}
	return loc, created, err
}

func (c *countingStore) Delete(ctx context.Context, location string) error {
	c.deletes++
	return c.Store.Delete(ctx, location)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := storage.Create(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	blobs := &countingStore{Store: blob.NewFSStore(memfs.New(), blob.CompressionNone)}
	store := NewStore(catalog.BunDB(), blobs, hasher.New(1), nil)

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return &testEnv{catalog: catalog, store: store, blobs: blobs}
}

func upload(t *testing.T, env *testEnv, dataset, content string) *Version {
	t.Helper()
	v, _, err := env.store.CreateVersion(context.Background(), Input{
		DatasetID: dataset,
		CreatedBy: "alice",
		Content:   []byte(content),
		RowCount:  1,
		Columns:   []string{"a", "b"},
	})
	require.NoError(t, err)
	return v
}

func derive(t *testing.T, env *testEnv, parent *Version, content string) *Version {
	t.Helper()
	v, created, err := env.store.CreateVersion(context.Background(), Input{
		DatasetID:       parent.DatasetID,
		ParentVersionID: parent.VersionID,
		CreatedBy:       "alice",
		Content:         []byte(content),
		RowCount:        1,
		Columns:         []string{"a"},
	})
	require.NoError(t, err)
	require.True(t, created)
	return v
}

func TestCreateVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v, created, err := env.store.CreateVersion(ctx, Input{
		DatasetID: "sales",
		CreatedBy: "alice",
		Content:   []byte("a,b\n1,2\n"),
		RowCount:  1,
		Columns:   []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, v.IsRoot())
	assert.Equal(t, hasher.Sum([]byte("a,b\n1,2\n")), v.ContentHash)
	assert.EqualValues(t, 8, v.SizeBytes)
	assert.EqualValues(t, 1, v.RowCount)
	assert.EqualValues(t, 2, v.ColumnCount)
	assert.Equal(t, "alice", v.CreatedBy)
	assert.False(t, v.Accessed())

	got, err := env.store.Peek(ctx, v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, v.ContentHash, got.ContentHash)
	assert.Equal(t, []string{"a", "b"}, got.Columns)
	assert.True(t, v.CreatedAt.Equal(got.CreatedAt))

	data, err := env.store.ReadContent(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestCreateVersionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.store.CreateVersion(ctx, Input{DatasetID: "", Content: []byte("x")})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, _, err = env.store.CreateVersion(ctx, Input{DatasetID: "ds", Content: nil})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Zero(t, env.blobs.puts)
}

func TestUploadDedup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := upload(t, env, "sales", "a,b\n1,2\n")
	again, created, err := env.store.CreateVersion(ctx, Input{DatasetID: "sales", Content: []byte("a,b\n1,2\n")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.VersionID, again.VersionID)
	assert.Equal(t, first.ContentHash, again.ContentHash)
	assert.Equal(t, 1, env.blobs.puts, "dedup hit must not reach the blob store")

	versions, err := env.store.ListVersions(ctx, "sales")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestNoCrossDatasetDedup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := upload(t, env, "sales", "same bytes")
	b := upload(t, env, "inventory", "same bytes")

	assert.NotEqual(t, a.VersionID, b.VersionID)
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.StorageLocation, b.StorageLocation, "identical bytes share the blob")
	assert.Equal(t, 1, env.blobs.writes)

	for _, ds := range []string{"sales", "inventory"} {
		versions, err := env.store.ListVersions(ctx, ds)
		require.NoError(t, err)
		assert.Len(t, versions, 1)
	}
}

func TestDerivedVersionsFanOut(t *testing.T) {
	env := newTestEnv(t)

	root := upload(t, env, "sales", "a,b\n1,2\n")
	c1 := derive(t, env, root, "a\n1\n")
	c2 := derive(t, env, root, "a\n1\n")

	assert.NotEqual(t, c1.VersionID, c2.VersionID)
	assert.Equal(t, root.VersionID, c1.ParentVersionID)
	assert.Equal(t, c1.StorageLocation, c2.StorageLocation)
	assert.Equal(t, 2, env.blobs.writes, "root blob plus one shared child blob")
}

func TestDerivedVersionParentChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := upload(t, env, "sales", "a,b\n1,2\n")

	_, _, err := env.store.CreateVersion(ctx, Input{DatasetID: "sales", ParentVersionID: "missing", Content: []byte("x")})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, _, err = env.store.CreateVersion(ctx, Input{DatasetID: "other", ParentVersionID: root.VersionID, Content: []byte("y")})
	assert.ErrorIs(t, err, common.ErrValidation)

	// Failed inserts release the blobs they wrote.
	_, err = env.store.blobs.Get(ctx, "fs://"+common.ShardKey(string(hasher.Sum([]byte("x")))))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestStageInsertDiscard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.store.Stage(ctx, Input{DatasetID: "sales", Content: []byte("staged")})
	require.NoError(t, err)
	defer st.Release()
	assert.True(t, st.BlobCreated)

	// Roll back the insert, then compensate.
	err = env.catalog.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := env.store.InsertWith(tx, ctx, st); err != nil {
			return err
		}
		return common.ErrConflict
	})
	require.ErrorIs(t, err, common.ErrConflict)
	require.NoError(t, env.store.Discard(ctx, st))

	_, err = env.store.blobs.Get(ctx, st.Location)
	assert.ErrorIs(t, err, common.ErrNotFound)
	versions, err := env.store.ListVersions(ctx, "sales")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestDiscardKeepsReferencedBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := upload(t, env, "sales", "shared")

	st := &Staged{Location: v.StorageLocation, BlobCreated: true}
	require.NoError(t, env.store.Discard(ctx, st))

	_, err := env.store.blobs.Get(ctx, v.StorageLocation)
	assert.NoError(t, err)

	assert.NoError(t, env.store.Discard(ctx, nil))
}

func TestGetVersionTracksAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := upload(t, env, "sales", "content")

	got, err := env.store.GetVersion(ctx, v.VersionID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.AccessCount)
	assert.True(t, got.Accessed())

	got, err = env.store.GetVersion(ctx, v.VersionID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.AccessCount)

	peeked, err := env.store.Peek(ctx, v.VersionID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, peeked.AccessCount)

	_, err = env.store.GetVersion(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := upload(t, env, "sales", "content")

	id, err := env.store.Resolve(ctx, v.VersionID[:8])
	require.NoError(t, err)
	assert.Equal(t, v.VersionID, id)

	_, err = env.store.Resolve(ctx, v.VersionID[:3])
	assert.ErrorIs(t, err, common.ErrNotFound, "prefixes shorter than the minimum never match")

	_, err = env.store.Resolve(ctx, "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"abcd-1", "abcd-2"} {
		m := &storage.VersionModel{ID: id, DatasetID: "ds", ContentHash: "h", StorageLocation: "fs://h", Columns: "[]", CreatedAt: 1}
		require.NoError(t, env.catalog.BunDB().InsertVersionWith(env.catalog.BunDB().DB, ctx, m))
	}
	_, err := env.store.Resolve(ctx, "abcd")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestListVersionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	v1 := upload(t, env, "sales", "one")
	v2 := upload(t, env, "sales", "two")
	v3 := derive(t, env, v2, "three")

	versions, err := env.store.ListVersions(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, v3.VersionID, versions[0].VersionID)
	assert.Equal(t, v2.VersionID, versions[1].VersionID)
	assert.Equal(t, v1.VersionID, versions[2].VersionID)

	datasets, err := env.store.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, v3.VersionID, datasets[0].LatestVersion)
}

func TestPinAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := upload(t, env, "sales", "content")

	pinned, err := env.store.PinVersion(ctx, v.VersionID)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	_, err = env.store.DeleteVersion(ctx, v.VersionID)
	var inUse *common.VersionInUseError
	require.ErrorAs(t, err, &inUse)
	assert.True(t, inUse.Pinned)
	assert.ErrorIs(t, err, common.ErrInUse)

	unpinned, err := env.store.UnpinVersion(ctx, v.VersionID)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)

	deleted, err := env.store.DeleteVersion(ctx, v.VersionID)
	require.NoError(t, err)
	assert.Equal(t, v.VersionID, deleted.VersionID)

	_, err = env.store.Peek(ctx, v.VersionID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = env.store.blobs.Get(ctx, v.StorageLocation)
	assert.ErrorIs(t, err, common.ErrNotFound, "last reference takes the blob")
}

func TestDeleteParentAfterChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := upload(t, env, "sales", "root")
	child := derive(t, env, root, "child")

	_, err := env.store.DeleteVersion(ctx, root.VersionID)
	var inUse *common.VersionInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.Children)

	_, err = env.store.DeleteVersion(ctx, child.VersionID)
	require.NoError(t, err)
	_, err = env.store.DeleteVersion(ctx, root.VersionID)
	require.NoError(t, err)
}

func TestDeleteKeepsSharedBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := upload(t, env, "sales", "shared")
	b := upload(t, env, "inventory", "shared")

	_, err := env.store.DeleteVersion(ctx, a.VersionID)
	require.NoError(t, err)

	data, err := env.store.ReadContent(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))
}

// deleteHookStore runs onDelete just before a blob is removed.
type deleteHookStore struct {
	blob.Store
	onDelete func()
}

func (d *deleteHookStore) Delete(ctx context.Context, location string) error {
	if hook := d.onDelete; hook != nil {
		d.onDelete = nil
		hook()
	}
	return d.Store.Delete(ctx, location)
}

func TestDeleteWaitsForSameContentUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	hooked := &deleteHookStore{Store: env.blobs.Store}
	store := NewStore(env.catalog.BunDB(), hooked, hasher.New(1), nil)

	content := []byte("a,b\n1,2\n")
	alpha, _, err := store.CreateVersion(ctx, Input{DatasetID: "alpha", Content: content})
	require.NoError(t, err)

	var (
		beta    *Version
		betaErr error
		done    = make(chan struct{})
	)
	hooked.onDelete = func() {
		go func() {
			defer close(done)
			beta, _, betaErr = store.CreateVersion(ctx, Input{DatasetID: "beta", Content: content})
		}()
		select {
		case <-done:
			t.Error("upload of the same content finished while its blob was being removed")
		case <-time.After(50 * time.Millisecond):
		}
	}

	_, err = store.DeleteVersion(ctx, alpha.VersionID)
	require.NoError(t, err)
	<-done
	require.NoError(t, betaErr)

	data, err := store.ReadContent(ctx, beta)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestStagedReleaseIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.store.Stage(ctx, Input{DatasetID: "sales", Content: []byte("held")})
	require.NoError(t, err)
	st.Release()
	st.Release()

	// The slot is free again, so the same content can be stored.
	v := upload(t, env, "sales", "held")
	assert.Equal(t, st.Location, v.StorageLocation)

	var empty *Staged
	empty.Release()
}

func TestReadContentDetectsCorruption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := upload(t, env, "sales", "content")

	tampered := *v
	tampered.ContentHash = hasher.Sum([]byte("other"))
	_, err := env.store.ReadContent(ctx, &tampered)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	require.NoError(t, env.store.blobs.Delete(ctx, v.StorageLocation))
	_, err = env.store.ReadContent(ctx, v)
	var broken *common.BrokenChainError
	assert.ErrorAs(t, err, &broken)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := upload(t, env, "sales", "root")
	derive(t, env, root, "child")
	upload(t, env, "inventory", "root")

	st, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Datasets)
	assert.EqualValues(t, 3, st.Versions)
	assert.EqualValues(t, 2, st.DistinctBlobs)
}
