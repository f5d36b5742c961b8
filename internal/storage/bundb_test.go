package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalineage/internal/common"
)

var testClock int64 = 1_700_000_000_000_000_000

func testVersion(id, dataset, hash string) *VersionModel {
	testClock += 1000
	return &VersionModel{
		ID:              id,
		DatasetID:       dataset,
		ContentHash:     hash,
		StorageLocation: "fs://" + hash,
		SizeBytes:       100,
		RowCount:        10,
		ColumnCount:     2,
		Columns:         `["a","b"]`,
		CreatedBy:       "tester",
		CreatedAt:       testClock,
	}
}

func testEdge(id, parent, child string) *LineageModel {
	testClock += 1000
	return &LineageModel{
		ID:                 id,
		ParentVersionID:    parent,
		ChildVersionID:     child,
		TransformationType: "impute",
		Parameters:         `{"columns":["a"],"strategy":"mean"}`,
		Steps:              `[]`,
		RowsAffected:       3,
		DataLossPercentage: 0,
		AppliedAt:          testClock,
		AppliedBy:          "tester",
	}
}

func TestVersionCRUD(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	root := testVersion("aaaa1111", "sales", "h1")
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, root))

	got, err := db.GetVersion(ctx, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "sales", got.DatasetID)
	assert.Empty(t, got.ParentVersionID)
	assert.Equal(t, `["a","b"]`, got.Columns)
	assert.False(t, got.IsPinned)

	_, err = db.GetVersion(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// duplicate id
	assert.Error(t, db.InsertVersionWith(db.DB, ctx, testVersion("aaaa1111", "sales", "h2")))
}

func TestFindVersionIDsByPrefix(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	for _, id := range []string{"abcd0001", "abcd0002", "abff0003"} {
		require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion(id, "ds", id)))
	}

	ids, err := db.FindVersionIDsByPrefix(ctx, "abcd", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd0001", "abcd0002"}, ids)

	ids, err = db.FindVersionIDsByPrefix(ctx, "abcd", 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	ids, err = db.FindVersionIDsByPrefix(ctx, "zzzz", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFindVersionByHash(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v1", "sales", "same")))
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v2", "sales", "same")))

	got, err := db.FindVersionByHashWith(db.DB, ctx, "sales", "same")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v1", got.ID, "oldest match wins")

	// same hash, different dataset
	got, err = db.FindVersionByHashWith(db.DB, ctx, "inventory", "same")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListVersionsNewestFirst(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v1", "sales", "h1")))
	v2 := testVersion("v2", "sales", "h2")
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, v2))
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("x1", "other", "h3")))

	// Same timestamp falls back to insertion order.
	tie := testVersion("v3", "sales", "h4")
	tie.CreatedAt = v2.CreatedAt
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, tie))

	versions, err := db.ListVersions(ctx, "sales")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v3", versions[0].ID)
	assert.Equal(t, "v2", versions[1].ID)
	assert.Equal(t, "v1", versions[2].ID)

	empty, err := db.ListVersions(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	datasets, err := db.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "other", datasets[0].DatasetID)
	assert.Equal(t, "sales", datasets[1].DatasetID)
	assert.EqualValues(t, 3, datasets[1].Versions)
	assert.Equal(t, "v3", datasets[1].LatestVersion)
}

func TestTouchAndPin(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v1", "ds", "h1")))

	require.NoError(t, db.TouchVersion(ctx, "v1", 42))
	require.NoError(t, db.TouchVersion(ctx, "v1", 43))
	got, err := db.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.AccessCount)
	assert.EqualValues(t, 43, got.LastAccessedAt)

	require.NoError(t, db.SetPinned(ctx, "v1", true))
	got, err = db.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.IsPinned)

	require.NoError(t, db.SetPinned(ctx, "v1", false))
	got, err = db.GetVersion(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, got.IsPinned)

	assert.ErrorIs(t, db.TouchVersion(ctx, "nope", 1), common.ErrNotFound)
	assert.ErrorIs(t, db.SetPinned(ctx, "nope", true), common.ErrNotFound)
}

func TestChildrenAndLocationRefs(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	root := testVersion("root", "ds", "h1")
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, root))
	for i := 0; i < 2; i++ {
		child := testVersion(fmt.Sprintf("child-%d", i), "ds", "h2")
		child.ParentVersionID = "root"
		require.NoError(t, db.InsertVersionWith(db.DB, ctx, child))
	}

	n, err := db.CountChildrenWith(db.DB, ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	refs, err := db.CountLocationRefsWith(db.DB, ctx, "fs://h2")
	require.NoError(t, err)
	assert.Equal(t, 2, refs)

	require.NoError(t, db.DeleteVersionWith(db.DB, ctx, "child-0"))
	refs, err = db.CountLocationRefsWith(db.DB, ctx, "fs://h2")
	require.NoError(t, err)
	assert.Equal(t, 1, refs)

	n, err = db.CountChildrenWith(db.DB, ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, db.DeleteVersionWith(db.DB, ctx, "child-0"), common.ErrNotFound)
}

func TestLineageEdges(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("p", "ds", "h1")))
	for _, id := range []string{"c1", "c2"} {
		v := testVersion(id, "ds", "h-"+id)
		v.ParentVersionID = "p"
		require.NoError(t, db.InsertVersionWith(db.DB, ctx, v))
	}

	e1 := testEdge("e1", "p", "c1")
	e1.RequestToken = "tok-1"
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, e1))
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, testEdge("e2", "p", "c2")))

	// child_version_id is unique
	assert.Error(t, db.InsertLineageWith(db.DB, ctx, testEdge("e3", "p", "c1")))

	got, err := db.GetLineageByChildWith(db.DB, ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, "impute", got.TransformationType)

	none, err := db.GetLineageByChildWith(db.DB, ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, none)

	byToken, err := db.GetLineageByToken(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	assert.Equal(t, "c1", byToken.ChildVersionID)

	noToken, err := db.GetLineageByToken(ctx, "tok-unknown")
	require.NoError(t, err)
	assert.Nil(t, noToken)

	edges, err := db.ListLineageByParent(ctx, "p")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "c1", edges[0].ChildVersionID)
	assert.Equal(t, "c2", edges[1].ChildVersionID)
}

func TestLineageTokensAreUnique(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	a := testEdge("e1", "p", "c1")
	a.RequestToken = "same"
	b := testEdge("e2", "p", "c2")
	b.RequestToken = "same"
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, a))
	assert.Error(t, db.InsertLineageWith(db.DB, ctx, b))

	// absent tokens are NULL and never collide
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, testEdge("e3", "p", "c3")))
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, testEdge("e4", "p", "c4")))
}

func TestLineageRejectsOutOfRangeLoss(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	e := testEdge("e1", "p", "c1")
	e.DataLossPercentage = 120
	assert.Error(t, db.InsertLineageWith(db.DB, ctx, e))
}

func TestEdgeRetentionAcrossDeletes(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("p", "ds", "h1")))
	child := testVersion("c", "ds", "h2")
	child.ParentVersionID = "p"
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, child))
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, testEdge("e", "p", "c")))

	// Deleting the child keeps its incoming edge but hides it from listings.
	require.NoError(t, db.DeleteVersionWith(db.DB, ctx, "c"))
	edge, err := db.GetLineageByChildWith(db.DB, ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, edge)

	live, err := db.ListLineageByParent(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, live)

	// Deleting the parent removes edges that lost both endpoints.
	require.NoError(t, db.DeleteVersionWith(db.DB, ctx, "p"))
	n, err := db.DeleteOrphanedLineageWith(db.DB, ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	edge, err = db.GetLineageByChildWith(db.DB, ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, edge)
}

func TestCatalogStats(t *testing.T) {
	c, cleanup := testCatalog(t)
	defer cleanup()
	ctx := context.Background()
	db := c.BunDB()

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Versions)

	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v1", "sales", "h1")))
	dup := testVersion("v2", "sales", "h1")
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, dup))
	require.NoError(t, db.InsertVersionWith(db.DB, ctx, testVersion("v3", "other", "h3")))
	require.NoError(t, db.SetPinned(ctx, "v3", true))
	require.NoError(t, db.InsertLineageWith(db.DB, ctx, testEdge("e1", "v1", "v2")))

	stats, err = db.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Datasets)
	assert.EqualValues(t, 3, stats.Versions)
	assert.EqualValues(t, 1, stats.Pinned)
	assert.EqualValues(t, 1, stats.LineageEdges)
	assert.EqualValues(t, 300, stats.LogicalBytes)
	assert.EqualValues(t, 2, stats.DistinctBlobs)
}
