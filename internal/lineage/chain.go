package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"datalineage/internal/common"
	"datalineage/internal/storage"
)

// ancestry is the path from a root to a version: versions[i+1] was produced
// from versions[i] by edges[i].
type ancestry struct {
	versions []*storage.VersionModel
	edges    []*Lineage
}

func (a *ancestry) target() *storage.VersionModel { return a.versions[len(a.versions)-1] }

// walk follows parent pointers from versionID to its root. Every hop must
// have its parent version and its lineage edge, and the two must agree.
func (t *Tracker) walk(ctx context.Context, versionID string) (*ancestry, error) {
	start, err := t.db.GetVersion(ctx, versionID)
	if err != nil {
		return nil, common.Transient("version lookup", err)
	}

	var (
		versions = []*storage.VersionModel{start}
		edges    []*Lineage
		seen     = map[string]bool{start.ID: true}
	)
	cur := start
	for cur.ParentVersionID != "" {
		m, err := t.db.GetLineageByChildWith(t.db.DB, ctx, cur.ID)
		if err != nil {
			return nil, common.Transient("lineage lookup", err)
		}
		if m == nil {
			return nil, &common.BrokenChainError{VersionID: versionID, MissingID: cur.ID, Reason: "no lineage edge into version"}
		}
		if m.ParentVersionID != cur.ParentVersionID {
			return nil, &common.BrokenChainError{
				VersionID: versionID,
				MissingID: cur.ID,
				Reason:    fmt.Sprintf("edge names parent %s, version names %s", m.ParentVersionID, cur.ParentVersionID),
			}
		}
		if seen[cur.ParentVersionID] {
			return nil, &common.CycleDetectedError{ParentVersionID: cur.ParentVersionID, ChildVersionID: cur.ID}
		}

		parent, err := t.db.GetVersion(ctx, cur.ParentVersionID)
		if errors.Is(err, common.ErrNotFound) {
			return nil, &common.BrokenChainError{VersionID: versionID, MissingID: cur.ParentVersionID, Reason: "parent version missing"}
		}
		if err != nil {
			return nil, common.Transient("version lookup", err)
		}
		edge, err := fromModel(m)
		if err != nil {
			return nil, err
		}

		seen[parent.ID] = true
		versions = append(versions, parent)
		edges = append(edges, edge)
		cur = parent
	}

	reverse(versions)
	reverse(edges)
	return &ancestry{versions: versions, edges: edges}, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// GetLineageChain returns the edges from the root of versionID's lineage down
// to versionID, in application order. Roots have an empty chain.
func (t *Tracker) GetLineageChain(ctx context.Context, versionID string) ([]*Lineage, error) {
	a, err := t.walk(ctx, versionID)
	if err != nil {
		return nil, err
	}
	log.Debugf("[Lineage] Chain: %s has %d edge(s)", versionID, len(a.edges))
	return a.edges, nil
}

// Diff summarizes how two versions differ.
type Diff struct {
	RowDelta       int64    `json:"row_delta"`
	ColumnDelta    int64    `json:"column_delta"`
	SizeDelta      int64    `json:"size_delta"`
	SameContent    bool     `json:"same_content"`
	AddedColumns   []string `json:"added_columns,omitempty"`
	RemovedColumns []string `json:"removed_columns,omitempty"`
}

// Comparison relates two versions through their nearest common ancestor.
// PathA and PathB are the edges leading from the ancestor to each version.
type Comparison struct {
	VersionA       string     `json:"version_a"`
	VersionB       string     `json:"version_b"`
	Related        bool       `json:"related"`
	CommonAncestor string     `json:"common_ancestor,omitempty"`
	PathA          []*Lineage `json:"path_a"`
	PathB          []*Lineage `json:"path_b"`
	Diff           Diff       `json:"diff"`
}

// CompareVersions finds the nearest common ancestor of a and b. Versions in
// unrelated lineages compare with Related=false and no paths.
func (t *Tracker) CompareVersions(ctx context.Context, a, b string) (*Comparison, error) {
	pa, err := t.walk(ctx, a)
	if err != nil {
		return nil, err
	}
	pb, err := t.walk(ctx, b)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{
		VersionA: pa.target().ID,
		VersionB: pb.target().ID,
		PathA:    []*Lineage{},
		PathB:    []*Lineage{},
		Diff:     diff(pa.target(), pb.target()),
	}

	shared := 0
	for shared < len(pa.versions) && shared < len(pb.versions) &&
		pa.versions[shared].ID == pb.versions[shared].ID {
		shared++
	}
	if shared == 0 {
		log.Debugf("[Lineage] Compare: %s and %s share no ancestor", a, b)
		return cmp, nil
	}

	cmp.Related = true
	cmp.CommonAncestor = pa.versions[shared-1].ID
	cmp.PathA = append(cmp.PathA, pa.edges[shared-1:]...)
	cmp.PathB = append(cmp.PathB, pb.edges[shared-1:]...)
	return cmp, nil
}

func diff(a, b *storage.VersionModel) Diff {
	d := Diff{
		RowDelta:    b.RowCount - a.RowCount,
		ColumnDelta: b.ColumnCount - a.ColumnCount,
		SizeDelta:   b.SizeBytes - a.SizeBytes,
		SameContent: a.ContentHash == b.ContentHash,
	}
	var colsA, colsB []string
	_ = json.Unmarshal([]byte(a.Columns), &colsA)
	_ = json.Unmarshal([]byte(b.Columns), &colsB)
	inA := make(map[string]bool, len(colsA))
	for _, c := range colsA {
		inA[c] = true
	}
	inB := make(map[string]bool, len(colsB))
	for _, c := range colsB {
		inB[c] = true
		if !inA[c] {
			d.AddedColumns = append(d.AddedColumns, c)
		}
	}
	for _, c := range colsA {
		if !inB[c] {
			d.RemovedColumns = append(d.RemovedColumns, c)
		}
	}
	return d
}
