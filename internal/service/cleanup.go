package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"datalineage/internal/common"
	"datalineage/internal/version"
)

// RetentionPolicy selects the versions Cleanup may remove.
type RetentionPolicy struct {
	// KeepLatest is the number of newest versions kept regardless of age.
	KeepLatest int
	// OlderThan limits removal to versions created before now minus
	// OlderThan. Zero means any age.
	OlderThan time.Duration
	// DryRun reports what would be removed without removing it.
	DryRun bool
}

// CleanupReport lists what Cleanup removed, or would remove.
type CleanupReport struct {
	DatasetID  string   `json:"dataset_id"`
	Removed    []string `json:"removed"`
	Retained   int      `json:"retained"`
	FreedBytes int64    `json:"freed_bytes"`
	DryRun     bool     `json:"dry_run"`
}

// Cleanup removes versions of a dataset that fall outside policy. Only
// leaves are removed, so it repeats until no further version qualifies.
// Pinned versions, roots and the KeepLatest newest versions are never
// removed.
func (s *Service) Cleanup(ctx context.Context, datasetID string, policy RetentionPolicy) (*CleanupReport, error) {
	if datasetID == "" {
		return nil, &common.InvalidInputError{Field: "dataset_id", Reason: "must not be empty"}
	}
	if policy.KeepLatest < 0 || policy.OlderThan < 0 {
		return nil, &common.InvalidInputError{Field: "policy", Reason: "must not be negative"}
	}

	unlock, err := s.lockDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	versions, err := s.versions.ListVersions(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &common.InvalidInputError{Field: "dataset_id", Reason: "dataset " + datasetID + " has no versions"}
	}

	cutoff := time.Time{}
	if policy.OlderThan > 0 {
		cutoff = s.now().Add(-policy.OlderThan)
	}
	children := make(map[string]int, len(versions))
	for _, v := range versions {
		if v.ParentVersionID != "" {
			children[v.ParentVersionID]++
		}
	}

	// versions is newest first.
	eligible := make(map[string]*version.Version)
	for i, v := range versions {
		switch {
		case i < policy.KeepLatest, v.IsPinned, v.IsRoot():
		case !cutoff.IsZero() && !v.CreatedAt.Before(cutoff):
		default:
			eligible[v.VersionID] = v
		}
	}

	report := &CleanupReport{DatasetID: datasetID, DryRun: policy.DryRun}
	for {
		var round []*version.Version
		for _, v := range versions {
			if _, ok := eligible[v.VersionID]; ok && children[v.VersionID] == 0 {
				round = append(round, v)
			}
		}
		if len(round) == 0 {
			break
		}
		for _, v := range round {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if !policy.DryRun {
				if _, err := s.versions.DeleteVersion(ctx, v.VersionID); err != nil {
					if errors.Is(err, common.ErrInUse) || errors.Is(err, common.ErrNotFound) {
						// Changed underneath us; leave it for the next run.
						log.Warnf("[Cleanup] skip %s: %v", v.VersionID, err)
						delete(eligible, v.VersionID)
						continue
					}
					return report, err
				}
			}
			delete(eligible, v.VersionID)
			if v.ParentVersionID != "" {
				children[v.ParentVersionID]--
			}
			report.Removed = append(report.Removed, v.VersionID)
			report.FreedBytes += v.SizeBytes
		}
	}
	report.Retained = len(versions) - len(report.Removed)
	log.Infof("[Cleanup] %s: removed %d, retained %d (dry run: %v)",
		datasetID, len(report.Removed), report.Retained, policy.DryRun)
	return report, nil
}
