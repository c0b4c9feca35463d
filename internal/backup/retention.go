package backup

import (
	"context"
	"fmt"
	"time"

	"auto-backup/internal/logging"
)

// RetentionResult represents the result of applying the retention policy
type RetentionResult struct {
	TotalSnapshotsProcessed int                 `json:"total_snapshots_processed"`
	SnapshotsDeleted        int                 `json:"snapshots_deleted"`
	SnapshotsKept           int                 `json:"snapshots_kept"`
	DeletedSnapshots        []*SnapshotMetadata `json:"deleted_snapshots"`
	KeptSnapshots           []*SnapshotMetadata `json:"kept_snapshots"`
	BytesFreed              int64               `json:"bytes_freed"`
	Errors                  []string            `json:"errors"`
	ProcessingTime          time.Duration       `json:"processing_time"`
	DryRun                  bool                `json:"dry_run"`
}

// RetentionPolicy keeps the KeepCount most recent snapshots and prunes the rest
type RetentionPolicy struct {
	keepCount int
	manifest  *ManifestStore
	store     ArtifactStore
	logger    *logging.Logger
}

// NewRetentionPolicy creates a policy over manifest and store. A negative
// keepCount is treated as zero, which prunes everything.
func NewRetentionPolicy(keepCount int, manifest *ManifestStore, store ArtifactStore, logger *logging.Logger) *RetentionPolicy {
	if keepCount < 0 {
		keepCount = 0
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionPolicy{
		keepCount: keepCount,
		manifest:  manifest,
		store:     store,
		logger:    logger,
	}
}

// KeepCount returns the number of snapshots the policy retains
func (rp *RetentionPolicy) KeepCount() int {
	return rp.keepCount
}

// Candidates splits snapshots into those to delete and those to keep.
// The input does not need to be sorted.
func (rp *RetentionPolicy) Candidates(snapshots []*SnapshotMetadata) (toDelete, toKeep []*SnapshotMetadata) {
	sorted := append([]*SnapshotMetadata(nil), snapshots...)
	sortNewestFirst(sorted)

	if len(sorted) <= rp.keepCount {
		return nil, sorted
	}
	return sorted[rp.keepCount:], sorted[:rp.keepCount]
}

// Apply deletes every expired snapshot, artifact first and manifest entry
// second. An artifact that is already gone still has its entry removed;
// any other deletion failure leaves the entry in place and is reported.
func (rp *RetentionPolicy) Apply(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	startTime := time.Now()

	toDelete, toKeep := rp.Candidates(rp.manifest.List())
	result := &RetentionResult{
		TotalSnapshotsProcessed: len(toDelete) + len(toKeep),
		KeptSnapshots:           toKeep,
		DryRun:                  dryRun,
	}

	if len(toDelete) == 0 {
		result.SnapshotsKept = len(toKeep)
		result.ProcessingTime = time.Since(startTime)
		return result, nil
	}

	rp.logger.Info(fmt.Sprintf("Applying retention policy: keeping %d of %d snapshots (dry run: %v)",
		rp.keepCount, result.TotalSnapshotsProcessed, dryRun))

	for _, meta := range toDelete {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.KeptSnapshots = append(result.KeptSnapshots, meta)
			continue
		}

		if dryRun {
			rp.logger.Info(fmt.Sprintf("[DRY RUN] Would delete snapshot: %s (created: %s)",
				meta.ID, meta.CreatedAt.Format(time.RFC3339)))
			result.DeletedSnapshots = append(result.DeletedSnapshots, meta)
			result.BytesFreed += meta.CiphertextSize
			continue
		}

		if err := rp.store.Delete(ctx, meta.Artifact); err != nil && !IsNotFound(err) {
			rp.logger.Error(fmt.Sprintf("Failed to delete artifact of snapshot %s: %v", meta.ID, err))
			result.Errors = append(result.Errors, fmt.Sprintf("snapshot %s: %v", meta.ID, err))
			result.KeptSnapshots = append(result.KeptSnapshots, meta)
			continue
		}

		if err := rp.manifest.Remove(meta.ID); err != nil {
			rp.logger.Error(fmt.Sprintf("Failed to remove snapshot %s from manifest: %v", meta.ID, err))
			result.Errors = append(result.Errors, fmt.Sprintf("snapshot %s: %v", meta.ID, err))
			continue
		}

		rp.logger.Debug(fmt.Sprintf("Deleted snapshot: %s", meta.ID))
		result.DeletedSnapshots = append(result.DeletedSnapshots, meta)
		result.BytesFreed += meta.CiphertextSize
	}

	result.SnapshotsDeleted = len(result.DeletedSnapshots)
	result.SnapshotsKept = len(result.KeptSnapshots)
	result.ProcessingTime = time.Since(startTime)

	rp.logger.LogRetention(rp.keepCount, result.SnapshotsDeleted, dryRun, result.ProcessingTime)

	if len(result.Errors) > 0 {
		return result, NewStorageError(fmt.Sprintf("retention completed with %d errors", len(result.Errors)), nil)
	}
	return result, nil
}
