package files

import (
	"context"
	"time"

	"homeserver/internal/store"
)

// GCOptions control one collection run. A zero PendingGrace uses the
// configured grace period.
type GCOptions struct {
	DryRun       bool
	PendingGrace time.Duration
	BatchSize    int
}

// GCResult reports one collection run.
type GCResult struct {
	CandidateCount int                   `json:"candidate_count"`
	DeletedCount   int                   `json:"deleted_count"`
	FailedCount    int                   `json:"failed_count"`
	SkippedCount   int                   `json:"skipped_count"`
	Blobs          store.BlobSweepResult `json:"blobs"`
	DryRun         bool                  `json:"dry_run"`
}

// CollectGarbage deletes queued orphan objects from their backends, gives
// up on pending uploads older than the grace period and sweeps inline
// blobs that nothing references.
func (s *Service) CollectGarbage(ctx context.Context, opts GCOptions) (GCResult, error) {
	result := GCResult{DryRun: opts.DryRun}
	if err := s.ready(); err != nil {
		return result, err
	}
	grace := opts.PendingGrace
	if grace <= 0 {
		grace = s.cfg.PendingGrace
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultGCBatchSize
	}

	candidates, err := s.orphans.ListOrphans(ctx, s.now().UTC().Add(-grace), batch)
	if err != nil {
		return result, storageIO("list orphans", err)
	}
	result.CandidateCount = len(candidates)

	for _, orphan := range candidates {
		if opts.DryRun {
			continue
		}
		logger := s.logger.With("backend", orphan.BackendID, "key", orphan.ObjectKey, "reason", orphan.Reason)

		if orphan.Reason == store.OrphanPending {
			abandoned, err := s.orphans.AbandonPending(ctx, orphan.BackendID, orphan.ObjectKey)
			if err != nil {
				return result, storageIO("abandon pending object", err)
			}
			if !abandoned {
				result.SkippedCount++
				continue
			}
		}

		referenced, err := s.orphans.ObjectReferenced(ctx, orphan.BackendID, orphan.ObjectKey)
		if err != nil {
			return result, storageIO("check object reference", err)
		}
		if referenced {
			logger.Warn("queued orphan is still referenced, keeping object")
			if err := s.orphans.ForgetOrphan(ctx, orphan.BackendID, orphan.ObjectKey); err != nil {
				return result, storageIO("forget orphan", err)
			}
			result.SkippedCount++
			continue
		}

		backend, err := s.backends.Get(orphan.BackendID)
		if err == nil {
			err = backend.Delete(ctx, orphan.ObjectKey)
		}
		if err != nil {
			logger.Warn("gc delete failed", "error", err, "attempts", orphan.Attempts+1)
			result.FailedCount++
			if markErr := s.orphans.MarkOrphanAttempt(ctx, orphan.BackendID, orphan.ObjectKey, err); markErr != nil {
				return result, storageIO("record gc attempt", markErr)
			}
			continue
		}
		if err := s.orphans.ForgetOrphan(ctx, orphan.BackendID, orphan.ObjectKey); err != nil {
			return result, storageIO("forget orphan", err)
		}
		result.DeletedCount++
	}

	blobs, err := s.entries.SweepBlobs(ctx, opts.DryRun)
	if err != nil {
		return result, storageIO("sweep blobs", err)
	}
	result.Blobs = blobs

	s.logger.Info("garbage collection finished",
		"candidates", result.CandidateCount,
		"deleted", result.DeletedCount,
		"failed", result.FailedCount,
		"skipped", result.SkippedCount,
		"blobs_deleted", blobs.Deleted,
		"dry_run", result.DryRun,
	)
	return result, nil
}
