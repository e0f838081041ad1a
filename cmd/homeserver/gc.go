package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"homeserver/internal/config"
	"homeserver/internal/files"
)

type gcOutput struct {
	files.GCResult
	PurgedSessions int64 `json:"purged_sessions"`
}

func newGCCmd(cfg *config.Config, jsonOutput *bool, logs *logSettings) *cobra.Command {
	var (
		dryRun bool
		grace  time.Duration
		batch  int
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Reclaim orphaned objects, unreferenced blobs and stale sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if grace < 0 {
				return fmt.Errorf("--grace must be >= 0")
			}
			if batch < 0 {
				return fmt.Errorf("--batch must be >= 0")
			}

			ctx := cmd.Context()
			logger := logs.logger("gc")
			eng, err := openEngine(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.files.CollectGarbage(ctx, files.GCOptions{
				DryRun:       dryRun,
				PendingGrace: grace,
				BatchSize:    batch,
			})
			if err != nil {
				return err
			}
			out := gcOutput{GCResult: result}
			if !dryRun {
				out.PurgedSessions, err = eng.store.PurgeSessions(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
			}

			if *jsonOutput {
				return writeJSON(out)
			}
			if dryRun {
				return writePlain("dry run: %d orphaned objects queued, %d inline blobs unreferenced (%s)\n",
					result.CandidateCount, result.Blobs.Deleted, humanize.IBytes(uint64(result.Blobs.ReclaimedBytes)))
			}
			return writePlain("removed %d of %d orphaned objects (%d failed, %d skipped)\nremoved %d inline blobs (%s)\npurged %d sessions\n",
				result.DeletedCount, result.CandidateCount, result.FailedCount, result.SkippedCount,
				result.Blobs.Deleted, humanize.IBytes(uint64(result.Blobs.ReclaimedBytes)),
				out.PurgedSessions,
			)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be reclaimed without deleting")
	cmd.Flags().DurationVar(&grace, "grace", 0, "age after which unfinished uploads are abandoned (default from gc_grace)")
	cmd.Flags().IntVar(&batch, "batch", 0, "maximum orphan records handled in one run")

	return cmd
}
