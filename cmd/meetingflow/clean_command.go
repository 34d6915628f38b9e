package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/logging"
	"meetingflow/internal/staging"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var archivedAge time.Duration
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove work directories the ledger no longer needs",
		Long: "Removes work directories that match no tracked recording. With " +
			"--archived-older-than it also removes the artifacts of recordings archived before that age.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				all, err := st.ListStates(cmd.Context(), state.Filter{})
				if err != nil {
					return err
				}
				known := make(map[string]struct{}, len(all))
				archived := make(map[string]time.Time)
				for _, rec := range all {
					known[rec.Fingerprint] = struct{}{}
					if rec.LastCompleted == state.StageArchived {
						archived[rec.Fingerprint] = rec.UpdatedAt
					}
				}

				logger := logging.NewNop()
				now := time.Now()
				results := []staging.Result{
					staging.CleanOrphaned(cmd.Context(), cfg.Paths.WorkDir, known, now, dryRun, logger),
				}
				if archivedAge > 0 {
					results = append(results, staging.CleanArchived(cmd.Context(), cfg.Paths.WorkDir, archived, now.Add(-archivedAge), dryRun, logger))
				}

				out := cmd.OutOrStdout()
				verb := "Removed"
				if dryRun {
					verb = "Would remove"
				}
				var removed int
				var freed int64
				var failures int
				for _, res := range results {
					for _, path := range res.Removed {
						fmt.Fprintf(out, "%s %s\n", verb, path)
					}
					for _, ce := range res.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %v\n", ce.Path, ce.Error)
					}
					removed += len(res.Removed)
					freed += res.Freed
					failures += len(res.Errors)
				}
				fmt.Fprintf(out, "%s %d director(ies), %s\n", verb, removed, humanize.IBytes(uint64(freed)))
				if failures > 0 {
					return fmt.Errorf("%d director(ies) could not be removed", failures)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&archivedAge, "archived-older-than", 0, "Also remove artifacts of recordings archived longer ago than this (e.g. 720h)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be removed")
	return cmd
}
