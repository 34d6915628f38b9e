package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/state"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [fingerprint...]",
		Short: "Reset failed recordings so the next run resumes them",
		Long: "Clears the failure marker and retry counts. With no arguments every " +
			"failed recording is reset. A running daemon picks them up on its next retry pass.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(func(_ *config.Config, tracker *state.Tracker) error {
				n, err := tracker.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case n == 0 && len(args) > 0:
					fmt.Fprintln(out, "No matching failed recordings")
				case n == 0:
					fmt.Fprintln(out, "No failed recordings")
				default:
					fmt.Fprintf(out, "Reset %d recording(s)\n", n)
				}
				return nil
			})
		},
	}
}

func newResetStuckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Clear claims whose heartbeat has gone stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(func(cfg *config.Config, tracker *state.Tracker) error {
				n, err := tracker.ResetStale(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d stale claim(s) older than %s\n", n, cfg.HeartbeatTimeout())
				return nil
			})
		},
	}
}
