package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/deps"
	"meetingflow/internal/store"
)

type healthReport struct {
	Checks       []deps.Status `json:"checks"`
	Database     string        `json:"database"`
	DatabaseOK   bool          `json:"database_ok"`
	Capabilities string        `json:"capabilities,omitempty"`
	Healthy      bool          `json:"healthy"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check external binaries, disk space, credentials and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				report := collectHealth(cmd, cfg, st)
				if jsonOutput {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
				} else {
					renderHealth(cmd, report)
				}
				if !report.Healthy {
					return errors.New("health check failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func collectHealth(cmd *cobra.Command, cfg *config.Config, st *store.Store) healthReport {
	checks := deps.CheckBinaries(deps.MediaRequirements(cfg.FFmpegBinary(), cfg.FFprobeBinary()))
	// Segments of one recording are materialized together in the work dir.
	checks = append(checks,
		deps.CheckDisk("Work dir", cfg.Paths.WorkDir, 4*cfg.MaxPayloadBytes()),
		deps.CheckDisk("Processed dir", cfg.Paths.ProcessedDir, 0),
	)
	report := healthReport{Checks: checks, Database: st.Path()}
	report.DatabaseOK = st.CheckHealth(cmd.Context()) == nil
	if err := cfg.RequireCapabilities(); err != nil {
		report.Capabilities = err.Error()
	}
	report.Healthy = report.DatabaseOK && report.Capabilities == "" && len(deps.Missing(checks)) == 0
	return report
}

func renderHealth(cmd *cobra.Command, report healthReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range dependencyLines(report.Checks, colorize) {
		fmt.Fprintln(out, line)
	}
	if report.DatabaseOK {
		fmt.Fprintln(out, renderStatusLine("Database", statusOK, report.Database, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Database", statusError, report.Database, colorize))
	}
	if report.Capabilities == "" {
		fmt.Fprintln(out, renderStatusLine("Credentials", statusOK, "configured", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Credentials", statusError, report.Capabilities, colorize))
	}
}
