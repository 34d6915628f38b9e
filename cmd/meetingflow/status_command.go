package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/daemonrun"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
)

type statusReport struct {
	DaemonRunning bool                    `json:"daemon_running"`
	DaemonPID     int                     `json:"daemon_pid,omitempty"`
	DatabasePath  string                  `json:"database_path"`
	Stages        map[state.Stage]int     `json:"stages"`
	Recordings    []state.ProcessingState `json:"recordings"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var stages []string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the processing ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := state.Filter{Limit: limit}
			for _, value := range stages {
				stage, ok := state.ParseStage(value)
				if !ok {
					return fmt.Errorf("unknown stage %q", value)
				}
				filter.Stages = append(filter.Stages, stage)
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				counts, err := st.StageCounts(cmd.Context())
				if err != nil {
					return err
				}
				list, err := st.ListStates(cmd.Context(), filter)
				if err != nil {
					return err
				}
				report := statusReport{
					DaemonRunning: daemonRunning(cfg),
					DatabasePath:  st.Path(),
					Stages:        counts,
					Recordings:    list,
				}
				if report.DaemonRunning {
					report.DaemonPID = daemonrun.ReadPID(cfg)
				}
				if report.Recordings == nil {
					report.Recordings = []state.ProcessingState{}
				}
				if jsonOutput {
					return writeJSON(cmd, report)
				}
				renderStatus(cmd, cfg, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Only show recordings at these stages")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum recordings to list (0 for all)")
	return cmd
}

func renderStatus(cmd *cobra.Command, cfg *config.Config, report statusReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	if report.DaemonRunning {
		message := "running"
		if report.DaemonPID > 0 {
			message = fmt.Sprintf("running (pid %d)", report.DaemonPID)
		}
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, message, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, report.DatabasePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Input", statusInfo, cfg.Paths.InputDir, colorize))
	fmt.Fprintln(out)

	var countRows [][]string
	for _, stage := range append(state.Stages(), state.StageFailed) {
		if n := report.Stages[stage]; n > 0 {
			countRows = append(countRows, []string{string(stage), strconv.Itoa(n)})
		}
	}
	if len(countRows) == 0 {
		fmt.Fprintln(out, "No recordings tracked")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Stage", "Count"}, countRows, []columnAlignment{alignLeft, alignRight}))

	rows := make([][]string, 0, len(report.Recordings))
	for _, st := range report.Recordings {
		rows = append(rows, []string{
			shortFingerprint(st.Fingerprint),
			filepath.Base(st.Path),
			string(st.Stage),
			orDash(string(st.LastCompleted)),
			orDash(string(st.FailedStage)),
			ago(st.UpdatedAt),
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Fingerprint", "File", "Stage", "Completed", "Failed", "Updated"},
		rows,
		nil,
	))
}

// daemonRunning probes the daemon lock without holding it.
func daemonRunning(cfg *config.Config) bool {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
		return false
	}
	return true
}
