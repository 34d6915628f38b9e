package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <fingerprint>",
		Short: "Show one recording's processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				rec, err := resolveRecording(cmd, st, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, rec)
				}
				renderRecording(cmd, cfg, rec)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

// resolveRecording accepts a full fingerprint or an unambiguous prefix as
// printed by the status table.
func resolveRecording(cmd *cobra.Command, st *store.Store, ref string) (*state.ProcessingState, error) {
	rec, err := st.LoadState(cmd.Context(), ref)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	all, err := st.ListStates(cmd.Context(), state.Filter{})
	if err != nil {
		return nil, err
	}
	var matches []state.ProcessingState
	for _, candidate := range all {
		if len(ref) >= 4 && len(candidate.Fingerprint) >= len(ref) && candidate.Fingerprint[:len(ref)] == ref {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("recording %s not found", ref)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("fingerprint prefix %s is ambiguous (%d matches)", ref, len(matches))
	}
}

func renderRecording(cmd *cobra.Command, cfg *config.Config, rec *state.ProcessingState) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Fingerprint", rec.Fingerprint},
		{"Path", rec.Path},
		{"Stage", string(rec.Stage)},
		{"Last completed", orDash(string(rec.LastCompleted))},
		{"Next stage", orDash(string(rec.NextStage()))},
		{"Discovered", rec.DiscoveredAt.Local().Format("2006-01-02 15:04:05")},
		{"Updated", ago(rec.UpdatedAt)},
		{"Resume index", strconv.Itoa(rec.ResumeIndex)},
	}
	if rec.Stage == state.StageFailed {
		rows = append(rows,
			[]string{"Failed stage", string(rec.FailedStage)},
			[]string{"Error kind", orDash(rec.ErrorKind)},
			[]string{"Error", rec.LastError},
			[]string{"Permanent", yesNo(rec.Permanent)},
			[]string{"Needs attention", yesNo(rec.RetriesExhausted(cfg.Pipeline.MaxStageRetries))},
		)
	}
	if rec.ClaimOwner != "" {
		rows = append(rows, []string{"Claimed by", rec.ClaimOwner})
		if rec.ClaimHeartbeat != nil {
			rows = append(rows, []string{"Heartbeat", ago(*rec.ClaimHeartbeat)})
		}
	}
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))

	if len(rec.Artifacts) > 0 || len(rec.Retries) > 0 {
		var stageRows [][]string
		for _, stage := range state.Stages() {
			artifact, hasArtifact := rec.Artifacts[stage]
			retries, hasRetries := rec.Retries[stage]
			if !hasArtifact && !hasRetries {
				continue
			}
			stageRows = append(stageRows, []string{string(stage), orDash(artifact), strconv.Itoa(retries)})
		}
		fmt.Fprint(out, renderTable([]string{"Stage", "Artifact", "Retries"}, stageRows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	}
}

