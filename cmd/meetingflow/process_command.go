package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"meetingflow/internal/config"
	"meetingflow/internal/logging"
	"meetingflow/internal/pipeline"
	"meetingflow/internal/store"
	"meetingflow/internal/watcher"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Process one recording to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				path, err := config.ExpandPath(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				rec, err := watcher.RecordingFor(path, cfg.Pipeline.FingerprintMode)
				if err != nil {
					return fmt.Errorf("inspect recording: %w", err)
				}

				logger, err := logging.NewFromConfig(cfg)
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}

				out := cmd.OutOrStdout()
				bar := newSegmentProgress(out, !jsonOutput)
				coordinator, err := pipeline.NewFromConfig(cfg, st, pipeline.BuildOptions{
					Logger:   logger,
					Progress: bar.update,
				})
				if err != nil {
					return err
				}

				runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				outcome, procErr := coordinator.Process(runCtx, rec)
				bar.finish()

				if jsonOutput {
					if err := writeJSON(cmd, outcome); err != nil {
						return err
					}
					return procErr
				}
				printOutcome(out, outcome)
				return procErr
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the outcome as JSON")
	return cmd
}

func printOutcome(out io.Writer, o pipeline.Outcome) {
	fmt.Fprintf(out, "Recording:   %s\n", o.Path)
	fmt.Fprintf(out, "Fingerprint: %s\n", o.Fingerprint)
	fmt.Fprintf(out, "Status:      %s\n", o.Status)
	fmt.Fprintf(out, "Stage:       %s\n", orDash(string(o.LastCompleted)))
	if len(o.Ran) > 0 {
		names := make([]string, len(o.Ran))
		for i, s := range o.Ran {
			names[i] = string(s)
		}
		fmt.Fprintf(out, "Ran:         %s\n", strings.Join(names, ", "))
	}
	if o.ArchivedPath != "" {
		fmt.Fprintf(out, "Archived to: %s\n", o.ArchivedPath)
	}
	if o.Status == pipeline.StatusCompleted {
		fmt.Fprintf(out, "Tasks:       %d\n", o.Tasks)
		fmt.Fprintf(out, "Entities:    %d\n", o.Entities)
	}
	fmt.Fprintf(out, "Elapsed:     %s\n", o.Elapsed.Round(time.Second))
}

// segmentProgress draws a bar for transcription progress when stdout is a
// terminal. The segment total is only known once the first segment lands.
type segmentProgress struct {
	out     io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

func newSegmentProgress(out io.Writer, wanted bool) *segmentProgress {
	enabled := false
	if file, ok := out.(*os.File); ok && wanted {
		enabled = isTerminal(file)
	}
	return &segmentProgress{out: out, enabled: enabled}
}

func (p *segmentProgress) update(done, total int) {
	if !p.enabled || total <= 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("transcribing"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	p.bar.ChangeMax(total)
	_ = p.bar.Set(done)
}

func (p *segmentProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
