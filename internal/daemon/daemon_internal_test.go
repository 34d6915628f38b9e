package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetingflow/internal/meeting"
	"meetingflow/internal/pipeline"
	"meetingflow/internal/state"
	"meetingflow/internal/testsupport"
)

type recordingProcessor struct {
	seen chan meeting.Recording
}

func (p *recordingProcessor) Process(_ context.Context, rec meeting.Recording) (pipeline.Outcome, error) {
	p.seen <- rec
	return pipeline.Outcome{Fingerprint: rec.Fingerprint, Status: pipeline.StatusCompleted}, nil
}

func TestRetryBackoff(t *testing.T) {
	base := 10 * time.Second
	cases := map[int]time.Duration{
		0:  base,
		1:  base,
		2:  20 * time.Second,
		3:  40 * time.Second,
		20: maxRetryBackoff,
	}
	for retries, want := range cases {
		if got := retryBackoff(base, retries); got != want {
			t.Fatalf("retryBackoff(%d) = %s, want %s", retries, got, want)
		}
	}
}

func TestResubmitFailedSkipsExhaustedAndMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.MaxStageRetries = 3
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	tracker := state.NewTracker(st, cfg.HeartbeatTimeout(), state.WithClock(func() time.Time { return past }))

	present := testsupport.WriteRecording(t, cfg, "present.m4a", 16)
	testsupport.Discover(t, tracker, present, "retryable")
	testsupport.Discover(t, tracker, filepath.Join(cfg.Paths.InputDir, "gone.m4a"), "missing")
	testsupport.Discover(t, tracker, present, "permanent")

	if _, err := tracker.MarkFailed(ctx, "retryable", state.StageSegmented, errors.New("boom"), false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := tracker.MarkFailed(ctx, "missing", state.StageSegmented, errors.New("boom"), false); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if _, err := tracker.MarkFailed(ctx, "permanent", state.StageSegmented, errors.New("bad media"), true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	proc := &recordingProcessor{seen: make(chan meeting.Recording, 4)}
	d, err := New(cfg, st, proc, Options{Tracker: tracker})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n := d.resubmitFailed(ctx, time.Second); n != 1 {
		t.Fatalf("expected 1 resubmission, got %d", n)
	}
	select {
	case rec := <-proc.seen:
		if rec.Fingerprint != "retryable" {
			t.Fatalf("unexpected resubmission %q", rec.Fingerprint)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("processor was not invoked")
	}
	d.jobs.Wait()
}

func TestStartRemovesOrphanedWorkDirs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	st := testsupport.MustOpenStore(t, cfg)
	tracker := state.NewTracker(st, cfg.HeartbeatTimeout())
	testsupport.Discover(t, tracker, filepath.Join(cfg.Paths.InputDir, "kept.m4a"), "kept")

	for _, name := range []string{"kept", "orphan"} {
		dir := filepath.Join(cfg.Paths.WorkDir, name)
		testsupport.WriteFile(t, filepath.Join(dir, "segments.json"), 8)
		testsupport.Age(t, 2*orphanGrace, dir)
	}

	d, err := New(cfg, st, &recordingProcessor{seen: make(chan meeting.Recording, 1)}, Options{Tracker: tracker})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, "kept")); err != nil {
		t.Fatalf("known work dir removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, "orphan")); !os.IsNotExist(err) {
		t.Fatal("expected orphaned work dir to be removed")
	}
}
