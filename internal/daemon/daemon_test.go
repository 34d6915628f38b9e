package daemon_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meetingflow/internal/daemon"
	"meetingflow/internal/meeting"
	"meetingflow/internal/pipeline"
	"meetingflow/internal/testsupport"
)

type blockingProcessor struct {
	calls   atomic.Int32
	release chan struct{}
	once    sync.Once
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (p *blockingProcessor) Process(ctx context.Context, rec meeting.Recording) (pipeline.Outcome, error) {
	p.calls.Add(1)
	select {
	case <-p.release:
	case <-ctx.Done():
		return pipeline.Outcome{Fingerprint: rec.Fingerprint, Status: pipeline.StatusInterrupted}, ctx.Err()
	}
	return pipeline.Outcome{Fingerprint: rec.Fingerprint, Status: pipeline.StatusCompleted}, nil
}

func (p *blockingProcessor) unblock() {
	p.once.Do(func() { close(p.release) })
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, st, newBlockingProcessor(), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if !status.WatcherRunning {
		t.Fatal("expected watcher to be running")
	}
	if status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected database path %q", status.DatabasePath)
	}
	if d.Address() == "" {
		t.Fatal("expected api address")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if status.WatcherRunning {
		t.Fatal("expected watcher to be stopped")
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := daemon.New(cfg, st, newBlockingProcessor(), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(first.Stop)

	second, err := daemon.New(cfg, st, newBlockingProcessor(), daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock contention to fail the second start")
	}
}

func TestDaemonSubmitDeduplicatesInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	st := testsupport.MustOpenStore(t, cfg)
	proc := newBlockingProcessor()
	d, err := daemon.New(cfg, st, proc, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx := context.Background()
	if d.Submit(meeting.Recording{Fingerprint: "fp"}) {
		t.Fatal("submit before start should be refused")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	rec := meeting.Recording{Path: filepath.Join(cfg.Paths.InputDir, "a.m4a"), Fingerprint: "fp"}
	if !d.Submit(rec) {
		t.Fatal("expected first submit to start a run")
	}
	if d.Submit(rec) {
		t.Fatal("expected duplicate submit to be refused while in flight")
	}
	if got := d.Status(ctx).InFlight; len(got) != 1 || got[0] != "fp" {
		t.Fatalf("unexpected in-flight list %v", got)
	}

	proc.unblock()
	deadline := time.Now().Add(2 * time.Second)
	for d.Status(ctx).Completed != 1 {
		if time.Now().After(deadline) {
			t.Fatal("run did not complete")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !d.Submit(rec) {
		t.Fatal("expected resubmit after completion")
	}
	if proc.calls.Load() < 2 {
		deadline = time.Now().Add(2 * time.Second)
		for proc.calls.Load() < 2 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if proc.calls.Load() != 2 {
		t.Fatalf("expected 2 process calls, got %d", proc.calls.Load())
	}
}

func TestDaemonStopWaitsForInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""
	st := testsupport.MustOpenStore(t, cfg)
	proc := newBlockingProcessor()
	d, err := daemon.New(cfg, st, proc, daemon.Options{})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.Submit(meeting.Recording{Fingerprint: "fp"})

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the run")
	}
	if n := len(d.Status(context.Background()).InFlight); n != 0 {
		t.Fatalf("expected no in-flight runs after stop, got %d", n)
	}
}
