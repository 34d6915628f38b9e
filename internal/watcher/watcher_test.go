package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meetingflow/internal/fileutil"
	"meetingflow/internal/meeting"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestWatcher(t *testing.T, dir string, clock *fakeClock, got *[]meeting.Recording) *Watcher {
	t.Helper()
	return New(Config{
		Dir:           dir,
		Extensions:    []string{"m4a", ".WAV"},
		Stabilization: 30 * time.Second,
	}, func(_ context.Context, rec meeting.Recording) {
		*got = append(*got, rec)
	}, WithClock(clock.Now))
}

func TestScanWaitsForStableFiles(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)}
	var got []meeting.Recording
	w := newTestWatcher(t, dir, clock, &got)
	ctx := context.Background()

	path := filepath.Join(dir, "standup.m4a")
	writeFile(t, path, "partial")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.m4a"), "ignored")

	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("file submitted before stabilizing: %v", got)
	}

	clock.Advance(20 * time.Second)
	writeFile(t, path, "partial plus more audio")
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	clock.Advance(20 * time.Second)
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("a growing file must restart the stabilization window")
	}

	clock.Advance(15 * time.Second)
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one submission, got %d", len(got))
	}
	want, err := fileutil.Fingerprint(path, fileutil.ModeSHA256)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if got[0].Path != path || got[0].Fingerprint != want {
		t.Fatalf("unexpected recording %+v", got[0])
	}
	info, _ := os.Stat(path)
	if !got[0].RecordedAt.Equal(info.ModTime().UTC()) {
		t.Fatalf("recorded at %v, want mtime %v", got[0].RecordedAt, info.ModTime())
	}

	clock.Advance(time.Minute)
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 1 {
		t.Fatal("an unchanged file must not be resubmitted")
	}

	w.Forget(path)
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	clock.Advance(31 * time.Second)
	if _, err := w.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("forgotten file should be resubmitted once stable, got %d", len(got))
	}
}

func TestScanExtensionFilterAndSubdirectories(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Now()}
	var got []meeting.Recording
	w := New(Config{Dir: dir, Extensions: []string{"wav"}}, func(_ context.Context, rec meeting.Recording) {
		got = append(got, rec)
	}, WithClock(clock.Now))

	writeFile(t, filepath.Join(dir, "2025", "june", "Board.WAV"), "a")
	writeFile(t, filepath.Join(dir, "clip.mp3"), "b")

	submitted, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(submitted) != 1 || filepath.Base(submitted[0].Path) != "Board.WAV" {
		t.Fatalf("unexpected submissions %+v", submitted)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	w := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, nil)
	if _, err := w.Scan(context.Background()); err == nil {
		t.Fatal("expected an error for a missing input directory")
	}
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "call.m4a"), "audio")
	found := make(chan meeting.Recording, 1)
	w := New(Config{Dir: dir, ScanInterval: 10 * time.Millisecond, FingerprintMode: fileutil.ModeStat},
		func(_ context.Context, rec meeting.Recording) {
			select {
			case found <- rec:
			default:
			}
		})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	select {
	case rec := <-found:
		if rec.Fingerprint == "" {
			t.Fatal("missing fingerprint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not submit the recording")
	}
	w.Stop()
	if w.Running() {
		t.Fatal("watcher still running after Stop")
	}
}

func TestRecordingFor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.m4a")
	writeFile(t, path, "audio")
	rec, err := RecordingFor(path, fileutil.ModeSHA256)
	if err != nil {
		t.Fatalf("RecordingFor: %v", err)
	}
	if rec.Path != path || len(rec.Fingerprint) != 64 {
		t.Fatalf("unexpected recording %+v", rec)
	}
	if _, err := RecordingFor(filepath.Dir(path), ""); err == nil {
		t.Fatal("expected an error for a directory")
	}
}
