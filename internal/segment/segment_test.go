package segment_test

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"meetingflow/internal/media/ffprobe"
	"meetingflow/internal/segment"
	"meetingflow/internal/services"
)

const mb = 1024 * 1024

var defaultLimits = segment.Limits{
	MaxPayloadBytes:   25 * mb,
	OverlapSeconds:    2,
	MaxSegmentSeconds: 600,
}

func TestPlanWithinLimitYieldsSingleSegment(t *testing.T) {
	// 40 minutes at 64 kbps is ~19 MB, inside the 25 MB limit.
	for _, duration := range []float64{1, 59.5, 2400} {
		segments, err := segment.Plan(duration, 64000, defaultLimits)
		if err != nil {
			t.Fatalf("Plan(%v): %v", duration, err)
		}
		if len(segments) != 1 {
			t.Fatalf("Plan(%v) produced %d segments, want 1", duration, len(segments))
		}
		seg := segments[0]
		if seg.Index != 0 || seg.Start != 0 || seg.End != duration || seg.OverlapBefore != 0 {
			t.Fatalf("unexpected single segment %+v", seg)
		}
		if seg.EstimatedBytes > defaultLimits.MaxPayloadBytes {
			t.Fatalf("estimate %d exceeds limit", seg.EstimatedBytes)
		}
	}
}

func TestPlanSplitsLongRecordingDenselyWithOverlap(t *testing.T) {
	// 2 hours at 64 kbps is ~57 MB.
	duration := 7200.0
	segments, err := segment.Plan(duration, 64000, defaultLimits)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segments))
	}
	for i, seg := range segments {
		if seg.Index != i {
			t.Fatalf("segment %d has index %d", i, seg.Index)
		}
		if seg.EstimatedBytes > defaultLimits.MaxPayloadBytes {
			t.Fatalf("segment %d estimate %d exceeds limit", i, seg.EstimatedBytes)
		}
		if seg.Duration() > defaultLimits.MaxSegmentSeconds {
			t.Fatalf("segment %d lasts %v, above the max segment duration", i, seg.Duration())
		}
		if i == 0 {
			if seg.Start != 0 || seg.OverlapBefore != 0 {
				t.Fatalf("first segment must start at 0 without overlap: %+v", seg)
			}
			continue
		}
		prev := segments[i-1]
		if seg.OverlapBefore != 2 {
			t.Fatalf("segment %d overlap = %v, want 2", i, seg.OverlapBefore)
		}
		if math.Abs((prev.End-seg.Start)-seg.OverlapBefore) > 1e-9 {
			t.Fatalf("segment %d does not share exactly the overlap window with %d", i, i-1)
		}
	}
	if last := segments[len(segments)-1]; last.End != duration {
		t.Fatalf("last segment ends at %v, want %v", last.End, duration)
	}
}

func TestPlanPayloadBoundsWindowWhenSmallerThanMaxDuration(t *testing.T) {
	limits := segment.Limits{MaxPayloadBytes: 80000, OverlapSeconds: 1, MaxSegmentSeconds: 600}
	// 8000 bytes/s -> 10 s windows.
	segments, err := segment.Plan(25, 64000, limits)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := [][2]float64{{0, 10}, {9, 19}, {18, 25}}
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, w := range want {
		if segments[i].Start != w[0] || segments[i].End != w[1] {
			t.Fatalf("segment %d = [%v,%v], want %v", i, segments[i].Start, segments[i].End, w)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	a, _ := segment.Plan(5000, 64000, defaultLimits)
	b, _ := segment.Plan(5000, 64000, defaultLimits)
	if len(a) != len(b) {
		t.Fatal("plans differ in length")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("segment %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestPlanRejectsImpossibleConstraints(t *testing.T) {
	tests := []struct {
		name    string
		bitrate int64
		limits  segment.Limits
	}{
		{"one second exceeds payload", 64000, segment.Limits{MaxPayloadBytes: 4000}},
		{"overlap not shorter than window", 64000, segment.Limits{MaxPayloadBytes: 80000, OverlapSeconds: 10}},
		{"zero bitrate", 0, defaultLimits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := segment.Plan(3600, tt.bitrate, tt.limits)
			if !errors.Is(err, services.ErrSegmentation) {
				t.Fatalf("expected segmentation error, got %v", err)
			}
			if !services.IsPermanent(err) {
				t.Fatal("segmentation errors must be permanent")
			}
		})
	}
}

func TestMaterializeWritesSegmentsIntoScopedDir(t *testing.T) {
	var calls [][]string
	runner := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		dest := args[len(args)-1]
		return nil, os.WriteFile(dest, []byte("audio"), 0o644)
	}
	seg := segment.New(segment.Config{Limits: defaultLimits, BitrateKbps: 64, WorkDir: t.TempDir()}, segment.WithCommandRunner(runner))
	segments, _ := segment.Plan(25, 64000, segment.Limits{MaxPayloadBytes: 80000, OverlapSeconds: 1})

	ws, err := seg.Materialize(context.Background(), "/in/meeting.mp4", segments)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(ws.Segments) != 3 || len(calls) != 3 {
		t.Fatalf("expected 3 segments and calls, got %d/%d", len(ws.Segments), len(calls))
	}
	if !strings.Contains(strings.Join(calls[1], " "), "-ss 9.000 -t 10.000") {
		t.Fatalf("unexpected ffmpeg args %v", calls[1])
	}
	for _, s := range ws.Segments {
		if _, err := os.Stat(s.Path); err != nil {
			t.Fatalf("segment payload missing: %v", err)
		}
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace removed, stat err=%v", err)
	}
}

func TestMaterializeRemovesDirOnFailureAndCancellation(t *testing.T) {
	workDir := t.TempDir()
	segments, _ := segment.Plan(25, 64000, segment.Limits{MaxPayloadBytes: 80000, OverlapSeconds: 1})

	t.Run("ffmpeg failure", func(t *testing.T) {
		count := 0
		runner := func(_ context.Context, _ string, args ...string) ([]byte, error) {
			count++
			if count == 2 {
				return []byte("bad input"), errors.New("exit status 1")
			}
			return nil, os.WriteFile(args[len(args)-1], []byte("audio"), 0o644)
		}
		seg := segment.New(segment.Config{BitrateKbps: 64, WorkDir: workDir}, segment.WithCommandRunner(runner))
		if _, err := seg.Materialize(context.Background(), "in.mp4", segments); !errors.Is(err, services.ErrExternalTool) {
			t.Fatalf("expected external tool error, got %v", err)
		}
		assertEmpty(t, workDir)
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		runner := func(_ context.Context, _ string, args ...string) ([]byte, error) {
			cancel()
			return nil, os.WriteFile(args[len(args)-1], []byte("audio"), 0o644)
		}
		seg := segment.New(segment.Config{BitrateKbps: 64, WorkDir: workDir}, segment.WithCommandRunner(runner))
		if _, err := seg.Materialize(ctx, "in.mp4", segments); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
		assertEmpty(t, workDir)
	})

	t.Run("space check", func(t *testing.T) {
		seg := segment.New(segment.Config{BitrateKbps: 64, WorkDir: workDir},
			segment.WithSpaceCheck(func(string, int64) error { return errors.New("disk full") }))
		if _, err := seg.Materialize(context.Background(), "in.mp4", segments); err == nil {
			t.Fatal("expected space check failure")
		}
		assertEmpty(t, workDir)
	})
}

func TestProbeMapsMissingAudioToSegmentationError(t *testing.T) {
	seg := segment.New(segment.Config{}, segment.WithProbe(func(context.Context, string, string) (ffprobe.Summary, error) {
		return ffprobe.Summary{}, ffprobe.ErrNoAudio
	}))
	if _, err := seg.Probe(context.Background(), "x.mp4"); !errors.Is(err, services.ErrSegmentation) {
		t.Fatalf("expected segmentation error, got %v", err)
	}
}

func assertEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}
