package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetingflow/internal/logging"
)

func makeWorkDir(t *testing.T, root, name string, size int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(dir, "segments"), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "transcript.json"), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return dir
}

func TestCleanInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanOrphaned(context.Background(), dir, nil, time.Now(), false, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanOrphanedKeepsKnownFingerprints(t *testing.T) {
	root := t.TempDir()
	known := makeWorkDir(t, root, "aaaa", 10)
	orphan := makeWorkDir(t, root, "bbbb", 32)
	hidden := makeWorkDir(t, root, ".tmp", 1)

	result := CleanOrphaned(context.Background(), root, map[string]struct{}{"aaaa": {}}, time.Now().Add(time.Minute), false, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != orphan {
		t.Fatalf("expected only %s removed, got %v", orphan, result.Removed)
	}
	if result.Freed != 32 {
		t.Fatalf("expected 32 bytes freed, got %d", result.Freed)
	}
	for _, dir := range []string{known, hidden} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("%s should still exist: %v", dir, err)
		}
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphaned directory should have been removed")
	}
}

func TestCleanArchivedHonorsCutoffAndDryRun(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	old := makeWorkDir(t, root, "old", 5)
	recent := makeWorkDir(t, root, "recent", 5)
	active := makeWorkDir(t, root, "active", 5)
	archived := map[string]time.Time{
		"old":    now.Add(-60 * 24 * time.Hour),
		"recent": now.Add(-time.Hour),
	}
	cutoff := now.Add(-30 * 24 * time.Hour)

	dry := CleanArchived(context.Background(), root, archived, cutoff, true, logging.NewNop())
	if len(dry.Removed) != 1 || dry.Removed[0] != old {
		t.Fatalf("dry run should report %s, got %v", old, dry.Removed)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatal("dry run must not delete anything")
	}

	result := CleanArchived(context.Background(), root, archived, cutoff, false, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("expected %s removed, got %v", old, result.Removed)
	}
	for _, dir := range []string{recent, active} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("%s should still exist: %v", dir, err)
		}
	}
}

func TestListDirectoriesReportsSize(t *testing.T) {
	root := t.TempDir()
	makeWorkDir(t, root, "fp", 100)
	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Name != "fp" || dirs[0].Size != 100 {
		t.Fatalf("unexpected listing %+v", dirs)
	}
}

func TestCleanOrphanedSkipsRecentDirectories(t *testing.T) {
	root := t.TempDir()
	fresh := makeWorkDir(t, root, "fresh", 1)
	result := CleanOrphaned(context.Background(), root, nil, time.Now().Add(-time.Hour), false, logging.NewNop())
	if len(result.Removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh directory should still exist: %v", err)
	}
}
