package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetingflow/internal/config"
)

// WriteFile creates path with size bytes, creating parent directories.
// Content repeats the file's base name so distinct names hash differently.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	pattern := []byte(filepath.Base(path))
	data := bytes.Repeat(pattern, int(size)/len(pattern)+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteRecording places a fake recording named name in the input directory
// and returns its path.
func WriteRecording(t testing.TB, cfg *config.Config, name string, size int64) string {
	t.Helper()
	path := filepath.Join(cfg.Paths.InputDir, name)
	WriteFile(t, path, size)
	return path
}

// Age backdates the modification time of every path by d.
func Age(t testing.TB, d time.Duration, paths ...string) {
	t.Helper()
	when := time.Now().Add(-d)
	for _, path := range paths {
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}
