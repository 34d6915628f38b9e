package deps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"meetingflow/internal/services"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestCheckBinariesPathLookup(t *testing.T) {
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, "ffprobe"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	results := CheckBinaries(MediaRequirements("ffmpeg", "ffprobe"))
	if results[0].Available {
		t.Fatalf("ffmpeg should be missing from PATH")
	}
	if !results[1].Available || results[1].Command != filepath.Join(binDir, "ffprobe") {
		t.Fatalf("ffprobe should resolve from PATH, got %#v", results[1])
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if _, err := FreeBytes(dir); err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if err := CheckFreeSpace(dir, 1); err != nil {
		t.Fatalf("expected small request to fit, got %v", err)
	}
	err := CheckFreeSpace(dir, 1<<62)
	if err == nil {
		t.Fatal("expected huge request to fail")
	}
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := CheckFreeSpace(filepath.Join(dir, "missing"), 1); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool for missing dir, got %v", err)
	}
}

func TestCheckDisk(t *testing.T) {
	status := CheckDisk("Work dir", t.TempDir(), 1)
	if !status.Available || status.Detail == "" {
		t.Fatalf("unexpected status %#v", status)
	}
	if status := CheckDisk("Work dir", t.TempDir(), 1<<62); status.Available {
		t.Fatalf("expected insufficient space, got %#v", status)
	}
}
