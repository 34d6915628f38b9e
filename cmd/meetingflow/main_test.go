package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetingflow/internal/entities"
	"meetingflow/internal/state"
	"meetingflow/internal/tasks"
	"meetingflow/internal/testsupport"
)

func TestStatusEmptyLedger(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, "No recordings tracked")
}

func TestStatusAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	testsupport.Discover(t, env.tracker, "/in/standup.m4a", "aaaabbbbccccdddd")
	testsupport.Discover(t, env.tracker, "/in/review.m4a", "eeeeffff00001111")
	if _, err := env.tracker.Advance(ctx, "aaaabbbbccccdddd", state.StageSegmented, "/work/segments.json"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if _, err := env.tracker.MarkFailed(ctx, "eeeeffff00001111", state.StageSegmented, errors.New("ffprobe exploded"), true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "standup.m4a")
	requireContains(t, out, "review.m4a")
	requireContains(t, out, "aaaabbbbcccc")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(report.Recordings) != 2 || report.Stages[state.StageFailed] != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	out, _, err = runCLI(t, []string{"show", "aaaabbbb"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "/in/standup.m4a")
	requireContains(t, out, "/work/segments.json")

	out, _, err = runCLI(t, []string{"show", "eeeeffff00001111"}, env.configPath)
	if err != nil {
		t.Fatalf("show failed recording: %v", err)
	}
	requireContains(t, out, "ffprobe exploded")
	requireContains(t, out, "Needs attention")

	if _, _, err := runCLI(t, []string{"show", "zzzz"}, env.configPath); err == nil {
		t.Fatal("expected unknown fingerprint to fail")
	}
}

func TestRetryAndResetStuck(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	testsupport.Discover(t, env.tracker, "/in/a.m4a", "fp-a")
	if _, err := env.tracker.MarkFailed(ctx, "fp-a", state.StageSegmented, errors.New("boom"), true); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	out, _, err := runCLI(t, []string{"retry"}, env.configPath)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Reset 1 recording(s)")
	st, err := env.tracker.Get(ctx, "fp-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Stage == state.StageFailed || st.Permanent {
		t.Fatalf("expected failure to be cleared, got %+v", st)
	}

	out, _, err = runCLI(t, []string{"retry", "fp-a"}, env.configPath)
	if err != nil {
		t.Fatalf("retry again: %v", err)
	}
	requireContains(t, out, "No matching failed recordings")

	out, _, err = runCLI(t, []string{"reset-stuck"}, env.configPath)
	if err != nil {
		t.Fatalf("reset-stuck: %v", err)
	}
	requireContains(t, out, "Cleared 0 stale claim(s)")
}

func TestTasksListAndSetStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)
	due := time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC)
	task := tasks.Task{
		ID:                tasks.NewID("fp", 0),
		Title:             "Send the proposal",
		Status:            tasks.StatusNew,
		Priority:          tasks.PriorityHigh,
		Category:          tasks.CategoryBusiness,
		Assignee:          "Bob Smith",
		Due:               &due,
		SourceFingerprint: "fp",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := env.store.InsertTasks(ctx, []tasks.Task{task}); err != nil {
		t.Fatalf("InsertTasks: %v", err)
	}

	out, _, err := runCLI(t, []string{"tasks", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "Send the proposal")
	requireContains(t, out, "2025-06-27")
	requireContains(t, out, shortID(task.ID))

	out, _, err = runCLI(t, []string{"tasks", "set-status", shortID(task.ID), "ready"}, env.configPath)
	if err != nil {
		t.Fatalf("set-status: %v", err)
	}
	requireContains(t, out, "is now ready")
	requireContains(t, out, "in_progress")

	if _, _, err := runCLI(t, []string{"tasks", "set-status", task.ID, "done"}, env.configPath); err == nil {
		t.Fatal("expected illegal transition to fail")
	}
	if _, _, err := runCLI(t, []string{"tasks", "list", "--status", "sideways"}, env.configPath); err == nil {
		t.Fatal("expected unknown status filter to fail")
	}

	out, _, err = runCLI(t, []string{"tasks", "list", "--status", "new"}, env.configPath)
	if err != nil {
		t.Fatalf("tasks list --status new: %v", err)
	}
	requireContains(t, out, "No tasks")
}

func TestEntitiesListAndOverride(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	rec := entities.Record{
		ID:             entities.NewID(entities.TypeTechnology, "kubernetes"),
		Type:           entities.TypeTechnology,
		CanonicalName:  "Kubernetes",
		NormalizedName: "kubernetes",
		Relationship:   entities.StatusMentioned,
		FirstSeen:      now,
		LastSeen:       now,
	}
	if err := env.store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, _, err := runCLI(t, []string{"entities", "list", "--type", "technology"}, env.configPath)
	if err != nil {
		t.Fatalf("entities list: %v", err)
	}
	requireContains(t, out, "Kubernetes")
	requireContains(t, out, "mentioned")

	out, _, err = runCLI(t, []string{"entities", "override", shortID(rec.ID), "in_use"}, env.configPath)
	if err != nil {
		t.Fatalf("entities override: %v", err)
	}
	requireContains(t, out, "Kubernetes (technology) is now in_use")

	got, err := env.store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.RelationshipPinned || got.Relationship != entities.StatusInUse {
		t.Fatalf("override not persisted: %+v", got)
	}

	if _, _, err := runCLI(t, []string{"entities", "override", rec.ID, "client"}, env.configPath); err == nil {
		t.Fatal("expected a relationship value to be rejected for a technology")
	}
}

func TestHealthReportsBinaries(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, _ := runCLI(t, []string{"health", "--json"}, env.configPath)
	var report healthReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode health: %v\n%s", err, out)
	}
	if !report.DatabaseOK {
		t.Fatal("expected database to be healthy")
	}
	if report.Capabilities != "" {
		t.Fatalf("expected credentials to be configured, got %q", report.Capabilities)
	}
	found := map[string]bool{}
	for _, check := range report.Checks {
		found[check.Name] = check.Available
	}
	if !found["FFmpeg"] || !found["FFprobe"] {
		t.Fatalf("expected stubbed binaries to be found: %+v", report.Checks)
	}
}

func TestProcessRejectsMissingFile(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"process", "/does/not/exist.m4a"}, env.configPath); err == nil {
		t.Fatal("expected process to fail for a missing file")
	}
}

func TestCleanRemovesOrphanedWorkDirs(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.Discover(t, env.tracker, "/in/a.m4a", "kept")
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.WorkDir, "kept", "segments.json"), 4)
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.WorkDir, "orphan", "segments.json"), 4)

	out, _, err := runCLI(t, []string{"clean", "--dry-run"}, env.configPath)
	if err != nil {
		t.Fatalf("clean --dry-run: %v", err)
	}
	requireContains(t, out, "Would remove 1 director(ies)")
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.WorkDir, "orphan")); err != nil {
		t.Fatal("dry run removed the directory")
	}

	out, _, err = runCLI(t, []string{"clean"}, env.configPath)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	requireContains(t, out, "Removed 1 director(ies)")
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.WorkDir, "orphan")); !os.IsNotExist(err) {
		t.Fatal("expected orphan to be removed")
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.WorkDir, "kept")); err != nil {
		t.Fatal("known work dir removed")
	}
}
