package notes

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meetingflow/internal/entities"
	"meetingflow/internal/meeting"
	"meetingflow/internal/tasks"
)

func sampleMeeting(fp string) Meeting {
	due := time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC)
	recorded := time.Date(2025, 6, 20, 14, 0, 0, 0, time.UTC)
	return Meeting{
		Recording: meeting.Recording{Path: "/in/weekly sync.m4a", Fingerprint: fp, RecordedAt: recorded},
		Transcript: meeting.Transcript{
			Duration:   125,
			Utterances: []meeting.Utterance{{Start: 1, End: 3, Text: "Bob will fix the login bug.", Speaker: "Alice"}},
		},
		Analysis: meeting.AnalysisResult{
			Summary:   "Weekly sync.",
			Decisions: []string{"Ship on Friday"},
			Speakers:  []string{"Alice", "Bob"},
			Topics:    []string{"release"},
			Narrative: []meeting.NarrativeEntry{{Speaker: "Alice", Text: "Asked Bob to fix the bug."}},
		},
		Tasks: []tasks.Task{{
			ID:       tasks.NewID(fp, 0),
			Title:    "Fix login bug",
			Status:   tasks.StatusNew,
			Priority: tasks.PriorityMedium,
			Category: tasks.CategoryTechnical,
			Assignee: "Bob",
			Due:      &due,
		}},
		Entities: []EntityRef{{
			Record: entities.Record{
				ID:            entities.NewID(entities.TypeCompany, "acme corp"),
				Type:          entities.TypeCompany,
				CanonicalName: "Acme Corp",
				Relationship:  entities.RelationClient,
				FirstSeen:     recorded,
				LastSeen:      recorded,
			},
			Context: "Acme Corp is  our client",
		}},
	}
}

func TestRenderWritesLinkedNotes(t *testing.T) {
	root := t.TempDir()
	vault := NewVault(root)

	out, err := vault.Render(sampleMeeting("fp-1"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if filepath.Base(out.Meeting) != "2025-06-20 weekly sync.md" {
		t.Fatalf("meeting note = %q", out.Meeting)
	}
	data, err := os.ReadFile(out.Meeting)
	if err != nil {
		t.Fatal(err)
	}
	var fm meetingFrontmatter
	body, err := ParseFrontmatter(data, &fm)
	if err != nil {
		t.Fatalf("ParseFrontmatter: %v", err)
	}
	if fm.Fingerprint != "fp-1" || fm.Duration != "00:02:05" || len(fm.Tasks) != 1 {
		t.Fatalf("unexpected frontmatter %+v", fm)
	}
	if !strings.Contains(body, "## Action Items") || !strings.Contains(body, "@Bob, due 2025-06-27, medium") {
		t.Fatalf("action items missing from body:\n%s", body)
	}
	if !strings.Contains(body, "[00:00:01] Alice: Bob will fix the login bug.") {
		t.Fatalf("transcript missing from body:\n%s", body)
	}

	if len(out.Tasks) != 1 {
		t.Fatalf("tasks rendered = %d", len(out.Tasks))
	}
	taskData, _ := os.ReadFile(out.Tasks[0])
	var tfm taskFrontmatter
	if _, err := ParseFrontmatter(taskData, &tfm); err != nil {
		t.Fatal(err)
	}
	if tfm.Status != "new" || tfm.Due != "2025-06-27" || tfm.Meeting != "[[2025-06-20 weekly sync]]" {
		t.Fatalf("unexpected task frontmatter %+v", tfm)
	}
	if !strings.Contains(out.Entities[0], filepath.Join("Entities", "Companies", "Acme Corp.md")) {
		t.Fatalf("entity note path = %q", out.Entities[0])
	}
}

func TestRenderAccumulatesEntityMentions(t *testing.T) {
	root := t.TempDir()
	vault := NewVault(root)

	first := sampleMeeting("fp-1")
	if _, err := vault.Render(first); err != nil {
		t.Fatal(err)
	}
	if _, err := vault.Render(first); err != nil {
		t.Fatal(err)
	}
	second := sampleMeeting("fp-2")
	second.Recording.Path = "/in/renewal call.m4a"
	out, err := vault.Render(second)
	if err != nil {
		t.Fatal(err)
	}

	mentions, err := existingMentions(out.Entities[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 2 {
		t.Fatalf("mentions = %q", mentions)
	}
	if mentions[0] != "- [[2025-06-20 weekly sync]]: Acme Corp is our client" {
		t.Fatalf("first mention = %q", mentions[0])
	}
}

func TestRenderRequiresVault(t *testing.T) {
	if _, err := NewVault("").Render(sampleMeeting("fp")); err == nil {
		t.Fatal("expected error without vault dir")
	}
}
