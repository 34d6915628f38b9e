// Package notes renders processed meetings into Markdown notes with YAML
// frontmatter for a linked-note vault. Rendering is a collaborator: nothing
// in the pipeline reads the notes back.
package notes

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"meetingflow/internal/entities"
	"meetingflow/internal/fileutil"
	"meetingflow/internal/language"
	"meetingflow/internal/meeting"
	"meetingflow/internal/tasks"
	"meetingflow/internal/textutil"
)

// Vault subdirectories.
const (
	meetingsDir = "Meetings"
	tasksDir    = "Tasks"
	entitiesDir = "Entities"
)

const mentionsHeading = "## Mentions"

// Meeting is everything needed to render one recording.
type Meeting struct {
	Recording  meeting.Recording
	Title      string
	Transcript meeting.Transcript
	Analysis   meeting.AnalysisResult
	Tasks      []tasks.Task
	// Entities are the resolved registry records mentioned in the meeting,
	// keyed by ID, with the context snippet seen in this meeting.
	Entities []EntityRef
}

// EntityRef pairs a registry record with this meeting's context.
type EntityRef struct {
	Record  entities.Record
	Context string
}

// Rendered lists the files written for one meeting.
type Rendered struct {
	Meeting  string   `json:"meeting"`
	Tasks    []string `json:"tasks,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// Renderer writes meeting notes.
type Renderer interface {
	Render(m Meeting) (Rendered, error)
}

// Vault renders notes under a root directory.
type Vault struct {
	root string
}

// NewVault returns a Vault rooted at dir.
func NewVault(dir string) *Vault {
	return &Vault{root: dir}
}

type meetingFrontmatter struct {
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title"`
	Date        string   `yaml:"date"`
	Fingerprint string   `yaml:"fingerprint"`
	Source      string   `yaml:"source"`
	Duration    string   `yaml:"duration"`
	Language    string   `yaml:"language,omitempty"`
	Speakers    []string `yaml:"speakers,omitempty"`
	Topics      []string `yaml:"topics,omitempty"`
	Tasks       []string `yaml:"tasks,omitempty"`
	Entities    []string `yaml:"entities,omitempty"`
}

type taskFrontmatter struct {
	Type     string `yaml:"type"`
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Status   string `yaml:"status"`
	Priority string `yaml:"priority"`
	Category string `yaml:"category"`
	Assignee string `yaml:"assignee,omitempty"`
	Due      string `yaml:"due,omitempty"`
	Meeting  string `yaml:"meeting"`
	Created  string `yaml:"created"`
}

type entityFrontmatter struct {
	Type         string   `yaml:"type"`
	Kind         string   `yaml:"kind"`
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Aliases      []string `yaml:"aliases,omitempty"`
	Relationship string   `yaml:"relationship"`
	Confidence   string   `yaml:"confidence"`
	FirstSeen    string   `yaml:"first_seen"`
	LastSeen     string   `yaml:"last_seen"`
}

// Render writes the meeting note, one note per task and one per entity.
// Entity notes accumulate one mention line per meeting.
func (v *Vault) Render(m Meeting) (Rendered, error) {
	if strings.TrimSpace(v.root) == "" {
		return Rendered{}, errors.New("vault directory not configured")
	}
	date := meetingDate(m.Recording)
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(m.Recording.Path), filepath.Ext(m.Recording.Path))
	}
	noteName := textutil.SanitizeFileName(fmt.Sprintf("%s %s", date.Format(time.DateOnly), title))
	if noteName == "" {
		noteName = m.Recording.Fingerprint
	}

	var out Rendered
	taskLinks := make([]string, 0, len(m.Tasks))
	for _, task := range m.Tasks {
		name := taskNoteName(task)
		path := filepath.Join(v.root, tasksDir, name+".md")
		if err := writeNote(path, taskFrontmatter{
			Type:     "task",
			ID:       task.ID,
			Title:    task.Title,
			Status:   string(task.Status),
			Priority: string(task.Priority),
			Category: string(task.Category),
			Assignee: task.Assignee,
			Due:      task.DueDate(),
			Meeting:  link(noteName),
			Created:  task.CreatedAt.UTC().Format(time.RFC3339),
		}, taskBody(task, noteName)); err != nil {
			return out, err
		}
		out.Tasks = append(out.Tasks, path)
		taskLinks = append(taskLinks, link(name))
	}

	entityLinks := make([]string, 0, len(m.Entities))
	for _, ref := range m.Entities {
		path, err := v.renderEntity(ref, noteName)
		if err != nil {
			return out, err
		}
		out.Entities = append(out.Entities, path)
		entityLinks = append(entityLinks, link(entityNoteName(ref.Record)))
	}

	path := filepath.Join(v.root, meetingsDir, noteName+".md")
	fm := meetingFrontmatter{
		Type:        "meeting",
		Title:       title,
		Date:        date.Format(time.DateOnly),
		Fingerprint: m.Recording.Fingerprint,
		Source:      filepath.Base(m.Recording.Path),
		Duration:    meeting.Timestamp(m.Transcript.Duration),
		Language:    language.DisplayName(m.Transcript.Language),
		Speakers:    m.Analysis.Speakers,
		Topics:      m.Analysis.Topics,
		Tasks:       taskLinks,
		Entities:    entityLinks,
	}
	if err := writeNote(path, fm, meetingBody(m, taskLinks, entityLinks)); err != nil {
		return out, err
	}
	out.Meeting = path
	return out, nil
}

func meetingDate(rec meeting.Recording) time.Time {
	switch {
	case !rec.RecordedAt.IsZero():
		return rec.RecordedAt
	case !rec.DiscoveredAt.IsZero():
		return rec.DiscoveredAt
	default:
		return time.Now()
	}
}

func link(name string) string {
	return "[[" + name + "]]"
}

func taskNoteName(task tasks.Task) string {
	short := task.ID
	if len(short) > 8 {
		short = short[:8]
	}
	name := textutil.SanitizeFileName(task.Title)
	if name == "" {
		return "task-" + short
	}
	return name + " (" + short + ")"
}

func entityNoteName(rec entities.Record) string {
	name := textutil.SanitizeFileName(rec.CanonicalName)
	if name == "" {
		return rec.ID
	}
	return name
}

func entityFolder(t entities.Type) string {
	switch t {
	case entities.TypePerson:
		return "People"
	case entities.TypeCompany:
		return "Companies"
	case entities.TypeTechnology:
		return "Technologies"
	default:
		return "Other"
	}
}

func meetingBody(m Meeting, taskLinks, entityLinks []string) string {
	var b strings.Builder
	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(m.Analysis.Summary))
	b.WriteString("\n")

	if len(m.Analysis.Decisions) > 0 {
		b.WriteString("\n## Decisions\n\n")
		for _, d := range m.Analysis.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(m.Tasks) > 0 {
		b.WriteString("\n## Action Items\n\n")
		for i, task := range m.Tasks {
			fmt.Fprintf(&b, "- [ ] %s", taskLinks[i])
			var details []string
			if task.Assignee != "" {
				details = append(details, "@"+task.Assignee)
			}
			if due := task.DueDate(); due != "" {
				details = append(details, "due "+due)
			}
			details = append(details, string(task.Priority))
			fmt.Fprintf(&b, " (%s)\n", strings.Join(details, ", "))
		}
	}
	if len(entityLinks) > 0 {
		b.WriteString("\n## Entities\n\n")
		for i, ref := range m.Entities {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", entityLinks[i], ref.Record.Type, ref.Record.Relationship)
		}
	}
	if len(m.Analysis.Narrative) > 0 {
		b.WriteString("\n## Narrative\n\n")
		for _, entry := range m.Analysis.Narrative {
			if entry.Speaker != "" {
				fmt.Fprintf(&b, "**%s:** %s\n\n", entry.Speaker, entry.Text)
			} else {
				fmt.Fprintf(&b, "%s\n\n", entry.Text)
			}
		}
	}
	if len(m.Transcript.Utterances) > 0 {
		b.WriteString("\n## Transcript\n\n")
		b.WriteString(m.Transcript.Render())
	}
	return b.String()
}

func taskBody(task tasks.Task, meetingNote string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Title)
	if task.SourceText != "" && task.SourceText != task.Title {
		fmt.Fprintf(&b, "> %s\n\n", task.SourceText)
	}
	fmt.Fprintf(&b, "Raised in %s", link(meetingNote))
	if task.RaisedBy != "" {
		fmt.Fprintf(&b, " by %s", task.RaisedBy)
	}
	b.WriteString(".\n")
	return b.String()
}

func (v *Vault) renderEntity(ref EntityRef, meetingNote string) (string, error) {
	rec := ref.Record
	path := filepath.Join(v.root, entitiesDir, entityFolder(rec.Type), entityNoteName(rec)+".md")

	mentions, err := existingMentions(path)
	if err != nil {
		return "", err
	}
	line := "- " + link(meetingNote)
	if snippet := strings.Join(strings.Fields(ref.Context), " "); snippet != "" {
		line += ": " + snippet
	}
	present := false
	for _, existing := range mentions {
		if strings.HasPrefix(existing, "- "+link(meetingNote)) {
			present = true
			break
		}
	}
	if !present {
		mentions = append(mentions, line)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n%s\n\n", rec.CanonicalName, mentionsHeading)
	for _, m := range mentions {
		body.WriteString(m)
		body.WriteByte('\n')
	}
	fm := entityFrontmatter{
		Type:         "entity",
		Kind:         string(rec.Type),
		ID:           rec.ID,
		Name:         rec.CanonicalName,
		Aliases:      rec.Aliases,
		Relationship: rec.Relationship,
		Confidence:   rec.RelationshipConfidence.String(),
		FirstSeen:    rec.FirstSeen.UTC().Format(time.DateOnly),
		LastSeen:     rec.LastSeen.UTC().Format(time.DateOnly),
	}
	if err := writeNote(path, fm, body.String()); err != nil {
		return "", err
	}
	return path, nil
}

// existingMentions reads the mention lines of an entity note, if present.
func existingMentions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read entity note: %w", err)
	}
	var (
		lines []string
		in    bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == mentionsHeading:
			in = true
		case in && strings.HasPrefix(line, "## "):
			in = false
		case in && strings.HasPrefix(line, "- "):
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func writeNote(path string, frontmatter any, body string) error {
	fm, err := yaml.Marshal(frontmatter)
	if err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(body)
	if err := fileutil.WriteFileAtomic(path, b.Bytes()); err != nil {
		return fmt.Errorf("write note %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ParseFrontmatter decodes the YAML frontmatter of a rendered note into out
// and returns the body.
func ParseFrontmatter(data []byte, out any) (string, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return text, errors.New("note has no frontmatter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return text, errors.New("unterminated frontmatter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), out); err != nil {
		return "", fmt.Errorf("decode frontmatter: %w", err)
	}
	return strings.TrimLeft(rest[end+len("\n---\n"):], "\n"), nil
}
