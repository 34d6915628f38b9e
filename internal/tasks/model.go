package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a task lifecycle state.
type Status string

// Task statuses.
const (
	StatusNew        Status = "new"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

var statuses = []Status{StatusNew, StatusReady, StatusInProgress, StatusInReview, StatusBlocked, StatusDone, StatusCancelled}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return append([]Status(nil), statuses...)
}

// ParseStatus converts a label into a Status. Hyphens and spaces are
// accepted in place of underscores.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if normalized == "canceled" {
		normalized = string(StatusCancelled)
	}
	for _, s := range statuses {
		if string(s) == normalized {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Priority ranks urgency.
type Priority string

// Priorities, most urgent first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority converts a label into a Priority. Common synonyms such as
// "urgent" and "minor" are accepted.
func ParsePriority(value string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical", "urgent", "blocker", "p0":
		return PriorityCritical, true
	case "high", "important", "p1":
		return PriorityHigh, true
	case "medium", "normal", "p2":
		return PriorityMedium, true
	case "low", "minor", "p3":
		return PriorityLow, true
	default:
		return "", false
	}
}

// Category groups tasks by kind of work.
type Category string

// Categories.
const (
	CategoryTechnical     Category = "technical"
	CategoryBusiness      Category = "business"
	CategoryProcess       Category = "process"
	CategoryDocumentation Category = "documentation"
	CategoryResearch      Category = "research"
	CategoryGeneral       Category = "general"
)

// ParseCategory converts a label into a Category.
func ParseCategory(value string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(value))); c {
	case CategoryTechnical, CategoryBusiness, CategoryProcess, CategoryDocumentation, CategoryResearch, CategoryGeneral:
		return c, true
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin", "administrative", "communication", "meeting":
		return CategoryProcess, true
	case "docs":
		return CategoryDocumentation, true
	}
	return "", false
}

// Task is one extracted action item.
type Task struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Status            Status     `json:"status"`
	Priority          Priority   `json:"priority"`
	Category          Category   `json:"category"`
	Assignee          string     `json:"assignee,omitempty"`
	AssigneeEntityID  string     `json:"assignee_entity_id,omitempty"`
	Due               *time.Time `json:"due_date,omitempty"`
	SourceFingerprint string     `json:"source_fingerprint"`
	Ordinal           int        `json:"ordinal"`
	SourceText        string     `json:"source_text,omitempty"`
	RaisedBy          string     `json:"raised_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DueDate formats the due date as YYYY-MM-DD, or "" when unset.
func (t Task) DueDate() string {
	if t.Due == nil {
		return ""
	}
	return t.Due.Format(time.DateOnly)
}

var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("meetingflow:task"))

// NewID returns the deterministic task identifier for a recording and
// ordinal, so re-extraction yields the same IDs.
func NewID(fingerprint string, ordinal int) string {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s#%d", fingerprint, ordinal))).String()
}
