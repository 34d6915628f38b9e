package tasks

import (
	"slices"
	"time"
)

// Deadline urgency levels.
const (
	UrgencyOverdue = "overdue"
	UrgencyUrgent  = "urgent"
	UrgencySoon    = "soon"
	UrgencyNone    = "none"
)

// Stats aggregates a task list.
type Stats struct {
	Total        int              `json:"total"`
	Assigned     int              `json:"assigned"`
	Unassigned   int              `json:"unassigned"`
	ByPriority   map[Priority]int `json:"by_priority"`
	ByCategory   map[Category]int `json:"by_category"`
	ByStatus     map[Status]int   `json:"by_status"`
	WithDeadline int              `json:"with_deadline"`
	Assignees    []string         `json:"assignees"`
}

// Summarize computes Stats for tasks.
func Summarize(tasks []Task) Stats {
	stats := Stats{
		Total:      len(tasks),
		ByPriority: map[Priority]int{},
		ByCategory: map[Category]int{},
		ByStatus:   map[Status]int{},
		Assignees:  []string{},
	}
	seen := map[string]bool{}
	for _, t := range tasks {
		if t.Assignee != "" {
			stats.Assigned++
			if !seen[t.Assignee] {
				seen[t.Assignee] = true
				stats.Assignees = append(stats.Assignees, t.Assignee)
			}
		} else {
			stats.Unassigned++
		}
		stats.ByPriority[t.Priority]++
		stats.ByCategory[t.Category]++
		stats.ByStatus[t.Status]++
		if t.Due != nil {
			stats.WithDeadline++
		}
	}
	slices.Sort(stats.Assignees)
	return stats
}

// DeadlineUrgency classifies a due date relative to now: overdue when past,
// urgent within two days, soon within a week.
func DeadlineUrgency(due *time.Time, now time.Time) string {
	if due == nil {
		return UrgencyNone
	}
	today := truncateDay(now.In(due.Location()))
	days := int(truncateDay(*due).Sub(today).Hours() / 24)
	switch {
	case days < 0:
		return UrgencyOverdue
	case days <= 2:
		return UrgencyUrgent
	case days <= 7:
		return UrgencySoon
	default:
		return UrgencyNone
	}
}
