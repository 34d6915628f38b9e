package tasks

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// duePhrase matches the relative and absolute due-date forms ResolveDue
// understands.
const duePhrase = `\d{4}-\d{2}-\d{2}|today|tomorrow|end\s+of\s+(?:the\s+)?(?:week|month)|eow|eom|next\s+week|(?:next\s+|this\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)|in\s+\d+\s+(?:days?|weeks?)`

var (
	inDaysPattern = regexp.MustCompile(`^in\s+(\d+)\s+(days?|weeks?)$`)
	weekdays      = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
		"saturday": time.Saturday,
	}
)

// ResolveDue resolves a due-date phrase against the recording date. A
// weekday name means the next such weekday strictly after ref.
func ResolveDue(phrase string, ref time.Time) (time.Time, bool) {
	p := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(phrase))), " ")
	p = strings.TrimPrefix(p, "on ")
	day := truncateDay(ref)

	if t, err := time.ParseInLocation(time.DateOnly, p, ref.Location()); err == nil {
		return t, true
	}
	switch p {
	case "today":
		return day, true
	case "tomorrow":
		return day.AddDate(0, 0, 1), true
	case "next week":
		return day.AddDate(0, 0, daysUntil(day.Weekday(), time.Monday, false)), true
	case "end of week", "end of the week", "eow":
		return day.AddDate(0, 0, daysUntil(day.Weekday(), time.Friday, true)), true
	case "end of month", "end of the month", "eom":
		return time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location()), true
	}
	name := strings.TrimPrefix(strings.TrimPrefix(p, "next "), "this ")
	if wd, ok := weekdays[name]; ok {
		return day.AddDate(0, 0, daysUntil(day.Weekday(), wd, false)), true
	}
	if m := inDaysPattern.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return day.AddDate(0, 0, n), true
	}
	return time.Time{}, false
}

// daysUntil counts days from one weekday to the next occurrence of target.
// With sameDay a zero distance is allowed; otherwise it becomes a week.
func daysUntil(from, target time.Weekday, sameDay bool) int {
	days := (int(target) - int(from) + 7) % 7
	if days == 0 && !sameDay {
		days = 7
	}
	return days
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
