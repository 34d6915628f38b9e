package tasks

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"meetingflow/internal/entities"
	"meetingflow/internal/meeting"
	"meetingflow/internal/textutil"
)

var (
	assignPattern   = regexp.MustCompile(`\b(?:[Aa]ssign(?:ed)?\s+to|[Oo]wner:)\s*(\p{L}[\p{L}'-]*(?:\s+\p{Lu}[\p{L}'-]*)?)`)
	mentionPattern  = regexp.MustCompile(`(?:^|\s)@([\p{L}][\p{L}\p{N}._-]*)`)
	duePattern      = regexp.MustCompile(`(?i)\b(?:due(?:\s+(?:on|by))?|by)\s+(` + duePhrase + `)\b`)
	priorityPattern = regexp.MustCompile(`(?i)\b(critical|high|medium|low)\s+priority\b|\bpriority:?\s*(critical|high|medium|low)\b`)
	separatorRun    = regexp.MustCompile(`\s*[,;]\s*(?:[,;]\s*)+`)
	spaceRun        = regexp.MustCompile(`\s{2,}`)
)

// categoryKeywords is checked in order; the first category with a keyword
// present wins. Single words match as word prefixes.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryTechnical, []string{"bug", "fix", "deploy", "code", "api", "database", "server", "integrat", "migrat", "infrastructure", "test", "refactor", "build", "release", "login", "endpoint", "script"}},
	{CategoryDocumentation, []string{"document", "docs", "readme", "wiki", "write up", "runbook", "notes"}},
	{CategoryResearch, []string{"research", "investigat", "explore", "evaluat", "analy", "compare", "look into", "benchmark"}},
	{CategoryBusiness, []string{"contract", "pricing", "proposal", "client", "customer", "sales", "budget", "invoice", "deal", "quote", "revenue"}},
	{CategoryProcess, []string{"process", "schedule", "meeting", "onboard", "hire", "hiring", "workflow", "follow up", "retro", "agenda"}},
}

// Config holds the configured urgency keyword lists.
type Config struct {
	CriticalKeywords []string
	HighKeywords     []string
	LowKeywords      []string
}

// Extractor converts task mentions into task records.
type Extractor struct {
	cfg Config
	now func() time.Time
}

// NewExtractor constructs an Extractor. now may be nil.
func NewExtractor(cfg Config, now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	lower := func(values []string) []string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	return &Extractor{
		cfg: Config{
			CriticalKeywords: lower(cfg.CriticalKeywords),
			HighKeywords:     lower(cfg.HighKeywords),
			LowKeywords:      lower(cfg.LowKeywords),
		},
		now: now,
	}
}

// Extract parses mentions into tasks at status new. Each people map takes
// normalized person names to entity IDs; they are consulted in order and the
// first one that identifies the assignee links it.
func (e *Extractor) Extract(mentions []meeting.TaskMention, rec meeting.Recording, people ...map[string]string) []Task {
	ref := rec.RecordedAt
	if ref.IsZero() {
		ref = rec.DiscoveredAt
	}
	created := e.now().UTC()
	if ref.IsZero() {
		ref = created
	}

	out := make([]Task, 0, len(mentions))
	lastSpeaker := ""
	for _, mention := range mentions {
		text := strings.TrimSpace(mention.Text)
		if text == "" {
			continue
		}
		if speaker := strings.TrimSpace(mention.Speaker); speaker != "" {
			lastSpeaker = speaker
		}
		fields := parseInline(text)

		task := Task{
			ID:                NewID(rec.Fingerprint, len(out)),
			Status:            StatusNew,
			SourceFingerprint: rec.Fingerprint,
			Ordinal:           len(out),
			SourceText:        text,
			RaisedBy:          lastSpeaker,
			CreatedAt:         created,
			UpdatedAt:         created,
		}
		task.Title = fields.title
		if task.Title == "" {
			task.Title = text
		}

		meta := mention.Metadata
		task.Assignee = firstNonEmpty(meta["assignee"], fields.assignee, lastSpeaker)

		if p, ok := ParsePriority(meta["priority"]); ok {
			task.Priority = p
		} else if p, ok := ParsePriority(fields.priority); ok {
			task.Priority = p
		} else {
			task.Priority = e.keywordPriority(text)
		}

		if c, ok := ParseCategory(meta["category"]); ok {
			task.Category = c
		} else {
			task.Category = keywordCategory(task.Title)
		}

		for _, phrase := range []string{meta["due"], fields.due} {
			if phrase == "" {
				continue
			}
			if due, ok := ResolveDue(phrase, ref); ok {
				task.Due = &due
				break
			}
		}

		for _, tier := range people {
			if id := lookupPerson(tier, task.Assignee); id != "" {
				task.AssigneeEntityID = id
				break
			}
		}
		out = append(out, task)
	}
	return out
}

type inlineFields struct {
	title    string
	assignee string
	due      string
	priority string
}

// parseInline pulls metadata tokens out of the mention text. The title is
// what remains once the matched clauses are removed.
func parseInline(text string) inlineFields {
	var (
		fields inlineFields
		spans  [][2]int
	)
	if m := assignPattern.FindStringSubmatchIndex(text); m != nil {
		fields.assignee = text[m[2]:m[3]]
		spans = append(spans, [2]int{m[0], m[1]})
	} else if m := mentionPattern.FindStringSubmatchIndex(text); m != nil {
		fields.assignee = text[m[2]:m[3]]
		spans = append(spans, [2]int{m[0], m[1]})
	}
	if m := duePattern.FindStringSubmatchIndex(text); m != nil {
		fields.due = text[m[2]:m[3]]
		spans = append(spans, [2]int{m[0], m[1]})
	}
	if m := priorityPattern.FindStringSubmatchIndex(text); m != nil {
		if m[2] >= 0 {
			fields.priority = text[m[2]:m[3]]
		} else {
			fields.priority = text[m[4]:m[5]]
		}
		spans = append(spans, [2]int{m[0], m[1]})
	}
	fields.title = cleanTitle(removeSpans(text, spans))
	return fields
}

func removeSpans(text string, spans [][2]int) string {
	if len(spans) == 0 {
		return text
	}
	slices.SortFunc(spans, func(a, b [2]int) int { return a[0] - b[0] })
	var b strings.Builder
	pos := 0
	for _, span := range spans {
		if span[0] < pos {
			span[0] = pos
		}
		if span[0] > pos {
			b.WriteString(text[pos:span[0]])
		}
		b.WriteByte(' ')
		pos = max(pos, span[1])
	}
	b.WriteString(text[pos:])
	return b.String()
}

func cleanTitle(title string) string {
	title = separatorRun.ReplaceAllString(title, ", ")
	title = spaceRun.ReplaceAllString(title, " ")
	title = strings.Trim(title, " \t,;:-–—.")
	return strings.TrimSpace(title)
}

func (e *Extractor) keywordPriority(text string) Priority {
	normalized := " " + textutil.NormalizeText(text) + " "
	for _, level := range []struct {
		priority Priority
		keywords []string
	}{
		{PriorityCritical, e.cfg.CriticalKeywords},
		{PriorityHigh, e.cfg.HighKeywords},
		{PriorityLow, e.cfg.LowKeywords},
	} {
		for _, keyword := range level.keywords {
			if strings.Contains(normalized, " "+textutil.NormalizeText(keyword)+" ") {
				return level.priority
			}
		}
	}
	return PriorityMedium
}

func keywordCategory(title string) Category {
	normalized := " " + textutil.NormalizeText(title) + " "
	for _, group := range categoryKeywords {
		for _, keyword := range group.keywords {
			if strings.Contains(normalized, " "+keyword) {
				return group.category
			}
		}
	}
	return CategoryGeneral
}

// lookupPerson finds the entity ID for an assignee by exact normalized name,
// then by a unique first-name match.
func lookupPerson(people map[string]string, name string) string {
	if name == "" || len(people) == 0 {
		return ""
	}
	normalized := entities.Normalize(name)
	if id, ok := people[normalized]; ok {
		return id
	}
	if strings.Contains(normalized, " ") {
		return ""
	}
	keys := make([]string, 0, len(people))
	for key := range people {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	found := ""
	for _, key := range keys {
		if first, _, _ := strings.Cut(key, " "); first == normalized {
			if found != "" {
				return ""
			}
			found = people[key]
		}
	}
	return found
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
