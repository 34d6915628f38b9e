package entities

import (
	"regexp"
	"strings"

	"meetingflow/internal/meeting"
)

// DetectTechnologies returns technology mentions for configured keywords that
// occur on word boundaries in the transcript but are absent from existing.
// The context of each added mention is the first utterance containing it.
func DetectTechnologies(transcript meeting.Transcript, keywords []string, existing []meeting.EntityMention) []meeting.EntityMention {
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		if t, ok := ParseType(m.TypeHint); ok && t == TypeTechnology {
			known[Normalize(m.Name)] = true
		}
	}
	var added []meeting.EntityMention
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		normalized := Normalize(keyword)
		if normalized == "" || known[normalized] {
			continue
		}
		pattern, err := regexp.Compile(`(?i)(?:^|[^\pL\pN])` + regexp.QuoteMeta(keyword) + `(?:$|[^\pL\pN])`)
		if err != nil {
			continue
		}
		for _, u := range transcript.Utterances {
			if pattern.MatchString(u.Text) {
				added = append(added, meeting.EntityMention{
					Name:     keyword,
					TypeHint: string(TypeTechnology),
					Context:  strings.TrimSpace(u.Text),
				})
				known[normalized] = true
				break
			}
		}
	}
	return added
}
