// Package meeting defines the value types that flow between pipeline stages:
// recordings, transcripts and analysis results.
package meeting

import (
	"fmt"
	"strings"
	"time"
)

// Recording identifies one source file by content fingerprint.
type Recording struct {
	Path         string    `json:"path"`
	Fingerprint  string    `json:"fingerprint"`
	DiscoveredAt time.Time `json:"discovered_at"`
	// RecordedAt anchors relative due dates; it defaults to the file mtime.
	RecordedAt time.Time `json:"recorded_at"`
}

// Utterance is one timestamped span of speech. Offsets are seconds from the
// start of the recording.
type Utterance struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the merged, ordered transcription of one recording.
type Transcript struct {
	Language   string      `json:"language,omitempty"`
	Duration   float64     `json:"duration"`
	Utterances []Utterance `json:"utterances"`
}

// Render formats the transcript one utterance per line as
// "[hh:mm:ss] Speaker: text".
func (t Transcript) Render() string {
	var b strings.Builder
	for _, u := range t.Utterances {
		b.WriteString(RenderUtterance(u))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderUtterance formats a single transcript line.
func RenderUtterance(u Utterance) string {
	speaker := strings.TrimSpace(u.Speaker)
	if speaker == "" {
		return fmt.Sprintf("[%s] %s", Timestamp(u.Start), strings.TrimSpace(u.Text))
	}
	return fmt.Sprintf("[%s] %s: %s", Timestamp(u.Start), speaker, strings.TrimSpace(u.Text))
}

// Timestamp formats seconds as hh:mm:ss.
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// TaskMention is an action item as phrased in the analysis. Metadata carries
// inline fields the model extracted (assignee, due, priority, category).
type TaskMention struct {
	Text     string            `json:"text"`
	Speaker  string            `json:"speaker,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EntityMention is a raw reference to a person, company or technology.
type EntityMention struct {
	Name     string `json:"name"`
	TypeHint string `json:"type"`
	Context  string `json:"context,omitempty"`
}

// NarrativeEntry is one speaker-labeled paragraph of the meeting narrative.
type NarrativeEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// AnalysisResult is the structured output of the analysis stage.
type AnalysisResult struct {
	Summary   string           `json:"summary"`
	Decisions []string         `json:"decisions"`
	Tasks     []TaskMention    `json:"tasks"`
	Entities  []EntityMention  `json:"entities"`
	Narrative []NarrativeEntry `json:"narrative"`
	Topics    []string         `json:"topics"`
	Speakers  []string         `json:"speakers"`
}

// OrgContext is the employer perspective used for analysis prompts and
// relationship classification.
type OrgContext struct {
	Employer     string   `json:"employer,omitempty"`
	KnownDomains []string `json:"known_domains,omitempty"`
}
