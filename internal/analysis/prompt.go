package analysis

import (
	"fmt"
	"strings"

	"meetingflow/internal/meeting"
)

// AnalysisPrompt is the system prompt for full and per-chunk analysis.
const AnalysisPrompt = `You analyze meeting transcripts and extract structured knowledge.

Each transcript line has the form "[hh:mm:ss] Speaker: text". Speaker labels may be missing.

Extract:
- summary: a concise overview of the purpose and outcome of the meeting
- decisions: every decision that was made, one sentence each
- tasks: every action item, with the speaker who raised it
- entities: people, companies and technologies that were mentioned by name
- narrative: the discussion as speaker-labeled paragraphs in meeting order
- topics: short topic labels
- speakers: the names of people who spoke, when identifiable

Task metadata may contain only these keys, and only when stated in the meeting:
assignee, due, priority (critical, high, medium or low), category.
Entity type must be one of: person, company, technology.
Do not invent content that is not in the transcript.

Respond ONLY with JSON of this exact shape:
{"summary": "", "decisions": [""], "tasks": [{"text": "", "speaker": "", "metadata": {"assignee": "", "due": ""}}], "entities": [{"name": "", "type": "person", "context": ""}], "narrative": [{"speaker": "", "text": ""}], "topics": [""], "speakers": [""]}`

// ReducePrompt is the system prompt for combining partial summaries.
const ReducePrompt = `You combine partial summaries of consecutive parts of one meeting into a single summary.

Keep every decision, commitment and open question. Drop repetition. Write in the same register as the parts.

Respond ONLY with JSON: {"summary": ""}`

type reducePayload struct {
	Summary string `json:"summary"`
}

func buildAnalysisPrompt(body string, hint meeting.OrgContext, part, parts int) string {
	var b strings.Builder
	if employer := strings.TrimSpace(hint.Employer); employer != "" {
		fmt.Fprintf(&b, "The recording was made by an employee of %s.\n", employer)
	}
	if len(hint.KnownDomains) > 0 {
		fmt.Fprintf(&b, "Email domains belonging to the employer: %s\n", strings.Join(hint.KnownDomains, ", "))
	}
	if parts > 1 {
		fmt.Fprintf(&b, "This is part %d of %d of the transcript. Analyze only this part.\n", part, parts)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(body)
	return b.String()
}

func buildReducePrompt(summaries []string) string {
	var b strings.Builder
	for i, summary := range summaries {
		fmt.Fprintf(&b, "Part %d:\n%s\n\n", i+1, strings.TrimSpace(summary))
	}
	return strings.TrimSpace(b.String())
}
