package analysis

import (
	"strings"

	"meetingflow/internal/meeting"
	"meetingflow/internal/textutil"
)

// ChunkTranscript splits the rendered transcript at utterance boundaries into
// chunks of at most limit characters. An utterance longer than limit forms a
// chunk of its own.
func ChunkTranscript(t meeting.Transcript, limit int) []string {
	if limit <= 0 {
		return []string{t.Render()}
	}
	var (
		chunks  []string
		current strings.Builder
	)
	for _, u := range t.Utterances {
		line := meeting.RenderUtterance(u) + "\n"
		if current.Len() > 0 && current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// combine concatenates the list fields of partial results in chunk order,
// dropping entries whose normalized text was already seen. The summary is
// left empty for the reduction step.
func combine(parts []meeting.AnalysisResult) meeting.AnalysisResult {
	var (
		out       meeting.AnalysisResult
		decisions = newSeen()
		tasks     = newSeen()
		entities  = newSeen()
		narrative = newSeen()
		topics    = newSeen()
		speakers  = newSeen()
	)
	out.Decisions = []string{}
	out.Tasks = []meeting.TaskMention{}
	out.Entities = []meeting.EntityMention{}
	out.Narrative = []meeting.NarrativeEntry{}
	out.Topics = []string{}
	out.Speakers = []string{}

	for _, part := range parts {
		for _, d := range part.Decisions {
			if decisions.add(d) {
				out.Decisions = append(out.Decisions, d)
			}
		}
		for _, task := range part.Tasks {
			if tasks.add(task.Text) {
				out.Tasks = append(out.Tasks, task)
			}
		}
		for _, entity := range part.Entities {
			if entities.add(entity.TypeHint + " " + entity.Name) {
				out.Entities = append(out.Entities, entity)
			}
		}
		for _, entry := range part.Narrative {
			if narrative.add(entry.Speaker + " " + entry.Text) {
				out.Narrative = append(out.Narrative, entry)
			}
		}
		for _, topic := range part.Topics {
			if topics.add(topic) {
				out.Topics = append(out.Topics, topic)
			}
		}
		for _, speaker := range part.Speakers {
			if speakers.add(speaker) {
				out.Speakers = append(out.Speakers, speaker)
			}
		}
	}
	return out
}

type seen map[string]struct{}

func newSeen() seen { return seen{} }

func (s seen) add(text string) bool {
	key := textutil.NormalizeText(text)
	if key == "" {
		return false
	}
	if _, ok := s[key]; ok {
		return false
	}
	s[key] = struct{}{}
	return true
}

// groupSummaries packs consecutive summaries into groups whose reduce prompt
// stays within limit. Every group holds at least one summary.
func groupSummaries(summaries []string, limit int) [][]string {
	var (
		groups  [][]string
		current []string
	)
	for _, summary := range summaries {
		candidate := append(append([]string(nil), current...), summary)
		if len(current) > 0 && len(buildReducePrompt(candidate)) > limit {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, summary)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

func transcriptSpeakers(t meeting.Transcript) []string {
	set := newSeen()
	var out []string
	for _, u := range t.Utterances {
		if speaker := strings.TrimSpace(u.Speaker); speaker != "" && set.add(speaker) {
			out = append(out, speaker)
		}
	}
	return out
}
