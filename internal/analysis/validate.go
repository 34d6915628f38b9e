package analysis

import (
	"errors"
	"fmt"
	"strings"

	"meetingflow/internal/meeting"
	"meetingflow/internal/services/llm"
)

// Entity type hints accepted from the model.
const (
	TypePerson     = "person"
	TypeCompany    = "company"
	TypeTechnology = "technology"
)

var (
	allowedMetadata = map[string]bool{"assignee": true, "due": true, "priority": true, "category": true}
	allowedPriority = map[string]bool{"critical": true, "high": true, "medium": true, "low": true}
	allowedTypes    = map[string]bool{TypePerson: true, TypeCompany: true, TypeTechnology: true}
)

// MalformedPayloadError reports a response that failed strict decoding or
// validation. It is retried within the attempt budget.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return "malformed analysis payload: " + e.Err.Error()
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// DecodeResult strictly decodes and validates an analysis payload. String
// fields are trimmed, enum values lowercased and nil lists replaced with
// empty ones.
func DecodeResult(content string) (meeting.AnalysisResult, error) {
	var result meeting.AnalysisResult
	if err := llm.DecodeStrict(content, &result); err != nil {
		return meeting.AnalysisResult{}, &MalformedPayloadError{Err: err}
	}
	if err := normalizeResult(&result); err != nil {
		return meeting.AnalysisResult{}, &MalformedPayloadError{Err: err}
	}
	return result, nil
}

func decodeSummary(content string) (string, error) {
	var payload reducePayload
	if err := llm.DecodeStrict(content, &payload); err != nil {
		return "", &MalformedPayloadError{Err: err}
	}
	summary := strings.TrimSpace(payload.Summary)
	if summary == "" {
		return "", &MalformedPayloadError{Err: errors.New("summary is empty")}
	}
	return summary, nil
}

func normalizeResult(r *meeting.AnalysisResult) error {
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Summary == "" {
		return errors.New("summary is required")
	}

	r.Decisions = trimStrings(r.Decisions)
	r.Topics = trimStrings(r.Topics)
	r.Speakers = trimStrings(r.Speakers)

	tasks := make([]meeting.TaskMention, 0, len(r.Tasks))
	for i, task := range r.Tasks {
		task.Text = strings.TrimSpace(task.Text)
		task.Speaker = strings.TrimSpace(task.Speaker)
		if task.Text == "" {
			return fmt.Errorf("tasks[%d]: text is required", i)
		}
		metadata := make(map[string]string, len(task.Metadata))
		for key, value := range task.Metadata {
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.TrimSpace(value)
			if !allowedMetadata[key] {
				return fmt.Errorf("tasks[%d]: unknown metadata key %q", i, key)
			}
			if value == "" {
				continue
			}
			if key == "priority" {
				value = strings.ToLower(value)
				if !allowedPriority[value] {
					return fmt.Errorf("tasks[%d]: invalid priority %q", i, value)
				}
			}
			metadata[key] = value
		}
		if len(metadata) == 0 {
			metadata = nil
		}
		task.Metadata = metadata
		tasks = append(tasks, task)
	}
	r.Tasks = tasks

	entities := make([]meeting.EntityMention, 0, len(r.Entities))
	for i, entity := range r.Entities {
		entity.Name = strings.TrimSpace(entity.Name)
		entity.TypeHint = strings.ToLower(strings.TrimSpace(entity.TypeHint))
		entity.Context = strings.TrimSpace(entity.Context)
		if entity.Name == "" {
			return fmt.Errorf("entities[%d]: name is required", i)
		}
		if !allowedTypes[entity.TypeHint] {
			return fmt.Errorf("entities[%d]: invalid type %q", i, entity.TypeHint)
		}
		entities = append(entities, entity)
	}
	r.Entities = entities

	narrative := make([]meeting.NarrativeEntry, 0, len(r.Narrative))
	for _, entry := range r.Narrative {
		entry.Speaker = strings.TrimSpace(entry.Speaker)
		entry.Text = strings.TrimSpace(entry.Text)
		if entry.Text == "" {
			continue
		}
		narrative = append(narrative, entry)
	}
	r.Narrative = narrative
	return nil
}

func trimStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
