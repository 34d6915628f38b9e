package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"meetingflow/internal/events"
	"meetingflow/internal/fileutil"
	"meetingflow/internal/meeting"
	"meetingflow/internal/notes"
	"meetingflow/internal/segment"
	"meetingflow/internal/services"
	"meetingflow/internal/state"
)

// Artifact file names inside a recording's work directory.
const (
	segmentsFile   = "segments.json"
	resultsDir     = "segments"
	transcriptFile = "transcript.json"
	analysisFile   = "analysis.json"
	extractFile    = "extract.json"
	archiveFile    = "archive.json"
	// languageFile sits with the segment results so a re-plan clears it.
	languageFile = "language.json"
)

// workspace addresses the durable artifacts of one recording.
type workspace struct {
	dir string
}

func newWorkspace(root, fingerprint string) workspace {
	return workspace{dir: filepath.Join(root, fingerprint)}
}

func (w workspace) path(name string) string { return filepath.Join(w.dir, name) }

func (w workspace) resultPath(index int) string {
	return filepath.Join(w.dir, resultsDir, fmt.Sprintf("%03d.json", index))
}

// ExtractSummary is the extract stage artifact.
type ExtractSummary struct {
	TaskIDs     []string       `json:"task_ids"`
	NewTasks    int            `json:"new_tasks"`
	EntityIDs   []string       `json:"entity_ids"`
	Ambiguous   []string       `json:"ambiguous,omitempty"`
	Skipped     []string       `json:"skipped,omitempty"`
	Notes       notes.Rendered `json:"notes"`
	Title       string         `json:"title"`
	Recording   string         `json:"recording"`
	Fingerprint string         `json:"fingerprint"`
}

type detectedLanguage struct {
	Segment  int    `json:"segment"`
	Language string `json:"language"`
}

func (w workspace) languagePath() string {
	return filepath.Join(w.dir, resultsDir, languageFile)
}

// detectedLanguage returns the language reported for the lowest segment, or
// "" when the service never reported one.
func (w workspace) detectedLanguage() string {
	var lang detectedLanguage
	if err := readJSON(w.languagePath(), &lang); err != nil {
		return ""
	}
	return lang.Language
}

type archiveRecord struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'))
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// artifactPath prefers the reference recorded in the state and falls back
// to the conventional location.
func artifactPath(st *state.ProcessingState, stage state.Stage, fallback string) string {
	if st != nil {
		if ref := strings.TrimSpace(st.Artifacts[stage]); ref != "" {
			return ref
		}
	}
	return fallback
}

// loadArtifact reads a prior stage's output. A missing or unreadable file
// means the ledger and the work directory disagree, which a retry cannot fix
// without operator help.
func loadArtifact(stageLabel, name, path string, out any) error {
	if err := readJSON(path, out); err != nil {
		marker := services.ErrValidation
		if errors.Is(err, fs.ErrNotExist) {
			marker = services.ErrNotFound
		}
		return services.Wrap(marker, stageLabel, "load "+name, path, err)
	}
	return nil
}

// loadResults reads persisted per-segment utterances. Files that fail to
// decode are ignored so the segment is transcribed again.
func (w workspace) loadResults(total int) map[int][]meeting.Utterance {
	entries, err := os.ReadDir(filepath.Join(w.dir, resultsDir))
	if err != nil {
		return map[int][]meeting.Utterance{}
	}
	out := make(map[int][]meeting.Utterance, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil || idx < 0 || idx >= total {
			continue
		}
		var utterances []meeting.Utterance
		if err := readJSON(filepath.Join(w.dir, resultsDir, name), &utterances); err != nil {
			continue
		}
		if utterances == nil {
			utterances = []meeting.Utterance{}
		}
		out[idx] = utterances
	}
	return out
}

// pending returns the planned segments that have no persisted result.
func pending(plan []segment.Segment, completed map[int][]meeting.Utterance) []segment.Segment {
	var out []segment.Segment
	for _, seg := range plan {
		if _, ok := completed[seg.Index]; !ok {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// progressSink persists each transcribed segment and the resume index.
type progressSink struct {
	ws      workspace
	tracker *state.Tracker
	events  events.Publisher
	rec     meeting.Recording
	total   int
	done    int
}

func (s *progressSink) SegmentDone(ctx context.Context, index int, utterances []meeting.Utterance, resumeIndex int) error {
	if utterances == nil {
		utterances = []meeting.Utterance{}
	}
	if err := writeJSON(s.ws.resultPath(index), utterances); err != nil {
		return fmt.Errorf("persist segment %d: %w", index, err)
	}
	if err := s.tracker.RecordProgress(ctx, s.rec.Fingerprint, resumeIndex); err != nil {
		return err
	}
	s.done++
	s.events.Publish(events.Event{
		Type:        events.TypeProgress,
		Fingerprint: s.rec.Fingerprint,
		Path:        s.rec.Path,
		Stage:       stageLabel(state.StageTranscribed),
		Done:        s.done,
		Total:       s.total,
	})
	return nil
}

// LanguageDetected keeps the detection from the lowest segment index.
func (s *progressSink) LanguageDetected(_ context.Context, index int, code string) error {
	var prior detectedLanguage
	if err := readJSON(s.ws.languagePath(), &prior); err == nil && prior.Language != "" && prior.Segment <= index {
		return nil
	}
	if err := writeJSON(s.ws.languagePath(), detectedLanguage{Segment: index, Language: code}); err != nil {
		return fmt.Errorf("persist detected language: %w", err)
	}
	return nil
}
