package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"meetingflow/internal/entities"
	"meetingflow/internal/fileutil"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/notes"
	"meetingflow/internal/segment"
	"meetingflow/internal/services"
	"meetingflow/internal/state"
	"meetingflow/internal/transcription"
)

func (c *Coordinator) segmentStage(ctx context.Context, rec meeting.Recording, ws workspace) (string, error) {
	duration, err := c.deps.Segmenter.Probe(ctx, rec.Path)
	if err != nil {
		return "", err
	}
	plan, err := c.deps.Segmenter.Plan(duration, c.deps.Segmenter.BitrateBps())
	if err != nil {
		return "", err
	}
	// A fresh plan invalidates any per-segment results from an earlier one.
	if err := os.RemoveAll(filepath.Join(ws.dir, resultsDir)); err != nil {
		return "", fmt.Errorf("clear segment results: %w", err)
	}
	path := ws.path(segmentsFile)
	if err := writeJSON(path, plan); err != nil {
		return "", fmt.Errorf("persist segment plan: %w", err)
	}
	logging.WithContext(ctx, c.logger).Info("segments planned",
		logging.Float64("duration_seconds", duration),
		logging.Int("segments", len(plan)),
	)
	return path, nil
}

func (c *Coordinator) transcribeStage(ctx context.Context, st *state.ProcessingState, rec meeting.Recording, ws workspace) (string, error) {
	label := stageLabel(state.StageTranscribed)
	var plan []segment.Segment
	if err := loadArtifact(label, segmentsFile, artifactPath(st, state.StageSegmented, ws.path(segmentsFile)), &plan); err != nil {
		return "", err
	}
	if len(plan) == 0 {
		return "", services.Wrap(services.ErrSegmentation, label, "load plan", "segment plan is empty", nil)
	}

	completed := ws.loadResults(len(plan))
	resume := 0
	for {
		if _, ok := completed[resume]; !ok {
			break
		}
		resume++
	}
	todo := pending(plan, completed)
	job := transcription.Job{
		Fingerprint: rec.Fingerprint,
		Segments:    slices.Clone(plan),
		Completed:   completed,
		ResumeIndex: resume,
		Sink: &progressSink{
			ws:      ws,
			tracker: c.deps.Tracker,
			events:  c.deps.Events,
			rec:     rec,
			total:   len(plan),
			done:    len(completed),
		},
	}

	if len(todo) > 0 {
		logging.WithContext(ctx, c.logger).Info("materializing segments",
			logging.Int("pending", len(todo)),
			logging.Int("total", len(plan)),
			logging.Int("resume_index", resume),
		)
		payloads, err := c.deps.Segmenter.Materialize(ctx, rec.Path, todo)
		if err != nil {
			return "", err
		}
		defer func() {
			if err := payloads.Close(); err != nil {
				c.logger.Debug("segment payload cleanup failed", logging.Error(err))
			}
		}()
		paths := make(map[int]string, len(payloads.Segments))
		for _, seg := range payloads.Segments {
			paths[seg.Index] = seg.Path
		}
		for i := range job.Segments {
			job.Segments[i].Path = paths[job.Segments[i].Index]
		}
	}

	results, err := c.deps.Transcriber.Transcribe(ctx, job)
	if err != nil {
		return "", err
	}
	transcript := transcription.Merge(plan, results, c.settings.OverlapSimilarity)
	if transcript.Language == "" {
		transcript.Language = ws.detectedLanguage()
	}
	if transcript.Language == "" {
		transcript.Language = c.settings.Language
	}
	path := ws.path(transcriptFile)
	if err := writeJSON(path, transcript); err != nil {
		return "", fmt.Errorf("persist transcript: %w", err)
	}
	return path, nil
}

func (c *Coordinator) analyzeStage(ctx context.Context, st *state.ProcessingState, ws workspace) (string, error) {
	var transcript meeting.Transcript
	if err := loadArtifact(stageLabel(state.StageAnalyzed), transcriptFile, artifactPath(st, state.StageTranscribed, ws.path(transcriptFile)), &transcript); err != nil {
		return "", err
	}
	result, err := c.deps.Analyzer.Analyze(ctx, transcript, c.settings.Org)
	if err != nil {
		return "", err
	}
	path := ws.path(analysisFile)
	if err := writeJSON(path, result); err != nil {
		return "", fmt.Errorf("persist analysis: %w", err)
	}
	return path, nil
}

// extractStage resolves entities, persists tasks and renders notes. Every
// write is keyed deterministically so a retry never duplicates records.
func (c *Coordinator) extractStage(ctx context.Context, st *state.ProcessingState, rec meeting.Recording, ws workspace) (*ExtractSummary, string, error) {
	label := stageLabel(state.StageExtracted)
	var transcript meeting.Transcript
	if err := loadArtifact(label, transcriptFile, artifactPath(st, state.StageTranscribed, ws.path(transcriptFile)), &transcript); err != nil {
		return nil, "", err
	}
	var result meeting.AnalysisResult
	if err := loadArtifact(label, analysisFile, artifactPath(st, state.StageAnalyzed, ws.path(analysisFile)), &result); err != nil {
		return nil, "", err
	}

	mentions := slices.Clone(result.Entities)
	mentions = append(mentions, entities.DetectTechnologies(transcript, c.settings.TechnologyKeywords, result.Entities)...)
	resolutions, err := c.deps.Resolver.Resolve(ctx, mentions, rec, c.settings.Org)
	if err != nil {
		return nil, "", err
	}

	summary := &ExtractSummary{
		Title:       meetingTitle(rec.Path),
		Recording:   rec.Path,
		Fingerprint: rec.Fingerprint,
	}
	people := make(map[string]string)
	var refs []notes.EntityRef
	seen := make(map[string]bool)
	for _, res := range resolutions {
		if res.Skipped != "" {
			summary.Skipped = append(summary.Skipped, res.Mention.Name)
			continue
		}
		if res.Ambiguous {
			summary.Ambiguous = append(summary.Ambiguous, res.Mention.Name)
		}
		if res.EntityID == "" {
			continue
		}
		if res.Type == entities.TypePerson {
			people[entities.Normalize(res.CanonicalName)] = res.EntityID
			people[entities.Normalize(res.Mention.Name)] = res.EntityID
		}
		if seen[res.EntityID] {
			continue
		}
		seen[res.EntityID] = true
		record, err := c.deps.Records.Get(ctx, res.EntityID)
		if err != nil {
			return nil, "", err
		}
		if record == nil {
			continue
		}
		refs = append(refs, notes.EntityRef{Record: *record, Context: res.Mention.Context})
		summary.EntityIDs = append(summary.EntityIDs, record.ID)
	}

	var known map[string]string
	if len(result.Tasks) > 0 {
		if known, err = c.knownPeople(ctx); err != nil {
			return nil, "", err
		}
	}
	list := c.deps.Extractor.Extract(result.Tasks, rec, people, known)
	inserted, err := c.deps.Records.InsertTasks(ctx, list)
	if err != nil {
		return nil, "", err
	}
	summary.NewTasks = inserted
	for _, task := range list {
		summary.TaskIDs = append(summary.TaskIDs, task.ID)
	}

	if c.deps.Renderer != nil {
		rendered, err := c.deps.Renderer.Render(notes.Meeting{
			Recording:  rec,
			Title:      summary.Title,
			Transcript: transcript,
			Analysis:   result,
			Tasks:      list,
			Entities:   refs,
		})
		if err != nil {
			return nil, "", fmt.Errorf("render notes: %w", err)
		}
		summary.Notes = rendered
	}

	path := ws.path(extractFile)
	if err := writeJSON(path, summary); err != nil {
		return nil, "", fmt.Errorf("persist extract summary: %w", err)
	}
	logging.WithContext(ctx, c.logger).Info("extraction complete",
		logging.Int("tasks", len(list)),
		logging.Int("new_tasks", inserted),
		logging.Int("entities", len(summary.EntityIDs)),
		logging.Int("ambiguous", len(summary.Ambiguous)),
		logging.Int("skipped", len(summary.Skipped)),
	)
	return summary, path, nil
}

// knownPeople maps the normalized names and aliases of every registered
// person to its entity ID. The first record by ID wins a shared name.
func (c *Coordinator) knownPeople(ctx context.Context) (map[string]string, error) {
	records, err := c.deps.Records.Candidates(ctx, entities.TypePerson)
	if err != nil {
		return nil, fmt.Errorf("load people: %w", err)
	}
	slices.SortFunc(records, func(a, b entities.Record) int { return strings.Compare(a.ID, b.ID) })
	out := make(map[string]string, len(records))
	add := func(name, id string) {
		if name == "" {
			return
		}
		if _, ok := out[name]; !ok {
			out[name] = id
		}
	}
	for _, rec := range records {
		add(rec.NormalizedName, rec.ID)
	}
	for _, rec := range records {
		for _, alias := range rec.Aliases {
			add(entities.Normalize(alias), rec.ID)
		}
	}
	return out, nil
}

// archiveStage moves the source into the processed directory. The chosen
// target is recorded first so a retry after a crash mid-move reuses it.
func (c *Coordinator) archiveStage(ctx context.Context, rec meeting.Recording, ws workspace) (string, error) {
	label := stageLabel(state.StageArchived)
	recordPath := ws.path(archiveFile)

	var prior archiveRecord
	if err := readJSON(recordPath, &prior); err == nil && prior.Target != "" &&
		!fileutil.Exists(rec.Path) && fileutil.Exists(prior.Target) {
		c.cleanupResults(ctx, ws)
		return prior.Target, nil
	}
	if !fileutil.Exists(rec.Path) {
		return "", services.Wrap(services.ErrNotFound, label, "archive", "source recording is missing: "+rec.Path, nil)
	}

	var target string
	if prior.Target != "" && prior.Source == rec.Path {
		// An interrupted cross-device copy can leave a partial file behind.
		if err := os.Remove(prior.Target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("remove partial archive copy: %w", err)
		}
		target = prior.Target
	} else {
		target = fileutil.ArchiveTarget(rec.Path, c.settings.ProcessedDir, c.now())
		if err := writeJSON(recordPath, archiveRecord{Source: rec.Path, Target: target}); err != nil {
			return "", fmt.Errorf("persist archive target: %w", err)
		}
	}
	if err := fileutil.Move(rec.Path, target); err != nil {
		return "", fmt.Errorf("archive recording: %w", err)
	}
	c.cleanupResults(ctx, ws)
	return target, nil
}

func (c *Coordinator) cleanupResults(ctx context.Context, ws workspace) {
	if err := os.RemoveAll(filepath.Join(ws.dir, resultsDir)); err != nil {
		logging.WithContext(ctx, c.logger).Debug("segment result cleanup failed", logging.Error(err))
	}
}

func displayName(path string) string {
	return filepath.Base(path)
}

func meetingTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}
