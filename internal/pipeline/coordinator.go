package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"meetingflow/internal/config"
	"meetingflow/internal/entities"
	"meetingflow/internal/events"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/notes"
	"meetingflow/internal/notifications"
	"meetingflow/internal/segment"
	"meetingflow/internal/services"
	"meetingflow/internal/state"
	"meetingflow/internal/tasks"
	"meetingflow/internal/transcription"
)

const defaultHeartbeatInterval = 15 * time.Second

var errClaimLost = errors.New("processing claim lost to another worker")

// Segmenter probes, plans and materializes recording segments.
type Segmenter interface {
	Probe(ctx context.Context, path string) (float64, error)
	BitrateBps() int64
	Plan(durationSeconds float64, bitrateBps int64) ([]segment.Segment, error)
	Materialize(ctx context.Context, source string, segments []segment.Segment) (*segment.Workspace, error)
}

// Transcriber runs a segmented transcription job.
type Transcriber interface {
	Transcribe(ctx context.Context, job transcription.Job) ([][]meeting.Utterance, error)
}

// Analyzer turns a transcript into an analysis result.
type Analyzer interface {
	Analyze(ctx context.Context, transcript meeting.Transcript, hint meeting.OrgContext) (meeting.AnalysisResult, error)
}

// EntityResolver maps raw mentions to registry identities.
type EntityResolver interface {
	Resolve(ctx context.Context, mentions []meeting.EntityMention, rec meeting.Recording, org meeting.OrgContext) ([]entities.Resolution, error)
}

// Records reads entities and persists tasks.
type Records interface {
	Get(ctx context.Context, id string) (*entities.Record, error)
	Candidates(ctx context.Context, t entities.Type) ([]entities.Record, error)
	InsertTasks(ctx context.Context, list []tasks.Task) (int, error)
}

// Status summarizes what a Process call did.
type Status string

// Process outcomes.
const (
	StatusCompleted        Status = "completed"
	StatusAlreadyProcessed Status = "already_processed"
	StatusInProgress       Status = "in_progress"
	StatusNeedsAttention   Status = "needs_attention"
	StatusFailed           Status = "failed"
	StatusConflict         Status = "conflict"
	StatusInterrupted      Status = "interrupted"
)

// Outcome reports the result of one Process call.
type Outcome struct {
	Fingerprint   string        `json:"fingerprint"`
	Path          string        `json:"path"`
	Status        Status        `json:"status"`
	LastCompleted state.Stage   `json:"last_completed"`
	Ran           []state.Stage `json:"ran,omitempty"`
	ArchivedPath  string        `json:"archived_path,omitempty"`
	Tasks         int           `json:"tasks"`
	Entities      int           `json:"entities"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Settings carries coordinator tuning.
type Settings struct {
	WorkDir            string
	ProcessedDir       string
	MaxConcurrent      int
	MaxStageRetries    int
	HeartbeatInterval  time.Duration
	OverlapSimilarity  float64
	Language           string
	TechnologyKeywords []string
	Org                meeting.OrgContext
}

// SettingsFromConfig maps configuration onto coordinator settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WorkDir:            cfg.Paths.WorkDir,
		ProcessedDir:       cfg.Paths.ProcessedDir,
		MaxConcurrent:      cfg.Pipeline.MaxConcurrent,
		MaxStageRetries:    cfg.Pipeline.MaxStageRetries,
		HeartbeatInterval:  cfg.HeartbeatInterval(),
		OverlapSimilarity:  cfg.Transcription.OverlapSimilarity,
		Language:           cfg.Transcription.Language,
		TechnologyKeywords: cfg.Entities.TechnologyKeywords,
		Org: meeting.OrgContext{
			Employer:     cfg.Entities.Employer,
			KnownDomains: cfg.Entities.KnownDomains,
		},
	}
}

// Dependencies are the collaborators a Coordinator drives. Renderer,
// Events, Notifier and Logger are optional.
type Dependencies struct {
	Tracker     *state.Tracker
	Segmenter   Segmenter
	Transcriber Transcriber
	Analyzer    Analyzer
	Resolver    EntityResolver
	Extractor   *tasks.Extractor
	Records     Records
	Renderer    notes.Renderer
	Events      events.Publisher
	Notifier    notifications.Service
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Coordinator sequences the stages for each recording.
type Coordinator struct {
	settings Settings
	deps     Dependencies
	logger   *slog.Logger
	slots    chan struct{}
	now      func() time.Time
}

// New validates deps and builds a Coordinator.
func New(settings Settings, deps Dependencies) (*Coordinator, error) {
	var missing []string
	if deps.Tracker == nil {
		missing = append(missing, "tracker")
	}
	if deps.Segmenter == nil {
		missing = append(missing, "segmenter")
	}
	if deps.Transcriber == nil {
		missing = append(missing, "transcriber")
	}
	if deps.Analyzer == nil {
		missing = append(missing, "analyzer")
	}
	if deps.Resolver == nil {
		missing = append(missing, "resolver")
	}
	if deps.Extractor == nil {
		missing = append(missing, "extractor")
	}
	if deps.Records == nil {
		missing = append(missing, "records")
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new",
			"missing dependencies: "+strings.Join(missing, ", "), nil)
	}
	if strings.TrimSpace(settings.WorkDir) == "" || strings.TrimSpace(settings.ProcessedDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "new", "work and processed directories are required", nil)
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = 1
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = defaultHeartbeatInterval
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Coordinator{
		settings: settings,
		deps:     deps,
		logger:   logging.NewComponentLogger(deps.Logger, "pipeline"),
		slots:    make(chan struct{}, settings.MaxConcurrent),
		now:      deps.Clock,
	}, nil
}

// Tracker exposes the state ledger the coordinator writes to.
func (c *Coordinator) Tracker() *state.Tracker { return c.deps.Tracker }

// Settings returns the effective settings.
func (c *Coordinator) Settings() Settings { return c.settings }

// Process runs every outstanding stage for rec. Recordings that are already
// archived, claimed elsewhere or waiting for an operator return a no-op
// outcome with a nil error.
func (c *Coordinator) Process(ctx context.Context, rec meeting.Recording) (Outcome, error) {
	out := Outcome{Fingerprint: rec.Fingerprint, Path: rec.Path}
	ctx = services.WithFingerprint(ctx, rec.Fingerprint)
	logger := logging.WithContext(ctx, c.logger)

	st, created, err := c.deps.Tracker.Discover(ctx, rec)
	if err != nil {
		return out, err
	}
	if created {
		logger.Info("recording discovered",
			logging.String(logging.FieldEventType, "recording_discovered"),
			logging.String("path", rec.Path),
		)
		c.publish(events.Event{Type: events.TypeDiscovered, Fingerprint: st.Fingerprint, Path: st.Path})
	}
	if c.settle(st, &out) {
		return out, nil
	}

	owner := uuid.NewString()
	claimed, err := c.deps.Tracker.Claim(ctx, st.Fingerprint, owner)
	if err != nil {
		return out, err
	}
	if !claimed {
		out.Status = StatusInProgress
		logger.Info("recording already in progress elsewhere", logging.String(logging.FieldEventType, "claim_refused"))
		c.publish(events.Event{Type: events.TypeSkipped, Fingerprint: st.Fingerprint, Path: st.Path, Message: string(out.Status)})
		return out, nil
	}
	defer func() {
		if err := c.deps.Tracker.Release(context.WithoutCancel(ctx), st.Fingerprint, owner); err != nil {
			logger.Warn("claim release failed", logging.Error(err))
		}
	}()

	// Another worker may have finished between discovery and the claim.
	st, err = c.deps.Tracker.Get(ctx, rec.Fingerprint)
	if err != nil {
		return out, err
	}
	if st == nil {
		return out, services.Wrap(services.ErrNotFound, "pipeline", "reload", rec.Fingerprint, nil)
	}
	if c.settle(st, &out) {
		return out, nil
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		out.Status = StatusInterrupted
		return out, ctx.Err()
	}
	defer func() { <-c.slots }()

	runCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go c.heartbeatLoop(runCtx, cancel, &wg, st.Fingerprint, owner)
	defer func() {
		cancel(nil)
		wg.Wait()
	}()

	return c.run(runCtx, st, out)
}

// settle fills out for records that need no work and reports whether the
// caller should stop.
func (c *Coordinator) settle(st *state.ProcessingState, out *Outcome) bool {
	out.Path = st.Path
	out.LastCompleted = st.LastCompleted
	switch {
	case st.LastCompleted == state.StageArchived:
		out.Status = StatusAlreadyProcessed
		out.ArchivedPath = st.Artifacts[state.StageArchived]
	case st.RetriesExhausted(c.settings.MaxStageRetries):
		out.Status = StatusNeedsAttention
	default:
		return false
	}
	c.publish(events.Event{Type: events.TypeSkipped, Fingerprint: st.Fingerprint, Path: st.Path, Message: string(out.Status)})
	return true
}

func (c *Coordinator) run(ctx context.Context, st *state.ProcessingState, out Outcome) (Outcome, error) {
	started := c.now()
	rec := recordingFrom(st)
	ws := newWorkspace(c.settings.WorkDir, st.Fingerprint)
	var summary *ExtractSummary

	for next := st.NextStage(); next != ""; next = st.NextStage() {
		if err := ctx.Err(); err != nil {
			return c.interrupted(ctx, out, next, err)
		}
		label := stageLabel(next)
		stageCtx := services.WithStage(ctx, label)
		logger := logging.WithContext(stageCtx, c.logger)
		stageStart := c.now()
		logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
		c.publish(events.Event{Type: events.TypeStageStarted, Fingerprint: st.Fingerprint, Path: st.Path, Stage: label})

		ref, err := c.runStage(stageCtx, next, st, rec, ws, &summary)
		if err == nil {
			var updated *state.ProcessingState
			updated, err = c.deps.Tracker.Advance(context.WithoutCancel(stageCtx), st.Fingerprint, next, ref)
			if err == nil {
				st = updated
			}
		}
		if err != nil {
			out.Elapsed = c.now().Sub(started)
			return c.fail(stageCtx, st, next, err, out)
		}

		out.Ran = append(out.Ran, next)
		out.LastCompleted = next
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("artifact", ref),
			logging.Duration("stage_duration", c.now().Sub(stageStart)),
		)
		c.publish(events.Event{Type: events.TypeStageCompleted, Fingerprint: st.Fingerprint, Path: st.Path, Stage: label, Message: ref})
	}

	out.Status = StatusCompleted
	out.Elapsed = c.now().Sub(started)
	out.ArchivedPath = st.Artifacts[state.StageArchived]
	if summary == nil {
		var loaded ExtractSummary
		if err := readJSON(artifactPath(st, state.StageExtracted, ws.path(extractFile)), &loaded); err == nil {
			summary = &loaded
		}
	}
	if summary != nil {
		out.Tasks = len(summary.TaskIDs)
		out.Entities = len(summary.EntityIDs)
	}
	if len(out.Ran) == 0 {
		return out, nil
	}

	logging.WithContext(ctx, c.logger).Info("recording processed",
		logging.String(logging.FieldEventType, "recording_complete"),
		logging.String("archived_path", out.ArchivedPath),
		logging.Int("tasks", out.Tasks),
		logging.Int("entities", out.Entities),
		logging.Duration("elapsed", out.Elapsed),
	)
	c.publish(events.Event{Type: events.TypeCompleted, Fingerprint: st.Fingerprint, Path: out.ArchivedPath})
	c.notify(ctx, notifications.EventRecordingCompleted, notifications.Payload{
		"name":     displayName(rec.Path),
		"tasks":    out.Tasks,
		"entities": out.Entities,
		"duration": out.Elapsed,
	})
	return out, nil
}

func (c *Coordinator) runStage(ctx context.Context, stage state.Stage, st *state.ProcessingState, rec meeting.Recording, ws workspace, summary **ExtractSummary) (string, error) {
	switch stage {
	case state.StageSegmented:
		return c.segmentStage(ctx, rec, ws)
	case state.StageTranscribed:
		return c.transcribeStage(ctx, st, rec, ws)
	case state.StageAnalyzed:
		return c.analyzeStage(ctx, st, ws)
	case state.StageExtracted:
		s, ref, err := c.extractStage(ctx, st, rec, ws)
		if err == nil {
			*summary = s
		}
		return ref, err
	case state.StageArchived:
		return c.archiveStage(ctx, rec, ws)
	default:
		return "", services.Wrap(services.ErrStateConflict, "pipeline", "dispatch", fmt.Sprintf("no handler for stage %s", stage), nil)
	}
}

func (c *Coordinator) interrupted(ctx context.Context, out Outcome, next state.Stage, err error) (Outcome, error) {
	out.Status = StatusInterrupted
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	}
	logging.WithContext(ctx, c.logger).Info("processing interrupted",
		logging.String(logging.FieldEventType, "stage_interrupted"),
		logging.String("next_stage", stageLabel(next)),
		logging.String("reason", err.Error()),
	)
	return out, err
}

func (c *Coordinator) fail(ctx context.Context, st *state.ProcessingState, stage state.Stage, stageErr error, out Outcome) (Outcome, error) {
	if ctx.Err() != nil && (errors.Is(stageErr, context.Canceled) || errors.Is(stageErr, context.DeadlineExceeded)) {
		return c.interrupted(ctx, out, stage, stageErr)
	}
	var conflict *state.StateConflictError
	if errors.As(stageErr, &conflict) {
		out.Status = StatusConflict
		return out, stageErr
	}

	logger := logging.WithContext(ctx, c.logger)
	permanent := services.IsPermanent(stageErr)
	if _, err := c.deps.Tracker.MarkFailed(context.WithoutCancel(ctx), st.Fingerprint, stage, stageErr, permanent); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	hint := "the recording will be retried from its last completed stage"
	if permanent {
		hint = "fix the recording or configuration, then run meetingflow retry"
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.Error(stageErr),
		logging.String("error_kind", services.Kind(stageErr)),
		logging.Bool("permanent", permanent),
		logging.String(logging.FieldErrorHint, hint),
		logging.String(logging.FieldImpact, "recording stays in the input directory"),
	)
	c.publish(events.Event{
		Type:        events.TypeStageFailed,
		Fingerprint: st.Fingerprint,
		Path:        st.Path,
		Stage:       stageLabel(stage),
		Error:       stageErr.Error(),
	})
	c.notify(ctx, notifications.EventRecordingFailed, notifications.Payload{
		"name":  displayName(st.Path),
		"stage": stageLabel(stage),
		"error": stageErr,
	})
	out.Status = StatusFailed
	return out, stageErr
}

func (c *Coordinator) heartbeatLoop(ctx context.Context, cancel context.CancelCauseFunc, wg *sync.WaitGroup, fingerprint, owner string) {
	defer wg.Done()
	ticker := time.NewTicker(c.settings.HeartbeatInterval)
	defer ticker.Stop()
	logger := logging.WithContext(ctx, c.logger.With(logging.String("component", "pipeline-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := c.deps.Tracker.Heartbeat(ctx, fingerprint, owner)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
				continue
			}
			if !ok {
				logging.WarnWithContext(logger, "processing claim lost", "claim_lost",
					logging.String(logging.FieldErrorHint, "another worker took over after a stale heartbeat"),
					logging.String(logging.FieldImpact, "this run stops at the next stage boundary"),
				)
				cancel(errClaimLost)
				return
			}
		}
	}
}

func (c *Coordinator) publish(evt events.Event) {
	if evt.Time.IsZero() {
		evt.Time = c.now().UTC()
	}
	c.deps.Events.Publish(evt)
}

func (c *Coordinator) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if c.deps.Notifier == nil {
		return
	}
	if err := c.deps.Notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WithContext(ctx, c.logger).Debug("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

func recordingFrom(st *state.ProcessingState) meeting.Recording {
	recorded := st.RecordedAt
	if recorded.IsZero() {
		recorded = st.DiscoveredAt
	}
	return meeting.Recording{
		Path:         st.Path,
		Fingerprint:  st.Fingerprint,
		DiscoveredAt: st.DiscoveredAt,
		RecordedAt:   recorded,
	}
}

// stageLabel names the work that produces stage.
func stageLabel(stage state.Stage) string {
	switch stage {
	case state.StageSegmented:
		return "segment"
	case state.StageTranscribed:
		return "transcribe"
	case state.StageAnalyzed:
		return "analyze"
	case state.StageExtracted:
		return "extract"
	case state.StageArchived:
		return "archive"
	default:
		return string(stage)
	}
}
