package pipeline

import (
	"log/slog"
	"time"

	"meetingflow/internal/analysis"
	"meetingflow/internal/config"
	"meetingflow/internal/deps"
	"meetingflow/internal/entities"
	"meetingflow/internal/events"
	"meetingflow/internal/notes"
	"meetingflow/internal/notifications"
	"meetingflow/internal/retry"
	"meetingflow/internal/segment"
	"meetingflow/internal/services/llm"
	"meetingflow/internal/services/stt"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
	"meetingflow/internal/tasks"
	"meetingflow/internal/transcription"
)

// BuildOptions customizes NewFromConfig.
type BuildOptions struct {
	Logger   *slog.Logger
	Events   events.Publisher
	Notifier notifications.Service
	// Progress observes transcription progress per finished segment.
	Progress func(done, total int)
}

// NewFromConfig wires the production collaborators around st.
func NewFromConfig(cfg *config.Config, st *store.Store, opts BuildOptions) (*Coordinator, error) {
	if err := cfg.RequireCapabilities(); err != nil {
		return nil, err
	}
	logger := opts.Logger

	tracker := state.NewTracker(st, cfg.HeartbeatTimeout(), state.WithLogger(logger))

	segmenter := segment.New(segment.Config{
		Limits: segment.Limits{
			MaxPayloadBytes:   cfg.MaxPayloadBytes(),
			OverlapSeconds:    float64(cfg.Segmentation.OverlapSeconds),
			MaxSegmentSeconds: float64(cfg.Segmentation.MaxSegmentMinutes * 60),
		},
		BitrateKbps:   cfg.Segmentation.TargetBitrateKbps,
		FFmpegBinary:  cfg.FFmpegBinary(),
		FFprobeBinary: cfg.FFprobeBinary(),
		WorkDir:       cfg.Paths.WorkDir,
	}, segment.WithLogger(logger), segment.WithSpaceCheck(deps.CheckFreeSpace))

	sttClient := stt.NewClient(stt.Config{
		APIKey:          cfg.Transcription.APIKey,
		BaseURL:         cfg.Transcription.BaseURL,
		Model:           cfg.Transcription.Model,
		Language:        cfg.Transcription.Language,
		TimeoutSeconds:  cfg.Transcription.TimeoutSeconds,
		MaxPayloadBytes: cfg.MaxPayloadBytes(),
	})
	orchestratorOpts := []transcription.Option{transcription.WithLogger(logger)}
	if opts.Progress != nil {
		orchestratorOpts = append(orchestratorOpts, transcription.WithProgress(opts.Progress))
	}
	orchestrator := transcription.NewOrchestrator(sttClient, retry.Policy{
		MaxAttempts:    cfg.Transcription.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Transcription.RetryBaseMillis) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Transcription.RetryMaxSeconds) * time.Second,
		AttemptTimeout: time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
	}, cfg.Transcription.Concurrency, orchestratorOpts...)

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.Analysis.APIKey,
		BaseURL:        cfg.Analysis.BaseURL,
		Model:          cfg.Analysis.Model,
		Referer:        cfg.Analysis.Referer,
		Title:          cfg.Analysis.Title,
		TimeoutSeconds: cfg.Analysis.TimeoutSeconds,
	})
	analyzer := analysis.NewAnalyzer(llmClient, retry.Policy{
		MaxAttempts:    cfg.Analysis.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Analysis.RetryBaseMillis) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Analysis.RetryMaxSeconds) * time.Second,
		AttemptTimeout: time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	}, analysis.Config{
		MaxContextChars: cfg.Analysis.MaxContextChars,
		ChunkChars:      cfg.Analysis.ChunkChars,
		QuarantineDir:   cfg.Paths.QuarantineDir,
	}, analysis.WithLogger(logger))

	resolver := entities.NewResolver(st, cfg.Entities.FuzzyThreshold, entities.WithLogger(logger))
	extractor := tasks.NewExtractor(tasks.Config{
		CriticalKeywords: cfg.Tasks.CriticalKeywords,
		HighKeywords:     cfg.Tasks.HighKeywords,
		LowKeywords:      cfg.Tasks.LowKeywords,
	}, nil)

	var renderer notes.Renderer
	if cfg.Paths.VaultDir != "" {
		renderer = notes.NewVault(cfg.Paths.VaultDir)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	return New(SettingsFromConfig(cfg), Dependencies{
		Tracker:     tracker,
		Segmenter:   segmenter,
		Transcriber: orchestrator,
		Analyzer:    analyzer,
		Resolver:    resolver,
		Extractor:   extractor,
		Records:     st,
		Renderer:    renderer,
		Events:      opts.Events,
		Notifier:    notifier,
		Logger:      logger,
	})
}
