package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/retry"
	"meetingflow/internal/services"
)

// maxReduceDepth bounds hierarchical summary reduction. The last level
// reduces whatever remains in a single request.
const maxReduceDepth = 4

// Completer is the remote text-analysis capability.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AnalysisError reports an analysis request that could not produce a valid
// payload within its attempt budget.
type AnalysisError struct {
	// Phase is "analyze" or "reduce".
	Phase string
	// Chunk is the zero-based chunk index, or -1 for whole-transcript and
	// reduction requests.
	Chunk int
	Err   error
}

func (e *AnalysisError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("analysis %s failed for chunk %d: %v", e.Phase, e.Chunk, e.Err)
	}
	return fmt.Sprintf("analysis %s failed: %v", e.Phase, e.Err)
}

func (e *AnalysisError) Unwrap() []error {
	return []error{services.ErrAnalysis, e.Err}
}

// Config bounds request sizes and names the quarantine directory.
type Config struct {
	MaxContextChars int
	ChunkChars      int
	QuarantineDir   string
}

// Analyzer runs analysis requests.
type Analyzer struct {
	client Completer
	policy retry.Policy
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the clock used to name quarantined payloads.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer constructs an Analyzer. Malformed payloads are retried in
// addition to the policy's own retryable errors.
func NewAnalyzer(client Completer, policy retry.Policy, cfg Config, opts ...Option) *Analyzer {
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 120000
	}
	if cfg.ChunkChars <= 0 || cfg.ChunkChars > cfg.MaxContextChars {
		cfg.ChunkChars = cfg.MaxContextChars
	}
	base := policy.Retryable
	if base == nil {
		base = services.IsTransient
	}
	policy.Retryable = func(err error) bool {
		var malformed *MalformedPayloadError
		return errors.As(err, &malformed) || base(err)
	}
	a := &Analyzer{
		client: client,
		policy: policy,
		cfg:    cfg,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "analysis")
	return a
}

// Analyze produces the structured analysis of a transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript meeting.Transcript, hint meeting.OrgContext) (meeting.AnalysisResult, error) {
	if a.client == nil {
		return meeting.AnalysisResult{}, services.Wrap(services.ErrConfiguration, "analyze", "init", "analysis client not configured", nil)
	}
	if len(transcript.Utterances) == 0 {
		return meeting.AnalysisResult{}, &AnalysisError{Phase: "analyze", Chunk: -1,
			Err: services.Wrap(services.ErrInvalidInput, "analyze", "render", "transcript has no utterances", nil)}
	}
	logger := logging.WithContext(ctx, a.logger)

	rendered := transcript.Render()
	var (
		result meeting.AnalysisResult
		err    error
	)
	if len(rendered) <= a.cfg.MaxContextChars {
		result, err = a.analyzeChunk(ctx, rendered, hint, -1, 1)
		if err != nil {
			return meeting.AnalysisResult{}, err
		}
	} else {
		chunks := ChunkTranscript(transcript, a.cfg.ChunkChars)
		logger.Info("transcript exceeds context limit; analyzing in chunks",
			logging.Int("chunks", len(chunks)),
			logging.Int("chars", len(rendered)),
			logging.String(logging.FieldEventType, "analysis_chunked"),
		)
		parts := make([]meeting.AnalysisResult, 0, len(chunks))
		summaries := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return meeting.AnalysisResult{}, err
			}
			part, err := a.analyzeChunk(ctx, chunk, hint, i, len(chunks))
			if err != nil {
				return meeting.AnalysisResult{}, err
			}
			parts = append(parts, part)
			summaries = append(summaries, part.Summary)
		}
		result = combine(parts)
		result.Summary, err = a.reduce(ctx, summaries, 0)
		if err != nil {
			return meeting.AnalysisResult{}, err
		}
	}

	if len(result.Speakers) == 0 {
		result.Speakers = transcriptSpeakers(transcript)
	}
	logger.Info("analysis complete",
		logging.Int("decisions", len(result.Decisions)),
		logging.Int("tasks", len(result.Tasks)),
		logging.Int("entities", len(result.Entities)),
		logging.String(logging.FieldEventType, "analysis_complete"),
	)
	return result, nil
}

func (a *Analyzer) analyzeChunk(ctx context.Context, body string, hint meeting.OrgContext, chunk, total int) (meeting.AnalysisResult, error) {
	prompt := buildAnalysisPrompt(body, hint, chunk+1, total)
	var result meeting.AnalysisResult
	err := a.policy.Do(ctx, func(callCtx context.Context, attempt int) error {
		content, err := a.client.CompleteJSON(callCtx, AnalysisPrompt, prompt)
		if err != nil {
			return err
		}
		decoded, err := DecodeResult(content)
		if err != nil {
			a.quarantine(ctx, "analyze", chunk, attempt, content, err)
			return err
		}
		result = decoded
		return nil
	})
	if err != nil {
		return meeting.AnalysisResult{}, &AnalysisError{Phase: "analyze", Chunk: chunk, Err: err}
	}
	return result, nil
}

// reduce combines partial summaries into one. When the reduce prompt would
// exceed the context limit, consecutive groups are reduced first.
func (a *Analyzer) reduce(ctx context.Context, summaries []string, depth int) (string, error) {
	if len(summaries) == 1 {
		return summaries[0], nil
	}
	if len(buildReducePrompt(summaries)) > a.cfg.MaxContextChars && depth < maxReduceDepth && len(summaries) > 1 {
		groups := groupSummaries(summaries, a.cfg.ChunkChars)
		if len(groups) < len(summaries) {
			next := make([]string, 0, len(groups))
			for _, group := range groups {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				if len(group) == 1 {
					next = append(next, group[0])
					continue
				}
				summary, err := a.reduceOnce(ctx, group)
				if err != nil {
					return "", err
				}
				next = append(next, summary)
			}
			return a.reduce(ctx, next, depth+1)
		}
	}
	return a.reduceOnce(ctx, summaries)
}

func (a *Analyzer) reduceOnce(ctx context.Context, summaries []string) (string, error) {
	prompt := buildReducePrompt(summaries)
	var summary string
	err := a.policy.Do(ctx, func(callCtx context.Context, attempt int) error {
		content, err := a.client.CompleteJSON(callCtx, ReducePrompt, prompt)
		if err != nil {
			return err
		}
		decoded, err := decodeSummary(content)
		if err != nil {
			a.quarantine(ctx, "reduce", -1, attempt, content, err)
			return err
		}
		summary = decoded
		return nil
	})
	if err != nil {
		return "", &AnalysisError{Phase: "reduce", Chunk: -1, Err: err}
	}
	return summary, nil
}

// quarantine keeps the raw text of a rejected payload for inspection. Write
// failures are logged and never fail the request.
func (a *Analyzer) quarantine(ctx context.Context, phase string, chunk, attempt int, content string, cause error) {
	logger := logging.WithContext(ctx, a.logger)
	if a.cfg.QuarantineDir == "" {
		logging.WarnWithContext(logger, "malformed analysis payload", "analysis_payload_malformed",
			logging.Error(cause),
			logging.Int("attempt", attempt),
			logging.String(logging.FieldErrorHint, "set paths.quarantine_dir to keep rejected payloads"),
			logging.String(logging.FieldImpact, "request will be retried"),
		)
		return
	}
	fingerprint, _ := services.FingerprintFromContext(ctx)
	if fingerprint == "" {
		fingerprint = "unknown"
	} else if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	name := fmt.Sprintf("%s_%s_chunk%d_attempt%d_%s.txt",
		fingerprint, phase, chunk, attempt, a.now().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(a.cfg.QuarantineDir, name)

	err := os.MkdirAll(a.cfg.QuarantineDir, 0o755)
	if err == nil {
		err = os.WriteFile(path, []byte(content), 0o644)
	}
	if err != nil {
		logging.WarnWithContext(logger, "failed to quarantine analysis payload", "analysis_quarantine_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on paths.quarantine_dir"),
		)
		return
	}
	logging.WarnWithContext(logger, "malformed analysis payload quarantined", "analysis_payload_quarantined",
		logging.Error(cause),
		logging.Int("attempt", attempt),
		logging.String("quarantine_path", path),
		logging.String(logging.FieldErrorHint, "inspect the quarantined payload if retries keep failing"),
		logging.String(logging.FieldImpact, "request will be retried"),
	)
}
