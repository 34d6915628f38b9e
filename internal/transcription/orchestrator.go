package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/retry"
	"meetingflow/internal/segment"
	"meetingflow/internal/services"
)

// Transcriber is the remote transcription capability.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (meeting.Transcript, error)
}

// ProgressSink persists per-segment results as they complete. Calls are
// serialized by the orchestrator.
type ProgressSink interface {
	SegmentDone(ctx context.Context, index int, utterances []meeting.Utterance, resumeIndex int) error
}

// LanguageSink is implemented by sinks that keep the language the service
// detected for a segment. It is called after SegmentDone, serialized the
// same way.
type LanguageSink interface {
	LanguageDetected(ctx context.Context, index int, code string) error
}

// TranscriptionError reports exhausted or terminal failure of one segment.
type TranscriptionError struct {
	SegmentIndex int
	Err          error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed at segment %d: %v", e.SegmentIndex, e.Err)
}

func (e *TranscriptionError) Unwrap() []error {
	return []error{services.ErrTranscription, e.Err}
}

// Job describes one recording's transcription work.
type Job struct {
	Fingerprint string
	// Segments is the full plan. Segments still to transcribe carry a Path.
	Segments []segment.Segment
	// Completed holds utterances already persisted, keyed by segment index
	// and relative to the segment start.
	Completed map[int][]meeting.Utterance
	// ResumeIndex is the persisted contiguous prefix; segments below it are
	// never dispatched.
	ResumeIndex int
	Sink        ProgressSink
}

// Orchestrator runs transcription jobs.
type Orchestrator struct {
	client      Transcriber
	policy      retry.Policy
	concurrency int
	logger      *slog.Logger
	onProgress  func(done, total int)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithProgress registers a callback invoked after each completed segment.
func WithProgress(fn func(done, total int)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(client Transcriber, policy retry.Policy, concurrency int, opts ...Option) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 1
	}
	o := &Orchestrator{
		client:      client,
		policy:      policy,
		concurrency: concurrency,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "transcription")
	return o
}

type segmentOutcome struct {
	utterances []meeting.Utterance
	err        error
	done       bool
}

// Transcribe dispatches every pending segment and returns per-segment
// utterances for the whole plan, indexed by segment index.
func (o *Orchestrator) Transcribe(ctx context.Context, job Job) ([][]meeting.Utterance, error) {
	total := len(job.Segments)
	outcomes := make([]segmentOutcome, total)
	for idx, utterances := range job.Completed {
		if idx >= 0 && idx < total {
			outcomes[idx] = segmentOutcome{utterances: utterances, done: true}
		}
	}
	for idx := 0; idx < job.ResumeIndex && idx < total; idx++ {
		if !outcomes[idx].done {
			return nil, services.Wrap(services.ErrTranscription, "transcribe", "resume",
				fmt.Sprintf("segment %d is below resume index %d but has no persisted result", idx, job.ResumeIndex), nil)
		}
	}

	logger := logging.WithContext(ctx, o.logger)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failed   bool
		sinkErr  error
		doneN    int
		resume   = contiguousPrefix(outcomes)
		sem      = make(chan struct{}, o.concurrency)
		canceled error
	)
	for _, outcome := range outcomes {
		if outcome.done {
			doneN++
		}
	}

	for _, seg := range job.Segments {
		if seg.Index < 0 || seg.Index >= total {
			continue
		}
		if outcomes[seg.Index].done || seg.Index < job.ResumeIndex {
			continue
		}
		if seg.Path == "" {
			mu.Lock()
			outcomes[seg.Index].err = services.Wrap(services.ErrTranscription, "transcribe", "dispatch",
				fmt.Sprintf("segment %d has no materialized payload", seg.Index), nil)
			failed = true
			mu.Unlock()
			break
		}
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(seg segment.Segment) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			utterances, lang, err := o.transcribeSegment(ctx, seg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcomes[seg.Index].err = err
				failed = true
				logging.WarnWithContext(logger, "segment transcription failed", "transcription_segment_failed",
					logging.Int("segment", seg.Index),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the recording will resume from the first unfinished segment on retry"),
					logging.String(logging.FieldImpact, "transcription stage incomplete"),
				)
				return
			}
			outcomes[seg.Index] = segmentOutcome{utterances: utterances, done: true}
			doneN++
			resume = contiguousPrefix(outcomes)
			if job.Sink != nil {
				if err := job.Sink.SegmentDone(context.WithoutCancel(ctx), seg.Index, utterances, resume); err != nil && sinkErr == nil {
					sinkErr = err
					failed = true
				}
				if ls, ok := job.Sink.(LanguageSink); ok && lang != "" {
					if err := ls.LanguageDetected(context.WithoutCancel(ctx), seg.Index, lang); err != nil && sinkErr == nil {
						sinkErr = err
						failed = true
					}
				}
			}
			logger.Debug("segment transcribed",
				logging.Int("segment", seg.Index),
				logging.Int("utterances", len(utterances)),
				logging.Duration("elapsed", time.Since(start)),
			)
			if o.onProgress != nil {
				o.onProgress(doneN, total)
			}
		}(seg)
	}
	wg.Wait()

	if sinkErr != nil {
		return nil, services.Wrap(services.ErrTranscription, "transcribe", "persist progress", "progress sink failed", sinkErr)
	}
	if failure := lowestFailure(outcomes); failure != nil {
		return nil, failure
	}
	if canceled != nil {
		return nil, canceled
	}
	results := make([][]meeting.Utterance, total)
	for idx, outcome := range outcomes {
		if !outcome.done {
			return nil, &TranscriptionError{SegmentIndex: idx, Err: errors.New("segment not transcribed")}
		}
		results[idx] = outcome.utterances
	}
	return results, nil
}

func (o *Orchestrator) transcribeSegment(ctx context.Context, seg segment.Segment) ([]meeting.Utterance, string, error) {
	var (
		utterances []meeting.Utterance
		lang       string
	)
	err := o.policy.Do(ctx, func(callCtx context.Context, _ int) error {
		tr, err := o.client.Transcribe(callCtx, seg.Path)
		if err != nil {
			return err
		}
		utterances = tr.Utterances
		lang = strings.TrimSpace(tr.Language)
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	sort.SliceStable(utterances, func(i, j int) bool { return utterances[i].Start < utterances[j].Start })
	return utterances, lang, nil
}

func contiguousPrefix(outcomes []segmentOutcome) int {
	for idx, outcome := range outcomes {
		if !outcome.done {
			return idx
		}
	}
	return len(outcomes)
}

func lowestFailure(outcomes []segmentOutcome) error {
	for idx, outcome := range outcomes {
		if outcome.err != nil {
			var te *TranscriptionError
			if errors.As(outcome.err, &te) {
				return te
			}
			return &TranscriptionError{SegmentIndex: idx, Err: outcome.err}
		}
	}
	return nil
}
