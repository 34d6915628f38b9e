package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meetingflow/internal/lockset"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/services"
)

// Backend persists processing state. ClaimState must be a single atomic
// conditional update.
type Backend interface {
	LoadState(ctx context.Context, fingerprint string) (*ProcessingState, error)
	// InsertState creates the record if absent and reports whether it did.
	InsertState(ctx context.Context, st ProcessingState) (bool, error)
	// SaveState persists everything except the claim columns.
	SaveState(ctx context.Context, st ProcessingState) error
	ClaimState(ctx context.Context, fingerprint, owner string, now, staleBefore time.Time) (bool, error)
	HeartbeatState(ctx context.Context, fingerprint, owner string, now time.Time) (bool, error)
	ReleaseState(ctx context.Context, fingerprint, owner string) error
	ClearStaleClaims(ctx context.Context, staleBefore time.Time) (int64, error)
	ListStates(ctx context.Context, filter Filter) ([]ProcessingState, error)
}

// Tracker is the idempotency ledger. Mutations for one fingerprint are
// serialized.
type Tracker struct {
	backend Backend
	timeout time.Duration
	locks   lockset.Set
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a Tracker. heartbeatTimeout is the age after which a
// claim is stale.
func NewTracker(backend Backend, heartbeatTimeout time.Duration, opts ...Option) *Tracker {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 2 * time.Minute
	}
	t := &Tracker{
		backend: backend,
		timeout: heartbeatTimeout,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "state")
	return t
}

// HeartbeatTimeout returns the claim staleness threshold.
func (t *Tracker) HeartbeatTimeout() time.Duration { return t.timeout }

// Get returns the state for fingerprint, or nil when absent.
func (t *Tracker) Get(ctx context.Context, fingerprint string) (*ProcessingState, error) {
	return t.backend.LoadState(ctx, fingerprint)
}

// Discover records a recording at discovered if it is not yet known. It
// returns the current state and whether it was created.
func (t *Tracker) Discover(ctx context.Context, rec meeting.Recording) (*ProcessingState, bool, error) {
	if rec.Fingerprint == "" {
		return nil, false, services.Wrap(services.ErrValidation, "discover", "fingerprint", "recording has no fingerprint", nil)
	}
	unlock := t.locks.Lock(rec.Fingerprint)
	defer unlock()

	now := t.now().UTC()
	discovered := rec.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}
	created, err := t.backend.InsertState(ctx, ProcessingState{
		Fingerprint:   rec.Fingerprint,
		Path:          rec.Path,
		DiscoveredAt:  discovered.UTC(),
		RecordedAt:    rec.RecordedAt.UTC(),
		Stage:         StageDiscovered,
		LastCompleted: StageDiscovered,
		Retries:       map[Stage]int{},
		Artifacts:     map[Stage]string{},
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("discover %s: %w", rec.Fingerprint, err)
	}
	st, err := t.backend.LoadState(ctx, rec.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if !created && st != nil && rec.Path != "" && st.Path != rec.Path && st.LastCompleted != StageArchived {
		// The same content reappeared under a different name.
		st.Path = rec.Path
		st.UpdatedAt = now
		if err := t.backend.SaveState(ctx, *st); err != nil {
			return nil, false, fmt.Errorf("update path for %s: %w", rec.Fingerprint, err)
		}
	}
	return st, created, nil
}

// Advance records stage as durably completed. stage must be the immediate
// successor of the last completed stage and the record must not be archived.
func (t *Tracker) Advance(ctx context.Context, fingerprint string, stage Stage, ref string) (*ProcessingState, error) {
	unlock := t.locks.Lock(fingerprint)
	defer unlock()

	st, err := t.load(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	next, ok := Successor(st.LastCompleted)
	if st.LastCompleted == StageArchived || !ok || next != stage {
		conflict := &StateConflictError{Fingerprint: fingerprint, From: st.LastCompleted, To: stage}
		logging.WarnWithContext(logging.WithContext(ctx, t.logger), "rejected out-of-order stage advance", "state_conflict",
			logging.String(logging.FieldFingerprint, fingerprint),
			logging.String("from", string(st.LastCompleted)),
			logging.String("to", string(stage)),
			logging.Error(conflict),
			logging.String(logging.FieldErrorHint, "another run may be processing this recording"),
			logging.String(logging.FieldImpact, "advance rejected; state unchanged"),
		)
		return nil, conflict
	}

	st.Stage = stage
	st.LastCompleted = stage
	if st.Artifacts == nil {
		st.Artifacts = map[Stage]string{}
	}
	if ref != "" {
		st.Artifacts[stage] = ref
	}
	st.FailedStage = ""
	st.LastError = ""
	st.ErrorKind = ""
	st.Permanent = false
	st.UpdatedAt = t.now().UTC()
	if err := t.backend.SaveState(ctx, *st); err != nil {
		return nil, fmt.Errorf("advance %s to %s: %w", fingerprint, stage, err)
	}
	return st, nil
}

// MarkFailed records a stage failure. The last completed stage is kept so
// the next run resumes from it.
func (t *Tracker) MarkFailed(ctx context.Context, fingerprint string, stage Stage, cause error, permanent bool) (*ProcessingState, error) {
	unlock := t.locks.Lock(fingerprint)
	defer unlock()

	st, err := t.load(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if st.LastCompleted == StageArchived {
		return nil, &StateConflictError{Fingerprint: fingerprint, From: st.LastCompleted, To: StageFailed}
	}
	if st.Retries == nil {
		st.Retries = map[Stage]int{}
	}
	st.Retries[stage]++
	st.Stage = StageFailed
	st.FailedStage = stage
	st.Permanent = permanent
	if cause != nil {
		st.LastError = cause.Error()
		st.ErrorKind = services.Kind(cause)
	}
	st.UpdatedAt = t.now().UTC()
	if err := t.backend.SaveState(ctx, *st); err != nil {
		return nil, fmt.Errorf("mark %s failed: %w", fingerprint, err)
	}
	return st, nil
}

// IsFullyProcessed reports whether the recording reached archived.
func (t *Tracker) IsFullyProcessed(ctx context.Context, fingerprint string) (bool, error) {
	st, err := t.backend.LoadState(ctx, fingerprint)
	if err != nil || st == nil {
		return false, err
	}
	return st.LastCompleted == StageArchived, nil
}

// RecordProgress persists the transcription resume index. The index never
// moves backwards.
func (t *Tracker) RecordProgress(ctx context.Context, fingerprint string, index int) error {
	unlock := t.locks.Lock(fingerprint)
	defer unlock()

	st, err := t.load(ctx, fingerprint)
	if err != nil {
		return err
	}
	if index <= st.ResumeIndex {
		return nil
	}
	st.ResumeIndex = index
	st.UpdatedAt = t.now().UTC()
	return t.backend.SaveState(ctx, *st)
}

// Claim sets the in-progress marker for owner. It fails when another owner
// holds a claim whose heartbeat is younger than the timeout.
func (t *Tracker) Claim(ctx context.Context, fingerprint, owner string) (bool, error) {
	now := t.now().UTC()
	return t.backend.ClaimState(ctx, fingerprint, owner, now, now.Add(-t.timeout))
}

// Heartbeat refreshes owner's claim. It reports false when the claim was lost.
func (t *Tracker) Heartbeat(ctx context.Context, fingerprint, owner string) (bool, error) {
	return t.backend.HeartbeatState(ctx, fingerprint, owner, t.now().UTC())
}

// Release clears owner's claim.
func (t *Tracker) Release(ctx context.Context, fingerprint, owner string) error {
	return t.backend.ReleaseState(ctx, fingerprint, owner)
}

// ResetStale clears claims whose heartbeat expired.
func (t *Tracker) ResetStale(ctx context.Context) (int64, error) {
	return t.backend.ClearStaleClaims(ctx, t.now().UTC().Add(-t.timeout))
}

// RetryFailed clears the failure marker, permanent flag and retry counts of
// failed recordings so the next run resumes them. With no fingerprints every
// failed recording is reset.
func (t *Tracker) RetryFailed(ctx context.Context, fingerprints ...string) (int, error) {
	failed, err := t.backend.ListStates(ctx, Filter{FailedOnly: true, Fingerprints: fingerprints})
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, candidate := range failed {
		unlock := t.locks.Lock(candidate.Fingerprint)
		st, err := t.load(ctx, candidate.Fingerprint)
		if err == nil && st.Stage == StageFailed {
			st.Stage = st.LastCompleted
			st.Permanent = false
			st.Retries = map[Stage]int{}
			st.FailedStage = ""
			st.LastError = ""
			st.ErrorKind = ""
			st.UpdatedAt = t.now().UTC()
			err = t.backend.SaveState(ctx, *st)
			if err == nil {
				reset++
			}
		}
		unlock()
		if err != nil {
			return reset, fmt.Errorf("retry %s: %w", candidate.Fingerprint, err)
		}
	}
	return reset, nil
}

// List returns states matching filter.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]ProcessingState, error) {
	return t.backend.ListStates(ctx, filter)
}

func (t *Tracker) load(ctx context.Context, fingerprint string) (*ProcessingState, error) {
	st, err := t.backend.LoadState(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", fingerprint, err)
	}
	if st == nil {
		return nil, services.Wrap(services.ErrNotFound, "state", "load", "no state for "+fingerprint, nil)
	}
	return st, nil
}
