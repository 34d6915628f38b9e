package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"meetingflow/internal/config"
	"meetingflow/internal/deps"
	"meetingflow/internal/entities"
	"meetingflow/internal/events"
	"meetingflow/internal/fileutil"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
	"meetingflow/internal/pipeline"
	"meetingflow/internal/staging"
	"meetingflow/internal/state"
	"meetingflow/internal/store"
	"meetingflow/internal/watcher"
)

const (
	maxRetryBackoff = 30 * time.Minute
	orphanGrace     = time.Hour
)

// Processor runs the pipeline for one recording.
type Processor interface {
	Process(ctx context.Context, rec meeting.Recording) (pipeline.Outcome, error)
}

// Options carries optional collaborators.
type Options struct {
	Logger *slog.Logger
	Hub    *events.Hub
	// Tracker should be the coordinator's tracker so per-fingerprint
	// serialization is shared. A new one is built when nil.
	Tracker *state.Tracker
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	processor Processor
	tracker   *state.Tracker
	resolver  *entities.Resolver
	hub       *events.Hub
	watcher   *watcher.Watcher
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	jobs      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]string
	lastErr  string

	completed atomic.Int64
	failed    atomic.Int64
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool                `json:"running"`
	PID            int                 `json:"pid"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	DatabasePath   string              `json:"database_path"`
	LockFilePath   string              `json:"lock_file_path"`
	InputDir       string              `json:"input_dir"`
	WatcherRunning bool                `json:"watcher_running"`
	InFlight       []string            `json:"in_flight"`
	Completed      int64               `json:"completed"`
	Failed         int64               `json:"failed"`
	LastError      string              `json:"last_error,omitempty"`
	Stages         map[state.Stage]int `json:"stages"`
	Subscribers    int                 `json:"subscribers"`
	Dependencies   []deps.Status       `json:"dependencies"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, processor Processor, opts Options) (*Daemon, error) {
	if cfg == nil || st == nil || processor == nil {
		return nil, errors.New("daemon requires config, store, and processor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub(0)
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = state.NewTracker(st, cfg.HeartbeatTimeout(), state.WithLogger(logger))
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		processor: processor,
		tracker:   tracker,
		resolver:  entities.NewResolver(st, cfg.Entities.FuzzyThreshold, entities.WithLogger(logger)),
		hub:       hub,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		inFlight:  make(map[string]string),
	}
	d.watcher = watcher.New(watcher.ConfigFromConfig(cfg), d.submit, watcher.WithLogger(logger))
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the watcher, the retry loop
// and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another meetingflow daemon instance is already running")
	}

	if cleared, err := d.tracker.ResetStale(ctx); err != nil {
		d.logger.Warn("stale claim reset failed", logging.Error(err))
	} else if cleared > 0 {
		d.logger.Info("cleared stale claims", logging.Int64("count", cleared))
	}

	d.cleanOrphans(ctx)

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.watcher.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := d.api.start(d.ctx); err != nil {
		d.watcher.Stop()
		d.abortStart()
		return err
	}
	d.loops.Add(1)
	go d.retryLoop(d.ctx)

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("meetingflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("input_dir", d.cfg.Paths.InputDir),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing, waits for in-flight recordings to reach
// a stage boundary and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.watcher.Stop()
	d.api.stop()
	d.loops.Wait()
	d.jobs.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("meetingflow daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Address returns the API listen address once started.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Submit queues rec for processing unless it is already in flight here. It
// reports whether a run was started.
func (d *Daemon) Submit(rec meeting.Recording) bool {
	ctx := d.ctx
	if ctx == nil {
		return false
	}
	return d.submitWith(ctx, rec)
}

func (d *Daemon) submit(ctx context.Context, rec meeting.Recording) {
	d.submitWith(ctx, rec)
}

func (d *Daemon) submitWith(ctx context.Context, rec meeting.Recording) bool {
	d.mu.Lock()
	if _, busy := d.inFlight[rec.Fingerprint]; busy {
		d.mu.Unlock()
		return false
	}
	d.inFlight[rec.Fingerprint] = rec.Path
	d.jobs.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.jobs.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, rec.Fingerprint)
			d.mu.Unlock()
		}()
		out, err := d.processor.Process(ctx, rec)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			d.logger.Debug("processing stopped by shutdown", logging.String(logging.FieldFingerprint, rec.Fingerprint))
		case err != nil:
			d.failed.Add(1)
			d.mu.Lock()
			d.lastErr = err.Error()
			d.mu.Unlock()
		case out.Status == pipeline.StatusCompleted:
			d.completed.Add(1)
		}
	}()
	return true
}

// cleanOrphans removes work directories the ledger no longer knows about.
// It runs before the watcher starts so no new run can race it.
func (d *Daemon) cleanOrphans(ctx context.Context) {
	all, err := d.tracker.List(ctx, state.Filter{})
	if err != nil {
		d.logger.Warn("skip work dir cleanup", logging.Error(err))
		return
	}
	known := make(map[string]struct{}, len(all))
	for _, st := range all {
		known[st.Fingerprint] = struct{}{}
	}
	result := staging.CleanOrphaned(ctx, d.cfg.Paths.WorkDir, known, time.Now().Add(-orphanGrace), false, d.logger)
	if len(result.Removed) > 0 {
		d.logger.Info("removed orphaned work directories",
			logging.Int("count", len(result.Removed)),
			logging.Int64("bytes", result.Freed),
		)
	}
}

// retryLoop resubmits failed recordings whose retries are not exhausted.
// Each further failure doubles the wait, capped at maxRetryBackoff.
func (d *Daemon) retryLoop(ctx context.Context) {
	defer d.loops.Done()
	interval := time.Duration(d.cfg.Pipeline.ScanIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.resubmitFailed(ctx, interval)
		}
	}
}

func (d *Daemon) resubmitFailed(ctx context.Context, base time.Duration) int {
	failed, err := d.tracker.List(ctx, state.Filter{FailedOnly: true})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Warn("list failed recordings", logging.Error(err))
		}
		return 0
	}
	now := time.Now()
	submitted := 0
	for _, st := range failed {
		if st.RetriesExhausted(d.cfg.Pipeline.MaxStageRetries) {
			continue
		}
		if now.Sub(st.UpdatedAt) < retryBackoff(base, st.Retries[st.FailedStage]) {
			continue
		}
		if !fileutil.Exists(st.Path) {
			continue
		}
		rec := meeting.Recording{Path: st.Path, Fingerprint: st.Fingerprint, DiscoveredAt: st.DiscoveredAt, RecordedAt: st.RecordedAt}
		if d.submitWith(ctx, rec) {
			submitted++
		}
	}
	return submitted
}

func retryBackoff(base time.Duration, retries int) time.Duration {
	if retries <= 1 {
		return base
	}
	delay := base
	for i := 1; i < retries; i++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return delay
}

// RetryFailed resets failed recordings (optionally a subset) and resubmits
// the ones whose source is still present.
func (d *Daemon) RetryFailed(ctx context.Context, fingerprints []string) (int, error) {
	targets := fingerprints
	if len(targets) == 0 {
		failed, err := d.tracker.List(ctx, state.Filter{FailedOnly: true})
		if err != nil {
			return 0, err
		}
		for _, st := range failed {
			targets = append(targets, st.Fingerprint)
		}
	}
	n, err := d.tracker.RetryFailed(ctx, targets...)
	if err != nil {
		return n, err
	}
	if d.running.Load() {
		for _, fp := range targets {
			st, err := d.tracker.Get(ctx, fp)
			if err != nil || st == nil || !fileutil.Exists(st.Path) {
				continue
			}
			d.Submit(meeting.Recording{Path: st.Path, Fingerprint: st.Fingerprint, DiscoveredAt: st.DiscoveredAt, RecordedAt: st.RecordedAt})
		}
	}
	return n, nil
}

// ResetStuck clears stale claims.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	return d.tracker.ResetStale(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		DatabasePath:   d.store.Path(),
		LockFilePath:   d.lockPath,
		InputDir:       d.cfg.Paths.InputDir,
		WatcherRunning: d.watcher.Running(),
		Completed:      d.completed.Load(),
		Failed:         d.failed.Load(),
		Subscribers:    d.hub.Subscribers(),
		Dependencies:   deps.CheckBinaries(deps.MediaRequirements(d.cfg.FFmpegBinary(), d.cfg.FFprobeBinary())),
	}
	if status.Running {
		started := d.startedAt
		status.StartedAt = &started
	}
	d.mu.Lock()
	for fp := range d.inFlight {
		status.InFlight = append(status.InFlight, fp)
	}
	status.LastError = d.lastErr
	d.mu.Unlock()
	if counts, err := d.store.StageCounts(ctx); err == nil {
		status.Stages = counts
	} else {
		d.logger.Debug("stage counts unavailable", logging.Error(err))
	}
	return status
}
