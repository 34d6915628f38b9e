// Package watcher detects finished recordings in the input directory.
//
// The directory is polled rather than watched through inotify so that
// network mounts and synced folders behave the same as local disks. A file
// is submitted once its size and modification time have been unchanged for
// the stabilization window.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"meetingflow/internal/config"
	"meetingflow/internal/fileutil"
	"meetingflow/internal/logging"
	"meetingflow/internal/meeting"
)

const defaultScanInterval = 10 * time.Second

// Submitter receives recordings that are ready for processing.
type Submitter func(ctx context.Context, rec meeting.Recording)

// Config controls scanning.
type Config struct {
	Dir             string
	Extensions      []string
	ScanInterval    time.Duration
	Stabilization   time.Duration
	FingerprintMode string
}

// ConfigFromConfig maps configuration onto watcher settings.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		Dir:             cfg.Paths.InputDir,
		Extensions:      cfg.Pipeline.Extensions,
		ScanInterval:    time.Duration(cfg.Pipeline.ScanIntervalSeconds) * time.Second,
		Stabilization:   time.Duration(cfg.Pipeline.StabilizationSeconds) * time.Second,
		FingerprintMode: cfg.Pipeline.FingerprintMode,
	}
}

type candidate struct {
	size        int64
	modTime     time.Time
	stableSince time.Time
	submitted   bool
}

// Watcher polls a directory and submits stable recordings.
type Watcher struct {
	cfg         Config
	submit      Submitter
	logger      *slog.Logger
	now         func() time.Time
	fingerprint func(path, mode string) (string, error)
	extensions  map[string]bool

	mu      sync.Mutex
	tracked map[string]*candidate
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithFingerprinter overrides content fingerprinting.
func WithFingerprinter(fn func(path, mode string) (string, error)) Option {
	return func(w *Watcher) {
		if fn != nil {
			w.fingerprint = fn
		}
	}
}

// New constructs a Watcher.
func New(cfg Config, submit Submitter, opts ...Option) *Watcher {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.FingerprintMode == "" {
		cfg.FingerprintMode = fileutil.ModeSHA256
	}
	w := &Watcher{
		cfg:         cfg,
		submit:      submit,
		logger:      logging.NewNop(),
		now:         time.Now,
		fingerprint: fileutil.Fingerprint,
		extensions:  make(map[string]bool, len(cfg.Extensions)),
		tracked:     make(map[string]*candidate),
	}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.extensions[ext] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	return w
}

// Start launches the polling loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}
	if strings.TrimSpace(w.cfg.Dir) == "" {
		return errors.New("watcher input directory not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	go w.loop(runCtx)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

// Running reports whether the loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	w.scanAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanAndLog(ctx)
		}
	}
}

func (w *Watcher) scanAndLog(ctx context.Context) {
	if _, err := w.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(w.logger, "input scan failed", "watcher_scan_failed",
			logging.String("dir", w.cfg.Dir),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that paths.input_dir exists and is readable"),
			logging.String(logging.FieldImpact, "new recordings are not picked up until the next successful scan"),
		)
	}
}

// Scan runs one polling pass and returns the recordings it submitted.
func (w *Watcher) Scan(ctx context.Context) ([]meeting.Recording, error) {
	now := w.now()
	present := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(w.cfg.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == w.cfg.Dir {
				return walkErr
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if path != w.cfg.Dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !w.accepts(name) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		present[path] = info
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	for path := range w.tracked {
		if _, ok := present[path]; !ok {
			delete(w.tracked, path)
		}
	}
	var ready []string
	for path, info := range present {
		c, ok := w.tracked[path]
		if !ok {
			c = &candidate{size: info.Size(), modTime: info.ModTime(), stableSince: now}
			w.tracked[path] = c
		} else if c.size != info.Size() || !c.modTime.Equal(info.ModTime()) {
			c.size = info.Size()
			c.modTime = info.ModTime()
			c.stableSince = now
			c.submitted = false
		}
		if !c.submitted && now.Sub(c.stableSince) >= w.cfg.Stabilization {
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()
	slices.Sort(ready)

	var submitted []meeting.Recording
	for _, path := range ready {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		fp, err := w.fingerprint(path, w.cfg.FingerprintMode)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			logging.WarnWithContext(w.logger, "fingerprint failed", "watcher_fingerprint_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check file permissions"),
				logging.String(logging.FieldImpact, "the file is retried on the next scan"),
			)
			continue
		}
		info := present[path]
		rec := meeting.Recording{
			Path:         path,
			Fingerprint:  fp,
			DiscoveredAt: now.UTC(),
			RecordedAt:   info.ModTime().UTC(),
		}
		w.mu.Lock()
		if c, ok := w.tracked[path]; ok {
			c.submitted = true
		}
		w.mu.Unlock()
		w.logger.Debug("recording ready",
			logging.String("path", path),
			logging.String(logging.FieldFingerprint, fp),
		)
		if w.submit != nil {
			w.submit(ctx, rec)
		}
		submitted = append(submitted, rec)
	}
	return submitted, nil
}

// Forget drops path from the stabilization table so the next scan
// reconsiders it from scratch.
func (w *Watcher) Forget(path string) {
	w.mu.Lock()
	delete(w.tracked, path)
	w.mu.Unlock()
}

func (w *Watcher) accepts(name string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}

// RecordingFor builds a Recording for a single file outside the polling
// loop, as the one-shot CLI does.
func RecordingFor(path, mode string) (meeting.Recording, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return meeting.Recording{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return meeting.Recording{}, err
	}
	if info.IsDir() {
		return meeting.Recording{}, errors.New(abs + " is a directory")
	}
	if mode == "" {
		mode = fileutil.ModeSHA256
	}
	fp, err := fileutil.Fingerprint(abs, mode)
	if err != nil {
		return meeting.Recording{}, err
	}
	return meeting.Recording{
		Path:         abs,
		Fingerprint:  fp,
		DiscoveredAt: time.Now().UTC(),
		RecordedAt:   info.ModTime().UTC(),
	}, nil
}
