// Package staging manages the per-recording work directories under
// paths.work_dir, where every stage persists its artifacts.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meetingflow/internal/logging"
)

// Result contains the outcome of a cleanup pass.
type Result struct {
	Removed []string
	Freed   int64
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanOrphaned removes work directories last modified before cutoff whose
// name is not a fingerprint in the ledger. Such directories are left behind
// when the database is reset. The cutoff keeps directories of a run that
// started after known was read.
func CleanOrphaned(ctx context.Context, workDir string, known map[string]struct{}, cutoff time.Time, dryRun bool, logger *slog.Logger) Result {
	return sweep(ctx, workDir, dryRun, logger, "orphaned", func(dir DirInfo) bool {
		_, ok := known[dir.Name]
		return !ok && dir.ModTime.Before(cutoff)
	})
}

// CleanArchived removes work directories of recordings archived before
// cutoff. archived maps fingerprint to archive time.
func CleanArchived(ctx context.Context, workDir string, archived map[string]time.Time, cutoff time.Time, dryRun bool, logger *slog.Logger) Result {
	return sweep(ctx, workDir, dryRun, logger, "archived", func(dir DirInfo) bool {
		at, ok := archived[dir.Name]
		return ok && at.Before(cutoff)
	})
}

func sweep(ctx context.Context, workDir string, dryRun bool, logger *slog.Logger, reason string, match func(DirInfo) bool) Result {
	result := Result{}
	dirs, err := ListDirectories(workDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if !match(dir) {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(dir.Path); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
				logger.Warn("failed to remove work directory",
					logging.String("path", dir.Path),
					logging.String("reason", reason),
					logging.Error(err),
					logging.String(logging.FieldEventType, "workdir_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check work_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
				continue
			}
			logger.Info("removed work directory",
				logging.String("path", dir.Path),
				logging.String("reason", reason),
				logging.Int64("bytes", dir.Size),
				logging.String(logging.FieldEventType, "workdir_cleanup"),
			)
		}
		result.Removed = append(result.Removed, dir.Path)
		result.Freed += dir.Size
	}
	return result
}

// ListDirectories returns all directories in the work directory with their metadata.
func ListDirectories(workDir string) ([]DirInfo, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		dirPath := filepath.Join(workDir, entry.Name())
		size, _ := dirSize(dirPath)

		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}

	return dirs, nil
}

// DirInfo contains metadata about one recording's work directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
