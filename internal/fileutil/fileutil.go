// Package fileutil holds file helpers shared by the watcher and pipeline:
// content fingerprints, atomic writes and collision-safe archive moves.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Fingerprint modes.
const (
	ModeSHA256 = "sha256"
	ModeStat   = "stat"
)

// archiveSuffixLayout is appended to a colliding archive name.
const archiveSuffixLayout = "20060102_150405"

// Fingerprint identifies a file by content hash, or by a size and mtime
// composite in stat mode.
func Fingerprint(path, mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeSHA256:
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("hash %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	case ModeStat:
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unknown fingerprint mode %q", mode)
	}
}

// WriteFileAtomic writes data to a temp file beside path and renames it into
// place so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// ArchiveTarget returns the destination for src inside dir. An existing file
// with the same name yields name_YYYYmmdd_HHMMSS.ext, then a numeric suffix
// if that is taken too.
func ArchiveTarget(src, dir string, now time.Time) string {
	base := filepath.Base(src)
	target := filepath.Join(dir, base)
	if !exists(target) {
		return target
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamped := fmt.Sprintf("%s_%s", stem, now.Format(archiveSuffixLayout))
	target = filepath.Join(dir, stamped+ext)
	for n := 2; exists(target); n++ {
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stamped, n, ext))
	}
	return target
}

// ArchiveMove moves src into dir and returns the final path.
func ArchiveMove(src, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	target := ArchiveTarget(src, dir, now)
	if err := Move(src, target); err != nil {
		return "", err
	}
	return target, nil
}

// Move renames src to target. Moves across filesystems fall back to a
// verified copy followed by removal of src.
func Move(src, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	err := os.Rename(src, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}
	if err := CopyFileVerified(src, target); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	return exists(path)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}
