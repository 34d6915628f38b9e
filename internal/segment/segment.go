package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"meetingflow/internal/logging"
	"meetingflow/internal/media/ffprobe"
	"meetingflow/internal/services"
)

const stageName = "segment"

// Segment is one planned slice of a recording. Offsets are seconds.
type Segment struct {
	Index          int     `json:"index"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	EstimatedBytes int64   `json:"estimated_bytes"`
	// OverlapBefore is the length shared with the previous segment; 0 for index 0.
	OverlapBefore float64 `json:"overlap_before"`
	Path          string  `json:"-"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Limits bounds segment sizing.
type Limits struct {
	MaxPayloadBytes   int64
	OverlapSeconds    float64
	MaxSegmentSeconds float64
}

// Plan computes dense, ordered segment boundaries for a recording of
// durationSeconds encoded at bitrateBps bits per second.
func Plan(durationSeconds float64, bitrateBps int64, limits Limits) ([]Segment, error) {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return nil, planError("invalid duration %v", durationSeconds)
	}
	if bitrateBps <= 0 {
		return nil, planError("invalid bitrate %d", bitrateBps)
	}
	if limits.MaxPayloadBytes <= 0 {
		return nil, planError("invalid payload limit %d", limits.MaxPayloadBytes)
	}
	bytesPerSecond := float64(bitrateBps) / 8
	if bytesPerSecond > float64(limits.MaxPayloadBytes) {
		return nil, planError("one second of audio (%.0f bytes) exceeds the %d byte payload limit", bytesPerSecond, limits.MaxPayloadBytes)
	}

	if total := durationSeconds * bytesPerSecond; total <= float64(limits.MaxPayloadBytes) {
		return []Segment{{
			Index:          0,
			Start:          0,
			End:            durationSeconds,
			EstimatedBytes: int64(math.Ceil(total)),
		}}, nil
	}

	window := math.Floor(float64(limits.MaxPayloadBytes) / bytesPerSecond)
	if limits.MaxSegmentSeconds > 0 && window > limits.MaxSegmentSeconds {
		window = limits.MaxSegmentSeconds
	}
	overlap := math.Max(limits.OverlapSeconds, 0)
	if overlap >= window {
		return nil, planError("overlap %.1fs must be shorter than the %.1fs segment window", overlap, window)
	}
	stride := window - overlap

	var segments []Segment
	for start := 0.0; ; start += stride {
		end := math.Min(start+window, durationSeconds)
		seg := Segment{
			Index:          len(segments),
			Start:          start,
			End:            end,
			EstimatedBytes: int64(math.Ceil((end - start) * bytesPerSecond)),
		}
		if seg.Index > 0 {
			seg.OverlapBefore = overlap
		}
		segments = append(segments, seg)
		if end >= durationSeconds {
			break
		}
	}
	return segments, nil
}

func planError(format string, args ...any) error {
	return services.Wrap(services.ErrSegmentation, stageName, "plan", fmt.Sprintf(format, args...), nil)
}

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config configures a Segmenter.
type Config struct {
	Limits
	BitrateKbps   int
	FFmpegBinary  string
	FFprobeBinary string
	WorkDir       string
}

// Segmenter probes recordings, plans segments and materializes their audio.
type Segmenter struct {
	cfg        Config
	logger     *slog.Logger
	run        CommandRunner
	probe      func(ctx context.Context, binary, path string) (ffprobe.Summary, error)
	spaceCheck func(dir string, need int64) error
}

// Option customizes a Segmenter.
type Option func(*Segmenter)

// WithCommandRunner replaces ffmpeg execution (tests).
func WithCommandRunner(run CommandRunner) Option {
	return func(s *Segmenter) {
		if run != nil {
			s.run = run
		}
	}
}

// WithProbe replaces ffprobe inspection (tests).
func WithProbe(probe func(ctx context.Context, binary, path string) (ffprobe.Summary, error)) Option {
	return func(s *Segmenter) {
		if probe != nil {
			s.probe = probe
		}
	}
}

// WithSpaceCheck installs a free-space preflight run before materialization.
func WithSpaceCheck(check func(dir string, need int64) error) Option {
	return func(s *Segmenter) { s.spaceCheck = check }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a Segmenter.
func New(cfg Config, opts ...Option) *Segmenter {
	if strings.TrimSpace(cfg.FFmpegBinary) == "" {
		cfg.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(cfg.FFprobeBinary) == "" {
		cfg.FFprobeBinary = "ffprobe"
	}
	s := &Segmenter{
		cfg:    cfg,
		logger: logging.NewNop(),
		run:    runCommand,
		probe:  ffprobe.Probe,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "segmenter")
	return s
}

// BitrateBps returns the re-encode bitrate used for sizing.
func (s *Segmenter) BitrateBps() int64 {
	return int64(s.cfg.BitrateKbps) * 1000
}

// Probe returns the recording duration in seconds.
func (s *Segmenter) Probe(ctx context.Context, path string) (float64, error) {
	summary, err := s.probe(ctx, s.cfg.FFprobeBinary, path)
	if err != nil {
		if errors.Is(err, ffprobe.ErrNoAudio) {
			return 0, services.Wrap(services.ErrSegmentation, stageName, "probe", "recording has no audio stream", err)
		}
		return 0, services.Wrap(services.ErrExternalTool, stageName, "probe", "ffprobe failed", err)
	}
	return summary.DurationSeconds, nil
}

// Plan sizes segments using the configured limits.
func (s *Segmenter) Plan(durationSeconds float64, bitrateBps int64) ([]Segment, error) {
	return Plan(durationSeconds, bitrateBps, s.cfg.Limits)
}

// Workspace holds materialized segment payloads.
type Workspace struct {
	Dir      string
	Segments []Segment
}

// Close removes the workspace directory and its payloads.
func (w *Workspace) Close() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

// Materialize encodes the requested segments of source into a new temporary
// directory under the work dir.
func (s *Segmenter) Materialize(ctx context.Context, source string, segments []Segment) (_ *Workspace, err error) {
	base := s.cfg.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "materialize", "create work dir", err)
	}
	if s.spaceCheck != nil {
		var need int64
		for _, seg := range segments {
			need += seg.EstimatedBytes
		}
		if err := s.spaceCheck(base, need); err != nil {
			return nil, err
		}
	}

	dir, err := os.MkdirTemp(base, "segments-")
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "materialize", "create segment dir", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()
	out := &Workspace{Dir: dir}

	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg.Path = filepath.Join(dir, fmt.Sprintf("segment_%03d.mp3", seg.Index))
		if output, runErr := s.run(ctx, s.cfg.FFmpegBinary, s.extractArgs(source, seg)...); runErr != nil {
			return nil, services.Wrap(services.ErrExternalTool, stageName, "materialize",
				fmt.Sprintf("ffmpeg segment %d: %s", seg.Index, strings.TrimSpace(string(output))), runErr)
		}
		out.Segments = append(out.Segments, seg)
	}
	s.logger.Debug("segments materialized",
		logging.String("dir", dir),
		logging.Int("count", len(out.Segments)),
	)
	return out, nil
}

func (s *Segmenter) extractArgs(source string, seg Segment) []string {
	bitrate := s.cfg.BitrateKbps
	if bitrate <= 0 {
		bitrate = 64
	}
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(seg.Start, 'f', 3, 64),
		"-t", strconv.FormatFloat(seg.Duration(), 'f', 3, 64),
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrate),
		seg.Path,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}
