package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	InputDir      string `toml:"input_dir"`
	ProcessedDir  string `toml:"processed_dir"`
	WorkDir       string `toml:"work_dir"`
	VaultDir      string `toml:"vault_dir"`
	StateDir      string `toml:"state_dir"`
	LogDir        string `toml:"log_dir"`
	QuarantineDir string `toml:"quarantine_dir"`
	APIBind       string `toml:"api_bind"`
	APIToken      string `toml:"api_token"`
}

// Segmentation controls how recordings are cut for the transcription service.
type Segmentation struct {
	MaxPayloadMB      int `toml:"max_payload_mb"`
	TargetBitrateKbps int `toml:"target_bitrate_kbps"`
	OverlapSeconds    int `toml:"overlap_seconds"`
	MaxSegmentMinutes int `toml:"max_segment_minutes"`
}

// Transcription contains the remote speech-to-text settings.
type Transcription struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	Model             string  `toml:"model"`
	Language          string  `toml:"language"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxAttempts       int     `toml:"max_attempts"`
	RetryBaseMillis   int     `toml:"retry_base_ms"`
	RetryMaxSeconds   int     `toml:"retry_max_seconds"`
	Concurrency       int     `toml:"concurrency"`
	OverlapSimilarity float64 `toml:"overlap_similarity"`
}

// Analysis contains the remote text-analysis (LLM) settings.
type Analysis struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	Model           string `toml:"model"`
	Referer         string `toml:"referer"`
	Title           string `toml:"title"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxAttempts     int    `toml:"max_attempts"`
	RetryBaseMillis int    `toml:"retry_base_ms"`
	RetryMaxSeconds int    `toml:"retry_max_seconds"`
	MaxContextChars int    `toml:"max_context_chars"`
	ChunkChars      int    `toml:"chunk_chars"`
}

// Entities contains entity resolution settings.
type Entities struct {
	Employer           string   `toml:"employer"`
	KnownDomains       []string `toml:"known_domains"`
	FuzzyThreshold     float64  `toml:"fuzzy_threshold"`
	TechnologyKeywords []string `toml:"technology_keywords"`
}

// Tasks contains task inference settings.
type Tasks struct {
	CriticalKeywords []string `toml:"critical_keywords"`
	HighKeywords     []string `toml:"high_keywords"`
	LowKeywords      []string `toml:"low_keywords"`
}

// Pipeline contains coordinator and watcher timing.
type Pipeline struct {
	MaxConcurrent            int      `toml:"max_concurrent"`
	MaxStageRetries          int      `toml:"max_stage_retries"`
	HeartbeatIntervalSeconds int      `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int      `toml:"heartbeat_timeout_seconds"`
	ScanIntervalSeconds      int      `toml:"scan_interval_seconds"`
	StabilizationSeconds     int      `toml:"stabilization_seconds"`
	FingerprintMode          string   `toml:"fingerprint_mode"`
	Extensions               []string `toml:"extensions"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for meetingflow.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Segmentation: payload limit, bitrate, overlap window
//   - Transcription: speech-to-text endpoint and retry policy
//   - Analysis: LLM endpoint, retry policy, context limits
//   - Entities: employer context and fuzzy matching threshold
//   - Tasks: urgency keyword lists
//   - Pipeline: concurrency, heartbeat, watcher timing
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Segmentation  Segmentation  `toml:"segmentation"`
	Transcription Transcription `toml:"transcription"`
	Analysis      Analysis      `toml:"analysis"`
	Entities      Entities      `toml:"entities"`
	Tasks         Tasks         `toml:"tasks"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("meetingflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The vault directory is created on a best-effort basis so the daemon can run
// when a synced vault is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.Paths.InputDir,
		c.Paths.ProcessedDir,
		c.Paths.WorkDir,
		c.Paths.StateDir,
		c.Paths.LogDir,
		c.Paths.QuarantineDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.VaultDir) != "" {
		_ = os.MkdirAll(c.Paths.VaultDir, 0o755)
	}
	return nil
}

// RequireCapabilities reports an error when remote credentials are missing.
// Read-only CLI commands skip this check; anything that runs the pipeline
// calls it first.
func (c *Config) RequireCapabilities() error {
	if strings.TrimSpace(c.Transcription.APIKey) == "" {
		return fmt.Errorf("transcription.api_key is required. Set TRANSCRIPTION_API_KEY or OPENAI_API_KEY, or edit %s (create with 'meetingflow config init')", c.displayConfigPath())
	}
	if strings.TrimSpace(c.Analysis.APIKey) == "" {
		return fmt.Errorf("analysis.api_key is required. Set ANALYSIS_API_KEY or OPENROUTER_API_KEY, or edit %s", c.displayConfigPath())
	}
	return nil
}

func (c *Config) displayConfigPath() string {
	path, err := DefaultConfigPath()
	if err != nil {
		return defaultConfigPath
	}
	return path
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "meetingflow.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "meetingflowd.lock")
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for duration probing.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// MaxPayloadBytes returns the transcription payload ceiling in bytes.
func (c *Config) MaxPayloadBytes() int64 {
	return int64(c.Segmentation.MaxPayloadMB) * 1024 * 1024
}

// HeartbeatInterval returns the claim refresh period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Pipeline.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns the age after which a claim is considered stale.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Pipeline.HeartbeatTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML. API secrets are masked.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	clone.Transcription.APIKey = maskSecret(clone.Transcription.APIKey)
	clone.Analysis.APIKey = maskSecret(clone.Analysis.APIKey)
	clone.Paths.APIToken = maskSecret(clone.Paths.APIToken)
	return toml.Marshal(clone)
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "********"
}
