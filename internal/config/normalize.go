package config

import (
	"fmt"
	"os"
	"strings"

	"meetingflow/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSegmentation()
	c.normalizeTranscription()
	c.normalizeAnalysis()
	c.normalizeEntities()
	c.normalizeTasks()
	c.normalizePipeline()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.input_dir", &c.Paths.InputDir, defaultInputDir},
		{"paths.processed_dir", &c.Paths.ProcessedDir, defaultProcessedDir},
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.vault_dir", &c.Paths.VaultDir, defaultVaultDir},
		{"paths.state_dir", &c.Paths.StateDir, defaultStateDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.quarantine_dir", &c.Paths.QuarantineDir, defaultQuarantineDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = envFirst("MEETINGFLOW_API_TOKEN")
	}
	return nil
}

func (c *Config) normalizeSegmentation() {
	if c.Segmentation.MaxPayloadMB <= 0 {
		c.Segmentation.MaxPayloadMB = defaultMaxPayloadMB
	}
	if c.Segmentation.TargetBitrateKbps <= 0 {
		c.Segmentation.TargetBitrateKbps = defaultTargetBitrateKbps
	}
	if c.Segmentation.OverlapSeconds < 0 {
		c.Segmentation.OverlapSeconds = 0
	}
	if c.Segmentation.MaxSegmentMinutes <= 0 {
		c.Segmentation.MaxSegmentMinutes = defaultMaxSegmentMinutes
	}
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.APIKey = strings.TrimSpace(t.APIKey)
	if t.APIKey == "" {
		t.APIKey = envFirst("TRANSCRIPTION_API_KEY", "OPENAI_API_KEY")
	}
	t.BaseURL = strings.TrimSpace(t.BaseURL)
	if t.BaseURL == "" {
		t.BaseURL = defaultTranscriptionBaseURL
	}
	t.Model = strings.TrimSpace(t.Model)
	if t.Model == "" {
		t.Model = defaultTranscriptionModel
	}
	t.Language = language.ToISO2(t.Language)
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = defaultTranscriptionTimeout
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = defaultMaxAttempts
	}
	if t.RetryBaseMillis < 0 {
		t.RetryBaseMillis = defaultRetryBaseMillis
	}
	if t.RetryMaxSeconds <= 0 {
		t.RetryMaxSeconds = defaultRetryMaxSeconds
	}
	if t.Concurrency <= 0 {
		t.Concurrency = defaultTranscriptionConcurrency
	}
	if t.OverlapSimilarity <= 0 {
		t.OverlapSimilarity = defaultOverlapSimilarity
	}
}

func (c *Config) normalizeAnalysis() {
	a := &c.Analysis
	a.APIKey = strings.TrimSpace(a.APIKey)
	if a.APIKey == "" {
		a.APIKey = envFirst("ANALYSIS_API_KEY", "OPENROUTER_API_KEY")
	}
	a.BaseURL = strings.TrimSpace(a.BaseURL)
	if a.BaseURL == "" {
		a.BaseURL = defaultAnalysisBaseURL
	}
	a.Model = strings.TrimSpace(a.Model)
	if a.Model == "" {
		a.Model = defaultAnalysisModel
	}
	a.Referer = strings.TrimSpace(a.Referer)
	if a.Referer == "" {
		a.Referer = defaultAnalysisReferer
	}
	a.Title = strings.TrimSpace(a.Title)
	if a.Title == "" {
		a.Title = defaultAnalysisTitle
	}
	if a.TimeoutSeconds <= 0 {
		a.TimeoutSeconds = defaultAnalysisTimeout
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = defaultMaxAttempts
	}
	if a.RetryBaseMillis < 0 {
		a.RetryBaseMillis = defaultRetryBaseMillis
	}
	if a.RetryMaxSeconds <= 0 {
		a.RetryMaxSeconds = defaultRetryMaxSeconds
	}
	if a.MaxContextChars <= 0 {
		a.MaxContextChars = defaultMaxContextChars
	}
	if a.ChunkChars <= 0 {
		a.ChunkChars = defaultChunkChars
	}
	if a.ChunkChars > a.MaxContextChars {
		a.ChunkChars = a.MaxContextChars
	}
}

func (c *Config) normalizeEntities() {
	c.Entities.Employer = strings.TrimSpace(c.Entities.Employer)
	c.Entities.KnownDomains = normalizeList(c.Entities.KnownDomains, strings.ToLower)
	if c.Entities.FuzzyThreshold <= 0 {
		c.Entities.FuzzyThreshold = defaultFuzzyThreshold
	}
	c.Entities.TechnologyKeywords = normalizeList(c.Entities.TechnologyKeywords, nil)
}

func (c *Config) normalizeTasks() {
	c.Tasks.CriticalKeywords = normalizeList(c.Tasks.CriticalKeywords, strings.ToLower)
	c.Tasks.HighKeywords = normalizeList(c.Tasks.HighKeywords, strings.ToLower)
	c.Tasks.LowKeywords = normalizeList(c.Tasks.LowKeywords, strings.ToLower)
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = defaultMaxConcurrent
	}
	if p.MaxStageRetries <= 0 {
		p.MaxStageRetries = defaultMaxStageRetries
	}
	if p.HeartbeatIntervalSeconds <= 0 {
		p.HeartbeatIntervalSeconds = defaultHeartbeatIntervalSeconds
	}
	if p.HeartbeatTimeoutSeconds <= 0 {
		p.HeartbeatTimeoutSeconds = defaultHeartbeatTimeoutSeconds
	}
	if p.ScanIntervalSeconds <= 0 {
		p.ScanIntervalSeconds = defaultScanIntervalSeconds
	}
	if p.StabilizationSeconds < 0 {
		p.StabilizationSeconds = 0
	}
	p.FingerprintMode = strings.ToLower(strings.TrimSpace(p.FingerprintMode))
	if p.FingerprintMode == "" {
		p.FingerprintMode = defaultFingerprintMode
	}
	exts := normalizeList(p.Extensions, func(s string) string {
		s = strings.ToLower(s)
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		return s
	})
	if len(exts) == 0 {
		exts = append([]string(nil), defaultExtensions...)
	}
	p.Extensions = exts
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = envFirst("NTFY_TOPIC")
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotificationRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json", "auto":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func normalizeList(values []string, transform func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if transform != nil {
			value = transform(value)
		}
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}
