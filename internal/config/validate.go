package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	"meetingflow/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	s := c.Segmentation
	if s.OverlapSeconds >= s.MaxSegmentMinutes*60 {
		return errors.New("segmentation.overlap_seconds must be shorter than segmentation.max_segment_minutes")
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	for key, raw := range map[string]string{
		"transcription.base_url": c.Transcription.BaseURL,
		"analysis.base_url":      c.Analysis.BaseURL,
	} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
		}
	}
	return nil
}

func (c *Config) validateThresholds() error {
	if _, err := language.Normalize(c.Transcription.Language); err != nil {
		return fmt.Errorf("transcription.language: %w", err)
	}
	if c.Transcription.OverlapSimilarity > 1 {
		return errors.New("transcription.overlap_similarity must be between 0 and 1")
	}
	if c.Entities.FuzzyThreshold > 1 {
		return errors.New("entities.fuzzy_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.HeartbeatTimeoutSeconds <= c.Pipeline.HeartbeatIntervalSeconds {
		return errors.New("pipeline.heartbeat_timeout_seconds must be greater than pipeline.heartbeat_interval_seconds")
	}
	switch c.Pipeline.FingerprintMode {
	case "sha256", "stat":
	default:
		return fmt.Errorf("pipeline.fingerprint_mode must be sha256 or stat, got %q", c.Pipeline.FingerprintMode)
	}
	return ensurePositiveMap(map[string]int{
		"pipeline.max_concurrent":          c.Pipeline.MaxConcurrent,
		"pipeline.scan_interval_seconds":   c.Pipeline.ScanIntervalSeconds,
		"transcription.concurrency":        c.Transcription.Concurrency,
		"transcription.max_attempts":       c.Transcription.MaxAttempts,
		"analysis.max_attempts":            c.Analysis.MaxAttempts,
		"notifications.request_timeout":    c.Notifications.RequestTimeout,
		"segmentation.target_bitrate_kbps": c.Segmentation.TargetBitrateKbps,
	})
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
