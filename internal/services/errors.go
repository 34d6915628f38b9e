package services

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline taxonomy markers.
var (
	ErrSegmentation    = errors.New("segmentation error")
	ErrTranscription   = errors.New("transcription error")
	ErrAnalysis        = errors.New("analysis error")
	ErrStateConflict   = errors.New("state conflict")
	ErrEntityAmbiguity = errors.New("entity resolution ambiguity")
)

// Capability markers. Remote clients must return one of these (usually via
// CapabilityError) so orchestrators can decide whether to retry.
var (
	ErrRateLimited  = errors.New("rate limited")
	ErrTimeout      = errors.New("timeout")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidInput = errors.New("invalid input")
)

// Ambient markers.
var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrExternalTool  = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsTransient reports whether an error is a capability failure worth retrying.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInput):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return true
	default:
		return false
	}
}

// IsPermanent reports whether a stage failure should stop automatic retries.
// Segmentation failures cannot be fixed by trying again; configuration and
// validation failures need an operator.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrSegmentation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrValidation)
}

// Kind returns a short label for the outermost taxonomy marker found in err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, candidate := range []struct {
		marker error
		label  string
	}{
		{ErrSegmentation, "segmentation"},
		{ErrTranscription, "transcription"},
		{ErrAnalysis, "analysis"},
		{ErrStateConflict, "state_conflict"},
		{ErrRateLimited, "rate_limited"},
		{ErrTimeout, "timeout"},
		{ErrUnavailable, "unavailable"},
		{ErrInvalidInput, "invalid_input"},
		{ErrValidation, "validation"},
		{ErrConfiguration, "configuration"},
		{ErrNotFound, "not_found"},
		{ErrExternalTool, "external_tool"},
	} {
		if errors.Is(err, candidate.marker) {
			return candidate.label
		}
	}
	return "unknown"
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
