package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"meetingflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "segmented", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"segmented", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestPermanentClassification(t *testing.T) {
	segErr := services.Wrap(services.ErrSegmentation, "segmented", "plan", "too large", nil)
	if !services.IsPermanent(segErr) {
		t.Fatal("expected segmentation failure to be permanent")
	}
	txErr := services.Wrap(services.ErrTranscription, "transcribed", "segment 3", "", services.ErrTimeout)
	if services.IsPermanent(txErr) {
		t.Fatal("expected transcription failure to be retryable")
	}
	if services.Kind(txErr) != "transcription" {
		t.Fatalf("unexpected kind %q", services.Kind(txErr))
	}
}

func TestCapabilityErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		want      error
		transient bool
	}{
		{name: "rate limit", status: http.StatusTooManyRequests, want: services.ErrRateLimited, transient: true},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, want: services.ErrTimeout, transient: true},
		{name: "server error", status: http.StatusBadGateway, want: services.ErrUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest, want: services.ErrInvalidInput, transient: false},
		{name: "too large", status: http.StatusRequestEntityTooLarge, want: services.ErrInvalidInput, transient: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := &services.CapabilityError{
				Kind:       services.ClassifyHTTPStatus(tc.status),
				Capability: "stt",
				StatusCode: tc.status,
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := services.IsTransient(fmt.Errorf("wrapped: %w", err)); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("call: %w", &services.CapabilityError{Kind: services.ErrRateLimited, RetryAfter: 3 * time.Second})
	delay, ok := services.RetryAfterHint(err)
	if !ok || delay != 3*time.Second {
		t.Fatalf("unexpected hint %v %v", delay, ok)
	}
	if _, ok := services.RetryAfterHint(errors.New("plain")); ok {
		t.Fatal("expected no hint for plain error")
	}
}

func TestClassifyTransportError(t *testing.T) {
	if err := services.ClassifyTransportError("llm", context.Canceled); !errors.Is(err, context.Canceled) || services.IsTransient(err) {
		t.Fatalf("expected cancellation to pass through untouched, got %v", err)
	}
	err := services.ClassifyTransportError("llm", context.DeadlineExceeded)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout marker, got %v", err)
	}
	err = services.ClassifyTransportError("llm", errors.New("connection reset"))
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected unavailable marker, got %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := services.ParseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected seconds parse: %v %v", d, ok)
	}
	if _, ok := services.ParseRetryAfter("-1"); ok {
		t.Fatal("expected negative to be rejected")
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if d, ok := services.ParseRetryAfter(future); !ok || d <= 0 {
		t.Fatalf("unexpected date parse: %v %v", d, ok)
	}
}
