package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CapabilityError is the normalized failure returned by remote capability
// clients. Kind is one of ErrRateLimited, ErrTimeout, ErrUnavailable or
// ErrInvalidInput.
type CapabilityError struct {
	Kind       error
	Capability string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *CapabilityError) Error() string {
	var b strings.Builder
	if e.Capability != "" {
		b.WriteString(e.Capability)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("capability failure")
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CapabilityError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// RetryAfterHint returns a server-provided retry delay if one was supplied.
func RetryAfterHint(err error) (time.Duration, bool) {
	var capErr *CapabilityError
	if errors.As(err, &capErr) && capErr.RetryAfter > 0 {
		return capErr.RetryAfter, true
	}
	return 0, false
}

// ClassifyHTTPStatus maps an HTTP response status to a capability marker.
func ClassifyHTTPStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= http.StatusInternalServerError:
		return ErrUnavailable
	case code >= http.StatusBadRequest:
		return ErrInvalidInput
	default:
		return ErrUnavailable
	}
}

// ClassifyTransportError maps a transport-level error (no HTTP response) to a
// CapabilityError. Caller cancellation is returned unchanged so it is never
// mistaken for a retryable failure.
func ClassifyTransportError(capability string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := ErrUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = ErrTimeout
	}
	return &CapabilityError{Kind: kind, Capability: capability, Err: err}
}

// ParseRetryAfter interprets a Retry-After header as delta seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
