package faults

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindRateLimited      Kind = "rate_limited"
	KindAuthFailure      Kind = "auth_failure"
	KindValidation       Kind = "validation"
	KindNoInventory      Kind = "no_inventory"
	KindPrivacyViolation Kind = "privacy_violation"
	KindServerError      Kind = "server_error"
	KindSDKIntegration   Kind = "sdk_integration"
	KindUnknown          Kind = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var taxonomy = map[Kind]struct {
	retryable bool
	severity  Severity
}{
	KindNetwork:          {true, SeverityMedium},
	KindTimeout:          {true, SeverityMedium},
	KindRateLimited:      {true, SeverityMedium},
	KindAuthFailure:      {false, SeverityHigh},
	KindValidation:       {false, SeverityMedium},
	KindNoInventory:      {false, SeverityMedium},
	KindPrivacyViolation: {false, SeverityCritical},
	KindServerError:      {true, SeverityMedium},
	KindSDKIntegration:   {false, SeverityHigh},
	KindUnknown:          {false, SeverityMedium},
}

// Fault is a classified failure. Created once at the point a raw failure is
// observed and never mutated afterwards, except for the severity re-tag on
// retry exhaustion.
type Fault struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Retryable  bool              `json:"retryable"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code,omitempty"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Context    map[string]string `json:"context,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	wrapped    error
}

func (f *Fault) Error() string {
	if f.Message != "" {
		return string(f.Kind) + ": " + f.Message
	}
	return string(f.Kind)
}

func (f *Fault) Unwrap() error {
	return f.wrapped
}

// TroubleshootingURL points callers at remediation docs for the fault kind.
func (f *Fault) TroubleshootingURL() string {
	return "https://docs.sai-ads.dev/troubleshooting#" + string(f.Kind)
}

func New(kind Kind, message string, cause error) *Fault {
	defaults, ok := taxonomy[kind]
	if !ok {
		kind = KindUnknown
		defaults = taxonomy[KindUnknown]
	}

	return &Fault{
		ID:        uuid.NewString(),
		Kind:      kind,
		Retryable: defaults.retryable,
		Severity:  defaults.severity,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		wrapped:   cause,
	}
}

func (f *Fault) WithContext(key, value string) *Fault {
	f.Context[key] = value
	return f
}

// FromStatus maps a non-2xx ad-server status to a fault kind.
func FromStatus(status int, message string) *Fault {
	var f *Fault

	switch {
	case status == 401:
		f = New(KindAuthFailure, message, nil)
	case status == 403:
		f = New(KindPrivacyViolation, message, nil)
	case status == 404:
		f = New(KindNoInventory, message, nil)
	case status == 408:
		f = New(KindTimeout, message, nil)
	case status == 429:
		f = New(KindRateLimited, message, nil)
	case status >= 500:
		f = New(KindServerError, message, nil)
	default:
		f = New(KindUnknown, message, nil)
		f.Retryable = false
	}

	f.StatusCode = status
	return f
}

// From classifies an arbitrary error. Already-classified faults pass
// through unchanged; cancellation surfaces as Timeout, not Network.
func From(err error) *Fault {
	if err == nil {
		return nil
	}

	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	switch {
	case isTimeout(err):
		return New(KindTimeout, err.Error(), err)
	case isNetwork(err):
		return New(KindNetwork, err.Error(), err)
	default:
		return New(KindUnknown, err.Error(), err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetwork(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
