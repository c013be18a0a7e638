package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v5"
)

type HealthState string

const (
	StatePending HealthState = "pending"
	StateUp      HealthState = "up"
	StateDown    HealthState = "down"
	StateError   HealthState = "error"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

type ErrorKind string

const (
	ErrorKindDNSResolutionFailed ErrorKind = "dns_resolution_failed"
	ErrorKindHTTPError           ErrorKind = "http_error"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindConnectionFailed    ErrorKind = "connection_failed"
	ErrorKindInvalidURL          ErrorKind = "invalid_url"
	ErrorKindInternal            ErrorKind = "internal_error"
)

type EventKind string

const (
	EventKindStateChange         EventKind = "state_change"
	EventKindCertificateExpiring EventKind = "certificate_expiring"
)

// certificateWarningDays is the threshold below which an up monitor keeps
// raising certificate_expiring events.
const certificateWarningDays = 30

type TLSInfo struct {
	NotAfter        time.Time `json:"not_after"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
}

// ProbeResult is the raw outcome of a single probe.
type ProbeResult struct {
	OK         bool
	ErrorKind  ErrorKind
	Error      string
	StatusCode int
	Latency    time.Duration
	TLS        *TLSInfo
	Timings    ProbeTraceTimings
	CheckedAt  time.Time
}

// ErrProbeFailure wraps every failed probe outcome.
var ErrProbeFailure = errors.New("probe failed")

// Err returns nil for a successful probe.
func (r ProbeResult) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrProbeFailure, r.ErrorKind, r.Error)
}

// TransitionEvent is emitted by the classifier when a check warrants a notification.
type TransitionEvent struct {
	Monitor  Monitor
	Previous HealthState
	Next     HealthState
	Kind     EventKind
	Severity Severity
	Result   CheckResult
}

// ThrottleTopic is the topic the dispatcher throttles on. State changes
// throttle on the new state; certificate warnings keep a window of their own
// so they neither hide nor get hidden by up notifications.
func (e TransitionEvent) ThrottleTopic() string {
	if e.Kind == EventKindCertificateExpiring {
		return string(e.Kind)
	}
	return string(e.Next)
}

func nullIntFromPositive(v int) null.Int {
	if v <= 0 {
		return null.Int{}
	}
	return null.IntFrom(int64(v))
}
