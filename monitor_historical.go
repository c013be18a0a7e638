package main

import (
	"time"

	"github.com/guregu/null/v5"
)

// CheckResult is one append-only history row for a monitor.
type CheckResult struct {
	ID               string            `db:"id" json:"id"`
	MonitorID        string            `db:"monitor_id" json:"monitor_id"`
	State            HealthState       `db:"state" json:"state"`
	LatencyMs        null.Int          `db:"latency_ms" json:"latency_ms"`
	StatusCode       null.Int          `db:"status_code" json:"status_code"`
	Error            null.String       `db:"error" json:"error"`
	ErrorKind        null.String       `db:"error_kind" json:"error_kind"`
	TlsDaysRemaining null.Int          `db:"tls_days_remaining" json:"tls_days_remaining"`
	TlsExpiry        null.Time         `db:"tls_expiry" json:"tls_expiry"`
	Timings          ProbeTraceTimings `json:"timings"`
	CheckedAt        time.Time         `db:"checked_at" json:"checked_at"`
}

func NewCheckResult(id string, monitorID string, state HealthState, result ProbeResult) CheckResult {
	checkResult := CheckResult{
		ID:         id,
		MonitorID:  monitorID,
		State:      state,
		StatusCode: nullIntFromPositive(result.StatusCode),
		Timings:    result.Timings,
		CheckedAt:  result.CheckedAt,
	}
	if result.Latency > 0 {
		checkResult.LatencyMs = null.IntFrom(result.Latency.Milliseconds())
	}
	if result.Error != "" {
		checkResult.Error = null.StringFrom(result.Error)
	}
	if result.ErrorKind != "" {
		checkResult.ErrorKind = null.StringFrom(string(result.ErrorKind))
	}
	if result.TLS != nil {
		checkResult.TlsDaysRemaining = null.IntFrom(int64(result.TLS.DaysUntilExpiry))
		checkResult.TlsExpiry = null.TimeFrom(result.TLS.NotAfter)
	}
	return checkResult
}

type MonitorDailyStat struct {
	MonitorID    string    `db:"monitor_id" json:"monitor_id"`
	Date         time.Time `db:"date" json:"date"`
	TotalChecks  int64     `db:"total_checks" json:"total_checks"`
	AvgLatencyMs int64     `db:"avg_latency_ms" json:"avg_latency_ms"`
	MinLatencyMs int64     `db:"min_latency_ms" json:"min_latency_ms"`
	MaxLatencyMs int64     `db:"max_latency_ms" json:"max_latency_ms"`
	UptimeRate   float64   `db:"uptime_rate" json:"uptime_rate"`
	Incidents    int64     `db:"incidents" json:"incidents"`
}
