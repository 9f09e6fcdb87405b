package models

import (
	"strings"
	"time"
)

// AlertType is the kind of condition an alert reports.
// The set is open: manual alerts may use any non-empty type.
type AlertType string

const (
	AlertHighAQI   AlertType = "high_aqi"
	AlertHighNoise AlertType = "high_noise"
)

// AlertStatus is the lifecycle state of an alert record
type AlertStatus string

const (
	StatusActive   AlertStatus = "Active"
	StatusResolved AlertStatus = "Resolved"
)

// AlertRecord is one opened alert. Records are never deleted; resolved
// records are kept as history. At most one record per type is Active.
type AlertRecord struct {
	ID         int64       `json:"id"`
	Type       AlertType   `json:"alert_type"`
	OpenedAt   time.Time   `json:"timestamp"`
	Message    string      `json:"message"`
	Status     AlertStatus `json:"status"`
	ResolvedAt *time.Time  `json:"resolved_at"`
}

// IsActive reports whether the record is still open
func (a *AlertRecord) IsActive() bool {
	return a.Status == StatusActive
}

// NormalizeAlertType lower-cases and trims an operator-supplied type
func NormalizeAlertType(s string) AlertType {
	return AlertType(strings.ToLower(strings.TrimSpace(s)))
}

// AlertConfig holds the thresholds the evaluator works against.
// It is loaded once at startup and passed by value.
type AlertConfig struct {
	AQIThreshold        int
	AQISustainedMinutes int
	NoiseThresholdDB    float64
	QuietHoursStart     int
	QuietHoursEnd       int
}

// AQIWindow is the trailing duration every sample must exceed the threshold for
func (c AlertConfig) AQIWindow() time.Duration {
	return time.Duration(c.AQISustainedMinutes) * time.Minute
}
