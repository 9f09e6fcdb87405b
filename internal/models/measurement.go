package models

import (
	"errors"
	"time"
)

// Source identifies where a measurement came from
type Source string

const (
	SourceAPI    Source = "api"
	SourceSensor Source = "sensor"
)

// Measurement is one timestamped air-quality/noise reading.
// Measurements are immutable once persisted.
type Measurement struct {
	// Store-assigned identifier (zero until persisted)
	ID int64 `json:"id"`

	// Time the reading was taken (fetch completion time for api readings)
	Timestamp time.Time `json:"timestamp"`

	// Air Quality Index, 0..500
	AQI int `json:"aqi"`

	// Optional pollutant concentrations
	PM25 *float64 `json:"pm25"`
	PM10 *float64 `json:"pm10"`

	// Optional noise level in dB
	NoiseDB *float64 `json:"noise"`

	Source Source `json:"source"`
}

// Validation errors
var (
	ErrZeroTimestamp   = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrAQIOutOfRange   = errors.New("aqi must be between 0 and 500")
	ErrInvalidSource   = errors.New(`source must be "api" or "sensor"`)
	ErrNegativeReading = errors.New("pollutant and noise readings cannot be negative")
)

const (
	MinAQI = 0
	MaxAQI = 500
)

// Validate checks if the Measurement has all required fields and valid values
func (m *Measurement) Validate() error {
	if m.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if m.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if m.AQI < MinAQI || m.AQI > MaxAQI {
		return ErrAQIOutOfRange
	}

	if !m.Source.IsValid() {
		return ErrInvalidSource
	}

	for _, v := range []*float64{m.PM25, m.PM10, m.NoiseDB} {
		if v != nil && *v < 0 {
			return ErrNegativeReading
		}
	}

	return nil
}

// IsValid checks if the source is one of the known sources
func (s Source) IsValid() bool {
	switch s {
	case SourceAPI, SourceSensor:
		return true
	default:
		return false
	}
}

// Float returns a pointer to v, for building optional readings.
func Float(v float64) *float64 {
	return &v
}
