package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when no supported layout matches
var ErrInvalidTimestamp = errors.New("invalid timestamp format, use ISO 8601")

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize applies field normalization to a Measurement
// - lower-cases Source, defaulting to sensor
// - converts Timestamp to UTC
func (m *Measurement) Normalize() {
	s := Source(strings.ToLower(strings.TrimSpace(string(m.Source))))
	if s == "" {
		s = SourceSensor
	}
	m.Source = s

	if !m.Timestamp.IsZero() {
		m.Timestamp = m.Timestamp.UTC()
	}
}

// ParseTimestamp attempts to parse a timestamp string into time.Time.
// Layouts without a zone are taken as UTC.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}
