package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the alert lifecycle transition an event reports
type EventType string

const (
	EventOpened   EventType = "opened"
	EventResolved EventType = "resolved"
)

// AlertEvent wraps an alert transition with metadata for downstream consumers
type AlertEvent struct {
	// Unique event identifier
	ID string `json:"id"`

	Type EventType `json:"type"`

	// Snapshot of the record after the transition
	Alert AlertRecord `json:"alert"`

	EmittedAt time.Time `json:"emitted_at"`

	// Node that produced the event
	Source string `json:"source"`

	// Key used for partitioning, so one alert type stays ordered
	PartitionKey string `json:"partition_key"`
}

// NewAlertEvent creates a new event for a committed transition
func NewAlertEvent(eventType EventType, alert AlertRecord, source string) *AlertEvent {
	return &AlertEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Alert:        alert,
		EmittedAt:    time.Now().UTC(),
		Source:       source,
		PartitionKey: string(alert.Type),
	}
}
