package storage

import (
	"context"
	"errors"
	"time"

	"airguard/internal/models"
)

var (
	// ErrNotFound is returned when an id does not exist
	ErrNotFound = errors.New("not found")

	// ErrActiveExists is returned by Create when an Active alert of the
	// same type already exists
	ErrActiveExists = errors.New("an active alert of this type already exists")
)

// TimeSeriesStore is an append-only store of measurements
type TimeSeriesStore interface {
	// Append persists m and assigns its ID
	Append(ctx context.Context, m *models.Measurement) error

	// QueryRange returns measurements with start <= timestamp (< end when
	// end is non-nil), oldest first
	QueryRange(ctx context.Context, start time.Time, end *time.Time) ([]models.Measurement, error)

	// Latest returns the most recent measurement, or nil, nil when empty
	Latest(ctx context.Context) (*models.Measurement, error)
}

// AlertStore owns alert lifecycle records
type AlertStore interface {
	// FindActive returns the Active record of the given type, or nil, nil
	FindActive(ctx context.Context, alertType models.AlertType) (*models.AlertRecord, error)

	// Create opens a new Active record. It returns ErrActiveExists if an
	// Active record of that type is already present.
	Create(ctx context.Context, alertType models.AlertType, message string, openedAt time.Time) (*models.AlertRecord, error)

	// Resolve marks the record Resolved at the given time. changed is false
	// when the record was already Resolved. Unknown ids give ErrNotFound.
	Resolve(ctx context.Context, id int64, at time.Time) (changed bool, err error)

	Get(ctx context.Context, id int64) (*models.AlertRecord, error)

	// ListActive returns every Active record, newest first
	ListActive(ctx context.Context) ([]models.AlertRecord, error)

	ListActiveByType(ctx context.Context, alertType models.AlertType) ([]models.AlertRecord, error)

	// ListRecent returns records opened at or after since, newest first
	ListRecent(ctx context.Context, since time.Time) ([]models.AlertRecord, error)
}

// EndpointStore keeps notification subscribers
type EndpointStore interface {
	// Register adds the token or reactivates it if it already exists
	Register(ctx context.Context, token string, at time.Time) (*models.SubscriberEndpoint, error)

	// Deactivate reports whether the token was known
	Deactivate(ctx context.Context, token string) (bool, error)

	ListActive(ctx context.Context) ([]models.SubscriberEndpoint, error)
}

// Store bundles every store a running monitor needs
type Store interface {
	TimeSeriesStore
	AlertStore
	Endpoints() EndpointStore
	Close() error
}
