package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"airguard/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// PostgresStore implements Store over a pgx connection pool
type PostgresStore struct {
	pool      *pgxpool.Pool
	endpoints *postgresEndpoints
}

// NewPostgres connects to dsn and verifies the connection
func NewPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool, endpoints: &postgresEndpoints{pool: pool}}, nil
}

// Migrate creates the tables and indexes if they are missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Truncate empties every table, for test databases
func (s *PostgresStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE pollution_data, alerts, device_tokens RESTART IDENTITY`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, m *models.Measurement) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO pollution_data (ts, aqi, pm25, pm10, noise_db, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		m.Timestamp, m.AQI, m.PM25, m.PM10, m.NoiseDB, string(m.Source))
	if err := row.Scan(&m.ID); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryRange(ctx context.Context, start time.Time, end *time.Time) ([]models.Measurement, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if end == nil {
		rows, err = s.pool.Query(ctx, `
			SELECT id, ts, aqi, pm25, pm10, noise_db, source
			FROM pollution_data WHERE ts >= $1 ORDER BY ts ASC, id ASC`, start)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, ts, aqi, pm25, pm10, noise_db, source
			FROM pollution_data WHERE ts >= $1 AND ts < $2 ORDER BY ts ASC, id ASC`, start, *end)
	}
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := make([]models.Measurement, 0)
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Latest(ctx context.Context) (*models.Measurement, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, ts, aqi, pm25, pm10, noise_db, source
		FROM pollution_data ORDER BY ts DESC, id DESC LIMIT 1`)
	m, err := scanMeasurement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMeasurement(row pgx.Row) (models.Measurement, error) {
	var (
		m      models.Measurement
		source string
	)
	if err := row.Scan(&m.ID, &m.Timestamp, &m.AQI, &m.PM25, &m.PM10, &m.NoiseDB, &source); err != nil {
		return models.Measurement{}, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.Source = models.Source(source)
	return m, nil
}

const alertColumns = `id, alert_type, opened_at, message, status, resolved_at`

func (s *PostgresStore) FindActive(ctx context.Context, alertType models.AlertType) (*models.AlertRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+`
		FROM alerts WHERE alert_type = $1 AND status = 'Active'
		ORDER BY opened_at DESC LIMIT 1`, string(alertType))
	rec, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts only when no Active record of the type exists. The
// partial unique index catches a concurrent insert that slips past the
// NOT EXISTS check.
func (s *PostgresStore) Create(ctx context.Context, alertType models.AlertType, message string, openedAt time.Time) (*models.AlertRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO alerts (alert_type, opened_at, message, status)
		SELECT $1::text, $2::timestamptz, $3::text, 'Active'
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts WHERE alert_type = $1::text AND status = 'Active'
		)
		RETURNING `+alertColumns,
		string(alertType), openedAt, message)

	rec, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrActiveExists
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, ErrActiveExists
	}
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = 'Resolved', resolved_at = $2
		WHERE id = $1 AND status = 'Active'`, id, at)
	if err != nil {
		return false, fmt.Errorf("resolve alert %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.AlertRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	rec, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]models.AlertRecord, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+`
		FROM alerts WHERE status = 'Active' ORDER BY opened_at DESC, id DESC`)
}

func (s *PostgresStore) ListActiveByType(ctx context.Context, alertType models.AlertType) ([]models.AlertRecord, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+`
		FROM alerts WHERE status = 'Active' AND alert_type = $1
		ORDER BY opened_at DESC, id DESC`, string(alertType))
}

func (s *PostgresStore) ListRecent(ctx context.Context, since time.Time) ([]models.AlertRecord, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+`
		FROM alerts WHERE opened_at >= $1 ORDER BY opened_at DESC, id DESC`, since)
}

func (s *PostgresStore) queryAlerts(ctx context.Context, sql string, args ...any) ([]models.AlertRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]models.AlertRecord, 0)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (models.AlertRecord, error) {
	var (
		rec       models.AlertRecord
		alertType string
		status    string
	)
	if err := row.Scan(&rec.ID, &alertType, &rec.OpenedAt, &rec.Message, &status, &rec.ResolvedAt); err != nil {
		return models.AlertRecord{}, err
	}
	rec.Type = models.AlertType(alertType)
	rec.Status = models.AlertStatus(status)
	rec.OpenedAt = rec.OpenedAt.UTC()
	if rec.ResolvedAt != nil {
		t := rec.ResolvedAt.UTC()
		rec.ResolvedAt = &t
	}
	return rec, nil
}

func (s *PostgresStore) Endpoints() EndpointStore {
	return s.endpoints
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type postgresEndpoints struct {
	pool *pgxpool.Pool
}

func (e *postgresEndpoints) Register(ctx context.Context, token string, at time.Time) (*models.SubscriberEndpoint, error) {
	var ep models.SubscriberEndpoint
	err := e.pool.QueryRow(ctx, `
		INSERT INTO device_tokens (id, token, created_at, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (token) DO UPDATE SET is_active = TRUE
		RETURNING id, token, created_at, is_active`,
		uuid.New().String(), token, at,
	).Scan(&ep.ID, &ep.Token, &ep.RegisteredAt, &ep.IsActive)
	if err != nil {
		return nil, fmt.Errorf("register endpoint: %w", err)
	}
	ep.RegisteredAt = ep.RegisteredAt.UTC()
	return &ep, nil
}

func (e *postgresEndpoints) Deactivate(ctx context.Context, token string) (bool, error) {
	tag, err := e.pool.Exec(ctx, `UPDATE device_tokens SET is_active = FALSE WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("deactivate endpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (e *postgresEndpoints) ListActive(ctx context.Context) ([]models.SubscriberEndpoint, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT id, token, created_at, is_active
		FROM device_tokens WHERE is_active = TRUE ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	out := make([]models.SubscriberEndpoint, 0)
	for rows.Next() {
		var ep models.SubscriberEndpoint
		if err := rows.Scan(&ep.ID, &ep.Token, &ep.RegisteredAt, &ep.IsActive); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
