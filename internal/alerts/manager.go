package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
	"airguard/internal/notify"
	"airguard/internal/storage"
)

// ErrInvalidAlert is returned for a manual alert without a type or message
var ErrInvalidAlert = errors.New("alert type and message are required")

// RecentWindow is how far back List looks when resolved alerts are included
const RecentWindow = 24 * time.Hour

// Notifier fans a message out without blocking; *notify.Dispatcher satisfies it
type Notifier interface {
	NotifyAll(msg notify.Message) bool
}

// Emitter publishes committed transitions; *events.Emitter satisfies it
type Emitter interface {
	Emit(eventType models.EventType, records ...models.AlertRecord) bool
}

// Config holds manager dependencies. Thresholds is copied once and never
// changes for the manager's lifetime.
type Config struct {
	Thresholds   models.AlertConfig
	Measurements storage.TimeSeriesStore
	Alerts       storage.AlertStore

	// Optional collaborators
	Notifier Notifier
	Events   Emitter

	// Zone for the quiet-hours clock, UTC when nil
	Location *time.Location

	CityLabel       string
	NotifyOnResolve bool

	Now func() time.Time
}

// Outcome lists the transitions committed by one CheckAll
type Outcome struct {
	Opened   []models.AlertRecord
	Resolved []models.AlertRecord
}

// Manager runs the alert rules and owns every alert state transition.
// All transitions are serialized by one mutex, so evaluation cycles,
// uploads and operator actions never interleave. Notifications and events
// for committed transitions are queued under the mutex and handed off
// after it is released.
type Manager struct {
	mu     sync.Mutex
	outbox []func()

	cfg          models.AlertConfig
	measurements storage.TimeSeriesStore
	alerts       storage.AlertStore
	notifier     Notifier
	events       Emitter
	loc          *time.Location
	city         string
	notifyOnRes  bool
	now          func() time.Time
}

// NewManager creates a manager
func NewManager(cfg Config) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CityLabel == "" {
		cfg.CityLabel = "your area"
	}
	return &Manager{
		cfg:          cfg.Thresholds,
		measurements: cfg.Measurements,
		alerts:       cfg.Alerts,
		notifier:     cfg.Notifier,
		events:       cfg.Events,
		loc:          cfg.Location,
		city:         cfg.CityLabel,
		notifyOnRes:  cfg.NotifyOnResolve,
		now:          cfg.Now,
	}
}

// Thresholds returns the configuration the rules run against
func (m *Manager) Thresholds() models.AlertConfig {
	return m.cfg
}

// CheckAll runs the AQI rule, the noise rule, then auto-resolve for both.
// A failing step is logged and does not stop the others; the failures are
// returned joined.
func (m *Manager) CheckAll(ctx context.Context) (Outcome, error) {
	m.mu.Lock()
	out, err := m.checkAll(ctx)
	pending := m.takeOutbox()
	m.mu.Unlock()

	handOff(pending)
	return out, err
}

func (m *Manager) checkAll(ctx context.Context) (Outcome, error) {
	log := logger.WithComponent("alerts")
	now := m.now().UTC()

	var (
		out  Outcome
		errs []error
	)

	if rec, err := m.checkAQI(ctx, now); err != nil {
		log.Error().Err(err).Str("alert_type", string(models.AlertHighAQI)).Msg("aqi check failed")
		errs = append(errs, err)
	} else if rec != nil {
		out.Opened = append(out.Opened, *rec)
	}

	if rec, err := m.checkNoise(ctx, now); err != nil {
		log.Error().Err(err).Str("alert_type", string(models.AlertHighNoise)).Msg("noise check failed")
		errs = append(errs, err)
	} else if rec != nil {
		out.Opened = append(out.Opened, *rec)
	}

	resolved, err := m.autoResolve(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("auto-resolve failed")
		errs = append(errs, err)
	}
	out.Resolved = resolved

	return out, errors.Join(errs...)
}

func (m *Manager) checkAQI(ctx context.Context, now time.Time) (*models.AlertRecord, error) {
	window, err := m.measurements.QueryRange(ctx, now.Add(-m.cfg.AQIWindow()), nil)
	if err != nil {
		return nil, fmt.Errorf("query aqi window: %w", err)
	}

	dec := EvaluateAQI(m.cfg, window)
	if !dec.Open {
		return nil, nil
	}

	msg := notify.Message{
		Title: TitleHighAQI,
		Body:  AQIBody(m.city, dec.Mean),
	}
	return m.open(ctx, models.AlertHighAQI, AQIMessage(m.cfg, dec.Mean), now, &msg)
}

func (m *Manager) checkNoise(ctx context.Context, now time.Time) (*models.AlertRecord, error) {
	latest, err := m.measurements.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest measurement: %w", err)
	}

	if !EvaluateNoise(m.cfg, now.In(m.loc).Hour(), latest) {
		return nil, nil
	}

	noise := *latest.NoiseDB
	msg := notify.Message{
		Title: TitleHighNoise,
		Body:  NoiseBody(noise),
	}
	return m.open(ctx, models.AlertHighNoise, NoiseMessage(m.cfg, noise), now, &msg)
}

// open persists a new Active record unless one already exists, then
// notifies. msg may be nil for silent alerts.
func (m *Manager) open(ctx context.Context, alertType models.AlertType, message string, now time.Time, msg *notify.Message) (*models.AlertRecord, error) {
	log := logger.WithComponent("alerts")

	active, err := m.alerts.FindActive(ctx, alertType)
	if err != nil {
		return nil, fmt.Errorf("find active %s: %w", alertType, err)
	}
	if active != nil {
		log.Debug().Str("alert_type", string(alertType)).Int64("alert_id", active.ID).Msg("alert already active")
		return nil, nil
	}

	rec, err := m.alerts.Create(ctx, alertType, message, now)
	if errors.Is(err, storage.ErrActiveExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s alert: %w", alertType, err)
	}

	log.Warn().
		Str("alert_type", string(alertType)).
		Int64("alert_id", rec.ID).
		Str("message", rec.Message).
		Msg("alert opened")
	metrics.AlertTransitionsTotal.WithLabelValues(string(alertType), "opened").Inc()

	if msg != nil {
		m.queueNotify(*msg, *rec)
	}
	m.queueEvent(models.EventOpened, *rec)
	return rec, nil
}

func (m *Manager) autoResolve(ctx context.Context, now time.Time) ([]models.AlertRecord, error) {
	latest, err := m.measurements.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest measurement: %w", err)
	}
	if latest == nil {
		return nil, nil
	}

	var (
		resolved []models.AlertRecord
		errs     []error
	)

	if ShouldResolveAQI(m.cfg, latest) {
		recs, err := m.resolveType(ctx, models.AlertHighAQI, now)
		resolved = append(resolved, recs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if ShouldResolveNoise(m.cfg, now.In(m.loc).Hour(), latest) {
		recs, err := m.resolveType(ctx, models.AlertHighNoise, now)
		resolved = append(resolved, recs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return resolved, errors.Join(errs...)
}

// resolveType resolves every Active record of the type, so a duplicate
// left by an earlier fault is cleared too.
func (m *Manager) resolveType(ctx context.Context, alertType models.AlertType, now time.Time) ([]models.AlertRecord, error) {
	active, err := m.alerts.ListActiveByType(ctx, alertType)
	if err != nil {
		return nil, fmt.Errorf("list active %s: %w", alertType, err)
	}

	var (
		resolved []models.AlertRecord
		errs     []error
	)
	for _, rec := range active {
		ok, err := m.resolve(ctx, rec, now, "auto")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			resolved = append(resolved, rec)
			resolved[len(resolved)-1].Status = models.StatusResolved
			resolved[len(resolved)-1].ResolvedAt = &now
		}
	}
	return resolved, errors.Join(errs...)
}

// resolve is the single resolve path for auto-resolve and operator action
func (m *Manager) resolve(ctx context.Context, rec models.AlertRecord, now time.Time, how string) (bool, error) {
	changed, err := m.alerts.Resolve(ctx, rec.ID, now)
	if err != nil {
		return false, fmt.Errorf("resolve alert %d: %w", rec.ID, err)
	}
	if !changed {
		return false, nil
	}

	log := logger.WithComponent("alerts")
	log.Info().
		Str("alert_type", string(rec.Type)).
		Int64("alert_id", rec.ID).
		Str("resolved_by", how).
		Msg("alert resolved")
	metrics.AlertTransitionsTotal.WithLabelValues(string(rec.Type), "resolved").Inc()

	rec.Status = models.StatusResolved
	rec.ResolvedAt = &now

	if m.notifyOnRes {
		m.queueNotify(notify.Message{Title: TitleResolved, Body: ResolvedBody(rec.Type, m.city)}, rec)
	}
	m.queueEvent(models.EventResolved, rec)
	return true, nil
}

// queueNotify and queueEvent must be called with mu held
func (m *Manager) queueNotify(msg notify.Message, rec models.AlertRecord) {
	if m.notifier == nil {
		return
	}
	msg.Data = map[string]string{
		"alert_id":   fmt.Sprintf("%d", rec.ID),
		"alert_type": string(rec.Type),
		"status":     string(rec.Status),
	}
	m.outbox = append(m.outbox, func() {
		if !m.notifier.NotifyAll(msg) {
			log := logger.WithComponent("alerts")
			log.Error().
				Int64("alert_id", rec.ID).
				Msg("notification task rejected")
		}
	})
}

func (m *Manager) queueEvent(eventType models.EventType, rec models.AlertRecord) {
	if m.events == nil {
		return
	}
	m.outbox = append(m.outbox, func() {
		m.events.Emit(eventType, rec)
	})
}

func (m *Manager) takeOutbox() []func() {
	pending := m.outbox
	m.outbox = nil
	return pending
}

func handOff(pending []func()) {
	for _, fn := range pending {
		fn()
	}
}

// CreateManual opens an operator-defined alert. It returns
// storage.ErrActiveExists when an Active alert of that type exists.
func (m *Manager) CreateManual(ctx context.Context, alertType, message string) (*models.AlertRecord, error) {
	t := models.NormalizeAlertType(alertType)
	message = strings.TrimSpace(message)
	if t == "" || message == "" {
		return nil, ErrInvalidAlert
	}

	m.mu.Lock()
	rec, err := m.createManual(ctx, t, message)
	pending := m.takeOutbox()
	m.mu.Unlock()

	handOff(pending)
	return rec, err
}

func (m *Manager) createManual(ctx context.Context, t models.AlertType, message string) (*models.AlertRecord, error) {
	now := m.now().UTC()
	rec, err := m.alerts.Create(ctx, t, message, now)
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("alerts")
	log.Info().
		Str("alert_type", string(t)).
		Int64("alert_id", rec.ID).
		Msg("manual alert created")
	metrics.AlertTransitionsTotal.WithLabelValues(string(t), "opened").Inc()

	m.queueEvent(models.EventOpened, *rec)
	return rec, nil
}

// Resolve resolves an alert by id. It reports false only when the id is
// unknown; resolving an already Resolved alert is a no-op that reports true.
func (m *Manager) Resolve(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	ok, err := m.resolveByID(ctx, id)
	pending := m.takeOutbox()
	m.mu.Unlock()

	handOff(pending)
	return ok, err
}

func (m *Manager) resolveByID(ctx context.Context, id int64) (bool, error) {
	rec, err := m.alerts.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !rec.IsActive() {
		return true, nil
	}

	if _, err := m.resolve(ctx, *rec, m.now().UTC(), "operator"); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns the Active alerts, or every alert opened in the last 24 hours
// when includeResolved is set. Newest first.
func (m *Manager) List(ctx context.Context, includeResolved bool) ([]models.AlertRecord, error) {
	if includeResolved {
		return m.alerts.ListRecent(ctx, m.now().UTC().Add(-RecentWindow))
	}
	return m.alerts.ListActive(ctx)
}
