package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"airguard/internal/models"
)

// MemoryStore keeps everything in process memory. It is the default
// backend when no database URL is configured.
type MemoryStore struct {
	mu           sync.RWMutex
	measurements []models.Measurement // ascending by timestamp
	alerts       []models.AlertRecord // ascending by id
	nextMeasID   int64
	nextAlertID  int64

	endpoints *memoryEndpoints
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints: &memoryEndpoints{byToken: make(map[string]*models.SubscriberEndpoint)},
	}
}

func (s *MemoryStore) Append(ctx context.Context, m *models.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMeasID++
	m.ID = s.nextMeasID

	// Sensor uploads may carry past timestamps, keep the slice ordered.
	i := sort.Search(len(s.measurements), func(i int) bool {
		return s.measurements[i].Timestamp.After(m.Timestamp)
	})
	s.measurements = append(s.measurements, models.Measurement{})
	copy(s.measurements[i+1:], s.measurements[i:])
	s.measurements[i] = *m
	return nil
}

func (s *MemoryStore) QueryRange(ctx context.Context, start time.Time, end *time.Time) ([]models.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Measurement, 0)
	for _, m := range s.measurements {
		if m.Timestamp.Before(start) {
			continue
		}
		if end != nil && !m.Timestamp.Before(*end) {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context) (*models.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.measurements) == 0 {
		return nil, nil
	}
	m := s.measurements[len(s.measurements)-1]
	return &m, nil
}

func (s *MemoryStore) FindActive(ctx context.Context, alertType models.AlertType) (*models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].Type == alertType && s.alerts[i].IsActive() {
			rec := s.alerts[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Create(ctx context.Context, alertType models.AlertType, message string, openedAt time.Time) (*models.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.Type == alertType && a.IsActive() {
			return nil, ErrActiveExists
		}
	}

	s.nextAlertID++
	rec := models.AlertRecord{
		ID:       s.nextAlertID,
		Type:     alertType,
		OpenedAt: openedAt,
		Message:  message,
		Status:   models.StatusActive,
	}
	s.alerts = append(s.alerts, rec)
	return &rec, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != id {
			continue
		}
		if !s.alerts[i].IsActive() {
			return false, nil
		}
		resolvedAt := at
		s.alerts[i].Status = models.StatusResolved
		s.alerts[i].ResolvedAt = &resolvedAt
		return true, nil
	}
	return false, ErrNotFound
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.alerts {
		if a.ID == id {
			rec := copyAlert(a)
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]models.AlertRecord, error) {
	return s.filterAlerts(func(a models.AlertRecord) bool { return a.IsActive() }), nil
}

func (s *MemoryStore) ListActiveByType(ctx context.Context, alertType models.AlertType) ([]models.AlertRecord, error) {
	return s.filterAlerts(func(a models.AlertRecord) bool {
		return a.IsActive() && a.Type == alertType
	}), nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, since time.Time) ([]models.AlertRecord, error) {
	return s.filterAlerts(func(a models.AlertRecord) bool { return !a.OpenedAt.Before(since) }), nil
}

// filterAlerts returns matching records newest first
func (s *MemoryStore) filterAlerts(keep func(models.AlertRecord) bool) []models.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AlertRecord, 0)
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, copyAlert(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].OpenedAt.After(out[j].OpenedAt)
	})
	return out
}

func copyAlert(a models.AlertRecord) models.AlertRecord {
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}

func (s *MemoryStore) Endpoints() EndpointStore {
	return s.endpoints
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryEndpoints struct {
	mu      sync.RWMutex
	byToken map[string]*models.SubscriberEndpoint
	order   []string
}

func (e *memoryEndpoints) Register(ctx context.Context, token string, at time.Time) (*models.SubscriberEndpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ep, ok := e.byToken[token]; ok {
		ep.IsActive = true
		out := *ep
		return &out, nil
	}

	ep := &models.SubscriberEndpoint{
		ID:           uuid.New().String(),
		Token:        token,
		RegisteredAt: at,
		IsActive:     true,
	}
	e.byToken[token] = ep
	e.order = append(e.order, token)
	out := *ep
	return &out, nil
}

func (e *memoryEndpoints) Deactivate(ctx context.Context, token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ep, ok := e.byToken[token]
	if !ok {
		return false, nil
	}
	ep.IsActive = false
	return true, nil
}

func (e *memoryEndpoints) ListActive(ctx context.Context) ([]models.SubscriberEndpoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.SubscriberEndpoint, 0, len(e.order))
	for _, token := range e.order {
		if ep := e.byToken[token]; ep.IsActive {
			out = append(out, *ep)
		}
	}
	return out, nil
}
