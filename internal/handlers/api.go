package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airguard/internal/alerts"
	"airguard/internal/middleware"
	"airguard/internal/models"
	"airguard/internal/scheduler"
	"airguard/internal/storage"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// AlertService is the part of the alert manager the API drives
type AlertService interface {
	CheckAll(ctx context.Context) (alerts.Outcome, error)
	CreateManual(ctx context.Context, alertType, message string) (*models.AlertRecord, error)
	Resolve(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, includeResolved bool) ([]models.AlertRecord, error)
}

// DeviceRegistry registers and removes push endpoints
type DeviceRegistry interface {
	Register(ctx context.Context, token string) (*models.SubscriberEndpoint, error)
	Unregister(ctx context.Context, token string) (bool, error)
}

// SchedulerControl exposes the fetch scheduler to operators
type SchedulerControl interface {
	Status() scheduler.Status
	TriggerNow() bool
}

// Config holds API dependencies. Scheduler may be nil.
type Config struct {
	Measurements storage.TimeSeriesStore
	Alerts       AlertService
	Devices      DeviceRegistry
	Scheduler    SchedulerControl

	// Max body size (default 1MB)
	MaxBodySize int64

	Now func() time.Time
}

// API serves the monitor's HTTP surface
type API struct {
	measurements storage.TimeSeriesStore
	alerts       AlertService
	devices      DeviceRegistry
	scheduler    SchedulerControl
	maxBodySize  int64
	now          func() time.Time
}

// New creates the API handlers
func New(cfg Config) *API {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &API{
		measurements: cfg.Measurements,
		alerts:       cfg.Alerts,
		devices:      cfg.Devices,
		scheduler:    cfg.Scheduler,
		maxBodySize:  maxBodySize,
		now:          cfg.Now,
	}
}

// Router builds the chi router with logging and recovery applied
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery, middleware.Logging)

	r.Get("/health", a.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/upload", a.Upload)
	r.Get("/current", a.Current)
	r.Get("/history", a.History)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", a.ListAlerts)
		r.Post("/", a.CreateAlert)
		r.Post("/{id}/resolve", a.ResolveAlert)
	})

	r.Post("/register-device", a.RegisterDevice)
	r.Post("/unregister-device", a.UnregisterDevice)

	r.Get("/scheduler/status", a.SchedulerStatus)
	r.Post("/scheduler/trigger", a.TriggerFetch)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Health reports liveness
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": a.now().UTC(),
		"version":   Version,
	})
}

// writeJSON writes body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
