package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/middleware"
	"airguard/internal/models"
)

// History window bounds in hours
const (
	DefaultHistoryHours = 24
	MaxHistoryHours     = 168
)

// UploadRequest is the payload accepted by POST /upload
type UploadRequest struct {
	Source    string          `json:"source"`
	Timestamp string          `json:"timestamp"` // String for flexible parsing
	AQI       json.RawMessage `json:"aqi"`
	PM25      *float64        `json:"pm25"`
	PM10      *float64        `json:"pm10"`
	Noise     *float64        `json:"noise"`
}

var errAQIRequired = errors.New("missing required field: aqi")

// Upload stores a reading pushed by a sensor or client, then runs the
// alert rules against the updated history.
func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))

	// Check content type
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	// Limit body size
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req UploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.IngestValidationErrors.WithLabelValues("malformed_json").Inc()
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	m, errType, err := a.convertInput(req)
	if err != nil {
		metrics.IngestValidationErrors.WithLabelValues(errType).Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.measurements.Append(r.Context(), m); err != nil {
		log.Error().Err(err).Msg("failed to store measurement")
		writeError(w, http.StatusInternalServerError, "failed to store measurement")
		return
	}
	metrics.MeasurementsIngested.WithLabelValues(string(m.Source)).Inc()

	// The reading stays stored even if evaluation fails
	outcome, err := a.alerts.CheckAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("alert evaluation after upload failed")
	}

	log.Info().
		Int("aqi", m.AQI).
		Str("source", string(m.Source)).
		Int("alerts_triggered", len(outcome.Opened)).
		Msg("measurement uploaded")

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":          true,
		"message":          "Pollution data uploaded successfully",
		"data":             m,
		"alerts_triggered": len(outcome.Opened),
	})
}

// convertInput turns the request into a validated measurement. The second
// return value labels the failure for metrics.
func (a *API) convertInput(req UploadRequest) (*models.Measurement, string, error) {
	aqi, err := parseAQI(req.AQI)
	if err != nil {
		return nil, "aqi", err
	}

	m := &models.Measurement{
		AQI:     aqi,
		PM25:    req.PM25,
		PM10:    req.PM10,
		NoiseDB: req.Noise,
		Source:  models.Source(req.Source),
	}

	if strings.TrimSpace(req.Timestamp) == "" {
		m.Timestamp = a.now()
	} else {
		ts, err := models.ParseTimestamp(req.Timestamp)
		if err != nil {
			return nil, "timestamp", err
		}
		m.Timestamp = ts
	}

	m.Normalize()

	if err := m.Validate(); err != nil {
		return nil, validationLabel(err), err
	}
	return m, "", nil
}

// parseAQI accepts any JSON number within 0..500; fractions are truncated
func parseAQI(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errAQIRequired
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, models.ErrAQIOutOfRange
	}
	if v < models.MinAQI || v > models.MaxAQI {
		return 0, models.ErrAQIOutOfRange
	}
	return int(v), nil
}

func validationLabel(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidSource):
		return "source"
	case errors.Is(err, models.ErrZeroTimestamp), errors.Is(err, models.ErrFutureTimestamp):
		return "timestamp"
	case errors.Is(err, models.ErrAQIOutOfRange):
		return "aqi"
	case errors.Is(err, models.ErrNegativeReading):
		return "reading"
	default:
		return "other"
	}
}

// Current returns the latest reading, or null data when none exists
func (a *API) Current(w http.ResponseWriter, r *http.Request) {
	latest, err := a.measurements.Latest(r.Context())
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to load latest measurement")
		writeError(w, http.StatusInternalServerError, "failed to load latest measurement")
		return
	}

	if latest == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    nil,
			"message": "No pollution data available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    latest,
	})
}

// History returns readings from the last ?hours= hours, newest first.
// hours defaults to 24 and is clamped to 1..168.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	hours := DefaultHistoryHours
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			hours = n
		}
	}
	hours = min(max(hours, 1), MaxHistoryHours)

	start := a.now().UTC().Add(-time.Duration(hours) * time.Hour)
	records, err := a.measurements.QueryRange(r.Context(), start, nil)
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to load history")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load %dh history", hours))
		return
	}

	// QueryRange is ascending
	data := make([]models.Measurement, len(records))
	for i, rec := range records {
		data[len(records)-1-i] = rec
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
		"count":   len(data),
		"hours":   hours,
	})
}
