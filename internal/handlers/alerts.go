package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"airguard/internal/alerts"
	"airguard/internal/logger"
	"airguard/internal/middleware"
	"airguard/internal/models"
	"airguard/internal/storage"
)

// CreateAlertRequest is the payload accepted by POST /alerts
type CreateAlertRequest struct {
	AlertType string `json:"alert_type"`
	Message   string `json:"message"`
}

// ListAlerts returns the Active alerts, or the last 24 hours of alerts
// when include_resolved=true.
func (a *API) ListAlerts(w http.ResponseWriter, r *http.Request) {
	includeResolved := strings.ToLower(r.URL.Query().Get("include_resolved")) == "true"

	records, err := a.alerts.List(r.Context(), includeResolved)
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to list alerts")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if records == nil {
		records = []models.AlertRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    records,
		"count":   len(records),
	})
}

// CreateAlert opens an operator-defined alert
func (a *API) CreateAlert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodySize)

	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	rec, err := a.alerts.CreateManual(r.Context(), req.AlertType, req.Message)
	switch {
	case errors.Is(err, alerts.ErrInvalidAlert):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrActiveExists):
		writeError(w, http.StatusConflict, fmt.Sprintf("an active %s alert already exists", models.NormalizeAlertType(req.AlertType)))
		return
	case err != nil:
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to create alert")
		writeError(w, http.StatusInternalServerError, "failed to create alert")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Alert created successfully",
		"data":    rec,
	})
}

// ResolveAlert resolves an alert by id. Resolving an already Resolved
// alert succeeds without changing it.
func (a *API) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Alert %s not found", raw))
		return
	}

	ok, err := a.alerts.Resolve(r.Context(), id)
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Int64("alert_id", id).Msg("failed to resolve alert")
		writeError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Alert %d not found", id))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Alert %d resolved successfully", id),
	})
}
