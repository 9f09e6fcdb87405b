package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"airguard/internal/logger"
	"airguard/internal/middleware"
	"airguard/internal/notify"
)

// DeviceRequest is the payload accepted by the device endpoints
type DeviceRequest struct {
	Token string `json:"token"`
}

func (a *API) decodeDevice(w http.ResponseWriter, r *http.Request) (DeviceRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBodySize)

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return req, false
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "missing required field: token")
		return req, false
	}
	return req, true
}

// RegisterDevice adds or reactivates a push endpoint
func (a *API) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeDevice(w, r)
	if !ok {
		return
	}

	ep, err := a.devices.Register(r.Context(), req.Token)
	if errors.Is(err, notify.ErrInvalidToken) {
		writeError(w, http.StatusBadRequest, "Invalid device token")
		return
	}
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to register device")
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Device registered successfully",
		"data": map[string]interface{}{
			"id":         ep.ID,
			"token":      ep.MaskedToken(),
			"created_at": ep.RegisteredAt,
			"is_active":  ep.IsActive,
		},
	})
}

// UnregisterDevice deactivates a push endpoint
func (a *API) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeDevice(w, r)
	if !ok {
		return
	}

	found, err := a.devices.Unregister(r.Context(), req.Token)
	if errors.Is(err, notify.ErrInvalidToken) {
		writeError(w, http.StatusBadRequest, "Invalid device token")
		return
	}
	if err != nil {
		log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
		log.Error().Err(err).Msg("failed to unregister device")
		writeError(w, http.StatusInternalServerError, "failed to unregister device")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Token not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Device unregistered successfully",
	})
}
