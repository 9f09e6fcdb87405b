package handlers

import "net/http"

// SchedulerStatus reports the fetch scheduler state
func (a *API) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"running": false,
				"message": "Scheduler not initialized",
			},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    a.scheduler.Status(),
	})
}

// TriggerFetch requests an immediate fetch cycle. Success only means the
// request was accepted; the cycle itself runs asynchronously and is
// dropped if another one is in flight.
func (a *API) TriggerFetch(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusBadRequest, "Scheduler not initialized")
		return
	}

	ok := a.scheduler.TriggerNow()
	msg := "Fetch triggered"
	if !ok {
		msg = "Failed to trigger fetch"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": ok,
		"message": msg,
	})
}
