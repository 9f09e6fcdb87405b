package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"airguard/internal/alerts"
	"airguard/internal/handlers"
	"airguard/internal/models"
	"airguard/internal/notify"
	"airguard/internal/scheduler"
	"airguard/internal/storage"
)

type fakeScheduler struct {
	triggered int
	accept    bool
}

func (s *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Running: true, JobID: "fetch_aqi_data", IntervalS: 600}
}

func (s *fakeScheduler) TriggerNow() bool {
	s.triggered++
	return s.accept
}

type apiFixture struct {
	store     *storage.MemoryStore
	scheduler *fakeScheduler
	handler   http.Handler
	now       time.Time
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }

	store := storage.NewMemoryStore()
	manager := alerts.NewManager(alerts.Config{
		Thresholds: models.AlertConfig{
			AQIThreshold:        150,
			AQISustainedMinutes: 15,
			NoiseThresholdDB:    80,
			QuietHoursStart:     22,
			QuietHoursEnd:       6,
		},
		Measurements: store,
		Alerts:       store,
		Now:          clock,
	})
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Endpoints: store.Endpoints(),
		Now:       clock,
	})

	f := &apiFixture{
		store:     store,
		scheduler: &fakeScheduler{accept: true},
		now:       now,
	}
	f.handler = handlers.New(handlers.Config{
		Measurements: store,
		Alerts:       manager,
		Devices:      dispatcher,
		Scheduler:    f.scheduler,
		Now:          clock,
	}).Router()
	return f
}

type response struct {
	Success         bool            `json:"success"`
	Error           string          `json:"error"`
	Message         string          `json:"message"`
	Data            json.RawMessage `json:"data"`
	Count           int             `json:"count"`
	Hours           int             `json:"hours"`
	AlertsTriggered int             `json:"alerts_triggered"`
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, response) {
	t.Helper()

	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	f.handler.ServeHTTP(w, req)

	var resp response
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != "healthy" || body["version"] != handlers.Version {
		t.Errorf("unexpected health body: %v", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestUpload_StoresAndEvaluates(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodPost, "/upload", `{"aqi": 200, "pm25": 80.5}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", code, resp)
	}
	if !resp.Success || resp.AlertsTriggered != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	var m models.Measurement
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if m.Source != models.SourceSensor {
		t.Errorf("expected default source sensor, got %q", m.Source)
	}
	if !m.Timestamp.Equal(f.now) {
		t.Errorf("expected timestamp %v, got %v", f.now, m.Timestamp)
	}

	active, err := f.store.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Type != models.AlertHighAQI {
		t.Errorf("expected one high_aqi alert, got %+v", active)
	}
}

func TestUpload_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing aqi", `{"source": "api"}`, http.StatusBadRequest},
		{"aqi too high", `{"aqi": 501}`, http.StatusBadRequest},
		{"aqi negative", `{"aqi": -1}`, http.StatusBadRequest},
		{"aqi not a number", `{"aqi": "high"}`, http.StatusBadRequest},
		{"bad source", `{"aqi": 50, "source": "satellite"}`, http.StatusBadRequest},
		{"bad timestamp", `{"aqi": 50, "timestamp": "yesterday"}`, http.StatusBadRequest},
		{"negative noise", `{"aqi": 50, "noise": -3}`, http.StatusBadRequest},
		{"not json", `aqi=50`, http.StatusBadRequest},
		{"boundary zero", `{"aqi": 0}`, http.StatusCreated},
		{"boundary max", `{"aqi": 500, "source": "API"}`, http.StatusCreated},
		{"explicit timestamp", `{"aqi": 42, "timestamp": "2024-01-15T10:30:00Z"}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPI(t)
			code, resp := f.do(t, http.MethodPost, "/upload", tt.body)
			if code != tt.code {
				t.Fatalf("expected %d, got %d: %+v", tt.code, code, resp)
			}
			if code == http.StatusBadRequest && (resp.Success || resp.Error == "") {
				t.Errorf("expected error envelope, got %+v", resp)
			}
		})
	}
}

func TestUpload_RejectsNonJSONContentType(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString(`{"aqi": 10}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", w.Code)
	}
}

func TestCurrent(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodGet, "/current", "")
	if code != http.StatusOK || !resp.Success || string(resp.Data) != "null" {
		t.Fatalf("expected null data on empty store, got %d %+v", code, resp)
	}

	ctx := context.Background()
	for i, aqi := range []int{40, 60} {
		m := &models.Measurement{Timestamp: f.now.Add(time.Duration(i-2) * time.Minute), AQI: aqi, Source: models.SourceAPI}
		if err := f.store.Append(ctx, m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	_, resp = f.do(t, http.MethodGet, "/current", "")
	var m models.Measurement
	if err := json.Unmarshal(resp.Data, &m); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if m.AQI != 60 {
		t.Errorf("expected latest aqi 60, got %d", m.AQI)
	}
}

func TestHistory(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()

	for _, age := range []time.Duration{30 * time.Minute, 2 * time.Hour, 30 * time.Hour, 200 * time.Hour} {
		m := &models.Measurement{Timestamp: f.now.Add(-age), AQI: 50, Source: models.SourceAPI}
		if err := f.store.Append(ctx, m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		query string
		hours int
		count int
	}{
		{"/history", 24, 2},
		{"/history?hours=1", 1, 1},
		{"/history?hours=0", 1, 1},
		{"/history?hours=48", 48, 3},
		{"/history?hours=1000", 168, 3},
		{"/history?hours=abc", 24, 2},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			code, resp := f.do(t, http.MethodGet, tt.query, "")
			if code != http.StatusOK {
				t.Fatalf("expected 200, got %d", code)
			}
			if resp.Hours != tt.hours || resp.Count != tt.count {
				t.Errorf("expected hours=%d count=%d, got hours=%d count=%d", tt.hours, tt.count, resp.Hours, resp.Count)
			}
		})
	}

	_, resp := f.do(t, http.MethodGet, "/history?hours=48", "")
	var data []models.Measurement
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	for i := 1; i < len(data); i++ {
		if data[i].Timestamp.After(data[i-1].Timestamp) {
			t.Fatalf("history not newest first: %v then %v", data[i-1].Timestamp, data[i].Timestamp)
		}
	}
}

func TestAlerts_CreateListResolve(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodPost, "/alerts", `{"alert_type": "Maintenance", "message": "sensor offline"}`)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %+v", code, resp)
	}
	var rec models.AlertRecord
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		t.Fatalf("failed to parse data: %v", err)
	}
	if rec.Type != "maintenance" || rec.Status != models.StatusActive {
		t.Errorf("unexpected record: %+v", rec)
	}

	code, _ = f.do(t, http.MethodPost, "/alerts", `{"alert_type": "maintenance", "message": "again"}`)
	if code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate active alert, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/alerts", `{"alert_type": "", "message": "x"}`)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty type, got %d", code)
	}

	_, resp = f.do(t, http.MethodGet, "/alerts", "")
	if resp.Count != 1 {
		t.Fatalf("expected 1 active alert, got %d", resp.Count)
	}

	path := "/alerts/" + strconv.FormatInt(rec.ID, 10) + "/resolve"
	code, resp = f.do(t, http.MethodPost, path, "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("expected resolve to succeed, got %d %+v", code, resp)
	}

	// Resolving twice is still a success
	code, _ = f.do(t, http.MethodPost, path, "")
	if code != http.StatusOK {
		t.Errorf("expected 200 on repeat resolve, got %d", code)
	}

	_, resp = f.do(t, http.MethodGet, "/alerts", "")
	if resp.Count != 0 {
		t.Errorf("expected no active alerts, got %d", resp.Count)
	}
	_, resp = f.do(t, http.MethodGet, "/alerts?include_resolved=TRUE", "")
	if resp.Count != 1 {
		t.Errorf("expected resolved alert in recent list, got %d", resp.Count)
	}

	for _, p := range []string{"/alerts/999/resolve", "/alerts/abc/resolve"} {
		code, _ = f.do(t, http.MethodPost, p, "")
		if code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", p, code)
		}
	}
}

func TestDevices(t *testing.T) {
	f := newAPI(t)
	token := "fcm-token-abcdefghijklmnopqrstuvwxyz"

	code, resp := f.do(t, http.MethodPost, "/register-device", `{"token": "`+token+`"}`)
	if code != http.StatusCreated || !resp.Success {
		t.Fatalf("expected 201, got %d %+v", code, resp)
	}

	code, _ = f.do(t, http.MethodPost, "/register-device", `{"token": "short"}`)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for short token, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/register-device", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing token, got %d", code)
	}

	active, err := f.store.Endpoints().ListActive(context.Background())
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active endpoint, got %d (%v)", len(active), err)
	}

	code, _ = f.do(t, http.MethodPost, "/unregister-device", `{"token": "`+token+`"}`)
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}

	code, _ = f.do(t, http.MethodPost, "/unregister-device", `{"token": "unknown-token-123"}`)
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown token, got %d", code)
	}
}

func TestScheduler(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodGet, "/scheduler/status", "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var st scheduler.Status
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if !st.Running || st.JobID != "fetch_aqi_data" {
		t.Errorf("unexpected status: %+v", st)
	}

	_, resp = f.do(t, http.MethodPost, "/scheduler/trigger", "")
	if !resp.Success || f.scheduler.triggered != 1 {
		t.Errorf("expected trigger to be accepted, got %+v", resp)
	}

	f.scheduler.accept = false
	_, resp = f.do(t, http.MethodPost, "/scheduler/trigger", "")
	if resp.Success {
		t.Error("expected trigger to report failure")
	}
}

func TestScheduler_NotInitialized(t *testing.T) {
	store := storage.NewMemoryStore()
	h := handlers.New(handlers.Config{
		Measurements: store,
		Alerts:       alerts.NewManager(alerts.Config{Measurements: store, Alerts: store}),
		Devices:      notify.NewDispatcher(notify.DispatcherConfig{Endpoints: store.Endpoints()}),
	}).Router()

	req := httptest.NewRequest(http.MethodPost, "/scheduler/trigger", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/scheduler/status", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"running":false`)) {
		t.Errorf("unexpected status response: %d %s", w.Code, w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPI(t)

	code, resp := f.do(t, http.MethodGet, "/upload", "")
	if code != http.StatusMethodNotAllowed || resp.Success {
		t.Errorf("expected 405 envelope, got %d %+v", code, resp)
	}
}
