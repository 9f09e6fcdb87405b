package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"airguard/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airguard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	th := cfg.Alerts.Thresholds()
	if th.AQIThreshold != 150 || th.AQISustainedMinutes != 15 {
		t.Errorf("unexpected aqi defaults: %+v", th)
	}
	if th.NoiseThresholdDB != 80 || th.QuietHoursStart != 22 || th.QuietHoursEnd != 6 {
		t.Errorf("unexpected noise defaults: %+v", th)
	}
	if cfg.Scheduler.Interval() != 10*time.Minute {
		t.Errorf("expected 10m interval, got %v", cfg.Scheduler.Interval())
	}
	if cfg.Fetcher.Timeout != 30*time.Second {
		t.Errorf("expected 30s fetch timeout, got %v", cfg.Fetcher.Timeout)
	}
	if cfg.Events.Backend != config.EventsNone {
		t.Errorf("expected events disabled by default, got %q", cfg.Events.Backend)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
alerts:
  aqi_threshold: 120
  quiet_hours_start: 23
  quiet_hours_end: 5
fetcher:
  city: delhi
  timeout: 5s
scheduler:
  interval_minutes: 3
`)
	t.Setenv("AQICN_CITY", "mumbai")
	t.Setenv("PORT", "9090")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Alerts.AQIThreshold != 120 || cfg.Alerts.QuietHoursStart != 23 {
		t.Errorf("file values not applied: %+v", cfg.Alerts)
	}
	if cfg.Alerts.AQISustainedMinutes != 15 {
		t.Errorf("unset keys should keep defaults, got %d", cfg.Alerts.AQISustainedMinutes)
	}
	if cfg.Fetcher.City != "mumbai" {
		t.Errorf("env should override file, got %q", cfg.Fetcher.City)
	}
	if cfg.Fetcher.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Fetcher.Timeout)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.HTTP.Addr)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad hour", "alerts:\n  quiet_hours_start: 24\n", "quiet hours"},
		{"bad threshold", "alerts:\n  aqi_threshold: 600\n", "aqi_threshold"},
		{"zero interval", "scheduler:\n  interval_minutes: 0\n", "interval_minutes"},
		{"unknown backend", "events:\n  backend: redis\n", "events.backend"},
		{"bad timezone", "alerts:\n  timezone: Mars/Olympus\n", "timezone"},
		{"kafka without topic", "events:\n  backend: kafka\n  kafka:\n    topic: \"\"\n", "events.kafka"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
