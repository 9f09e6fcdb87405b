package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"airguard/internal/models"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Notify    NotifyConfig    `yaml:"notify"`
	Events    EventsConfig    `yaml:"events"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the persistence backend. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// FetcherConfig points at the AQICN feed API
type FetcherConfig struct {
	BaseURL string        `yaml:"base_url"`
	City    string        `yaml:"city"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	JobID           string `yaml:"job_id"`
	JobName         string `yaml:"job_name"`
}

// Interval is the fixed period between scheduled fetch cycles
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

type AlertsConfig struct {
	AQIThreshold        int     `yaml:"aqi_threshold"`
	AQISustainedMinutes int     `yaml:"aqi_sustained_minutes"`
	NoiseThresholdDB    float64 `yaml:"noise_threshold_db"`
	QuietHoursStart     int     `yaml:"quiet_hours_start"`
	QuietHoursEnd       int     `yaml:"quiet_hours_end"`

	// IANA zone used for the quiet-hours clock
	Timezone string `yaml:"timezone"`

	NotifyOnResolve bool `yaml:"notify_on_resolve"`

	// Human readable location used in notification bodies
	CityLabel string `yaml:"city_label"`
}

// Thresholds returns the immutable evaluator configuration
func (a AlertsConfig) Thresholds() models.AlertConfig {
	return models.AlertConfig{
		AQIThreshold:        a.AQIThreshold,
		AQISustainedMinutes: a.AQISustainedMinutes,
		NoiseThresholdDB:    a.NoiseThresholdDB,
		QuietHoursStart:     a.QuietHoursStart,
		QuietHoursEnd:       a.QuietHoursEnd,
	}
}

// Location resolves the configured timezone
func (a AlertsConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// NotifyConfig configures the push sink and the dispatch pool.
// Without a server key notifications are logged and skipped.
type NotifyConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	ServerKey     string        `yaml:"server_key"`
	Timeout       time.Duration `yaml:"timeout"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

const (
	EventsNone  = "none"
	EventsKafka = "kafka"
	EventsNATS  = "nats"
)

type EventsConfig struct {
	Backend string      `yaml:"backend"`
	Kafka   KafkaConfig `yaml:"kafka"`
	NATS    NATSConfig  `yaml:"nats"`
}

type KafkaConfig struct {
	Brokers  []string       `yaml:"brokers"`
	Topic    string         `yaml:"topic"`
	Producer ProducerConfig `yaml:"producer"`
}

type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{MaxConns: 10},
		Fetcher: FetcherConfig{
			BaseURL: "https://api.waqi.info",
			City:    "pune",
			APIKey:  "demo",
			Timeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 10,
			JobID:           "fetch_aqi_data",
			JobName:         "Fetch AQI data from AQICN API",
		},
		Alerts: AlertsConfig{
			AQIThreshold:        150,
			AQISustainedMinutes: 15,
			NoiseThresholdDB:    80,
			QuietHoursStart:     22,
			QuietHoursEnd:       6,
			Timezone:            "UTC",
			NotifyOnResolve:     true,
			CityLabel:           "Pune",
		},
		Notify: NotifyConfig{
			Endpoint:      "https://fcm.googleapis.com/fcm/send",
			Timeout:       10 * time.Second,
			Workers:       4,
			QueueSize:     100,
			SubmitTimeout: 2 * time.Second,
		},
		Events: EventsConfig{
			Backend: EventsNone,
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "airguard.alerts",
				Producer: ProducerConfig{
					PoolSize:     2,
					BatchSize:    100,
					BatchTimeout: 10 * time.Millisecond,
					WriteTimeout: 10 * time.Second,
					RequiredAcks: 1,
					Compression:  "snappy",
					MaxRetries:   3,
					RetryBackoff: 100 * time.Millisecond,
				},
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Subject: "airguard.alerts",
			},
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	setString("AQICN_API_KEY", &c.Fetcher.APIKey)
	setString("AQICN_CITY", &c.Fetcher.City)
	setString("AQICN_BASE_URL", &c.Fetcher.BaseURL)
	setString("DATABASE_URL", &c.Database.URL)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("FCM_SERVER_KEY", &c.Notify.ServerKey)

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.HTTP.Addr = ":" + port
	}
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config: http.addr is required")
	}
	if c.Fetcher.BaseURL == "" {
		return fmt.Errorf("config: fetcher.base_url is required")
	}
	if c.Fetcher.City == "" {
		return fmt.Errorf("config: fetcher.city is required")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("config: fetcher.timeout must be positive")
	}
	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("config: scheduler.interval_minutes must be positive, got %d", c.Scheduler.IntervalMinutes)
	}

	a := c.Alerts
	if a.AQIThreshold < models.MinAQI || a.AQIThreshold > models.MaxAQI {
		return fmt.Errorf("config: alerts.aqi_threshold must be within 0..500, got %d", a.AQIThreshold)
	}
	if a.AQISustainedMinutes <= 0 {
		return fmt.Errorf("config: alerts.aqi_sustained_minutes must be positive")
	}
	if a.NoiseThresholdDB < 0 {
		return fmt.Errorf("config: alerts.noise_threshold_db cannot be negative")
	}
	if !validHour(a.QuietHoursStart) || !validHour(a.QuietHoursEnd) {
		return fmt.Errorf("config: quiet hours must be within 0..23, got %d..%d", a.QuietHoursStart, a.QuietHoursEnd)
	}
	if _, err := a.Location(); err != nil {
		return fmt.Errorf("config: alerts.timezone: %w", err)
	}

	switch c.Events.Backend {
	case "", EventsNone:
		c.Events.Backend = EventsNone
	case EventsKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			return fmt.Errorf("config: events.kafka needs brokers and a topic")
		}
	case EventsNATS:
		if c.Events.NATS.URL == "" || c.Events.NATS.Subject == "" {
			return fmt.Errorf("config: events.nats needs url and subject")
		}
	default:
		return fmt.Errorf("config: unknown events.backend %q", c.Events.Backend)
	}

	return nil
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
