package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
)

// Kind classifies a fetch failure
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindTransport         Kind = "transport"
	KindUpstreamRejected  Kind = "upstream_rejected"
	KindMalformedResponse Kind = "malformed_response"
)

// FetchError is returned by FetchCurrent. Every kind is non-fatal: the
// caller skips the cycle and the next tick retries.
type FetchError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch " + string(e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a fetch error, or "" for other errors
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Config configures the AQICN client
type Config struct {
	BaseURL string
	City    string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the default client; its timeout is left untouched
	HTTPClient *http.Client

	Now func() time.Time
}

// Client pulls the current reading for one city from the AQICN feed API
type Client struct {
	baseURL string
	city    string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		city:    cfg.City,
		apiKey:  cfg.APIKey,
		client:  cfg.HTTPClient,
		now:     cfg.Now,
	}
}

// feedResponse is the AQICN /feed envelope. data is an object on success
// and a plain error string otherwise.
type feedResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  json.RawMessage `json:"aqi"`
	IAQI map[string]struct {
		V *float64 `json:"v"`
	} `json:"iaqi"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
}

// URL is the feed URL for the configured city
func (c *Client) URL() string {
	return fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, url.PathEscape(c.city), url.QueryEscape(c.apiKey))
}

// FetchCurrent makes one request and returns a Measurement with source api,
// stamped with the time the response was read. There is no retry.
func (c *Client) FetchCurrent(ctx context.Context) (*models.Measurement, error) {
	log := logger.WithComponent("fetcher")
	start := time.Now()

	m, station, err := c.fetch(ctx)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(string(KindOf(err))).Inc()
		return nil, err
	}

	ev := log.Info().Int("aqi", m.AQI).Str("city", c.city).Str("station", station)
	if m.PM25 != nil {
		ev = ev.Float64("pm25", *m.PM25)
	}
	if m.PM10 != nil {
		ev = ev.Float64("pm10", *m.PM10)
	}
	ev.Msg("fetched current AQI")

	return m, nil
}

func (c *Client) fetch(ctx context.Context) (*models.Measurement, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return nil, "", &FetchError{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &FetchError{
			Kind:       KindUpstreamRejected,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, "", &FetchError{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}

	if feed.Status != "ok" {
		msg := feed.Message
		var dataMsg string
		if msg == "" && json.Unmarshal(feed.Data, &dataMsg) == nil {
			msg = dataMsg
		}
		if msg == "" {
			msg = "unknown error"
		}
		return nil, "", &FetchError{Kind: KindUpstreamRejected, StatusCode: resp.StatusCode, Message: msg}
	}

	var data feedData
	if err := json.Unmarshal(feed.Data, &data); err != nil {
		return nil, "", &FetchError{Kind: KindMalformedResponse, Message: "data is not an object", Err: err}
	}

	aqi, err := parseAQI(data.AQI)
	if err != nil {
		return nil, "", &FetchError{Kind: KindMalformedResponse, Err: err}
	}

	m := &models.Measurement{
		Timestamp: c.now().UTC(),
		AQI:       aqi,
		PM25:      data.IAQI["pm25"].V,
		PM10:      data.IAQI["pm10"].V,
		Source:    models.SourceAPI,
	}

	station := data.City.Name
	if station == "" {
		station = "Unknown"
	}
	return m, station, nil
}

// parseAQI accepts a JSON number within 0..500. The feed reports "-" when
// a station has no current reading.
func parseAQI(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("aqi missing")
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("aqi is not a number: %s", raw)
	}

	aqi := int(math.Round(v))
	if aqi < models.MinAQI || aqi > models.MaxAQI {
		return 0, fmt.Errorf("aqi %d out of range", aqi)
	}
	return aqi, nil
}

func classifyTransport(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Err: err}
	}
	return &FetchError{Kind: KindTransport, Err: err}
}
