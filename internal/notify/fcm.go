package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error codes the push service uses for tokens that will never be valid again
var permanentReasons = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"UNREGISTERED":        true,
}

// FCMConfig configures the push sink
type FCMConfig struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

// FCMSink sends notifications through the FCM HTTP API
type FCMSink struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

// NewFCMSink creates a sink authenticated with the legacy server key
func NewFCMSink(cfg FCMConfig) *FCMSink {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FCMSink{
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`

	// v1-style error body
	Error *struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send pushes msg to one token
func (s *FCMSink) Send(ctx context.Context, token string, msg Message) error {
	payload, err := json.Marshal(fcmRequest{
		To:           token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	})
	if err != nil {
		return &DeliveryError{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryError{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return &DeliveryError{Reason: "transport", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &DeliveryError{Reason: "read response", StatusCode: resp.StatusCode, Err: err}
	}

	var parsed fcmResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode == http.StatusNotFound {
		return &DeliveryError{Permanent: true, Reason: "UNREGISTERED", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Status != "" {
			reason = parsed.Error.Status
		}
		return &DeliveryError{
			Permanent:  permanentReasons[reason],
			Reason:     reason,
			StatusCode: resp.StatusCode,
		}
	}

	if parsed.Failure > 0 || (len(parsed.Results) > 0 && parsed.Results[0].Error != "") {
		reason := "unknown"
		if len(parsed.Results) > 0 && parsed.Results[0].Error != "" {
			reason = parsed.Results[0].Error
		}
		return &DeliveryError{Permanent: permanentReasons[reason], Reason: reason, StatusCode: resp.StatusCode}
	}

	return nil
}

// String identifies the sink in logs
func (s *FCMSink) String() string {
	return fmt.Sprintf("fcm(%s)", s.endpoint)
}
