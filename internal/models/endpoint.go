package models

import "time"

// SubscriberEndpoint is a push-notification target registered by a client device
type SubscriberEndpoint struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	RegisteredAt time.Time `json:"created_at"`
	IsActive     bool      `json:"is_active"`
}

// MaskedToken returns the token shortened for display and logs
func (e *SubscriberEndpoint) MaskedToken() string {
	return MaskToken(e.Token)
}

// MaskToken keeps the first 20 characters of a token
func MaskToken(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
