package notify

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidToken is returned when a registration token is too short to be real
var ErrInvalidToken = errors.New("invalid device token")

// MinTokenLength is the shortest token Register accepts
const MinTokenLength = 10

// Message is one push notification
type Message struct {
	Title string
	Body  string

	// Optional key/value payload delivered alongside the notification
	Data map[string]string
}

// Sink delivers a message to a single endpoint token
type Sink interface {
	Send(ctx context.Context, token string, msg Message) error
}

// DeliveryError is a failed delivery to one endpoint. Permanent errors mean
// the token will never work again and the endpoint should be deactivated.
type DeliveryError struct {
	Permanent  bool
	Reason     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	msg := fmt.Sprintf("%s delivery failure: %s", kind, e.Reason)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err marks the endpoint token as permanently invalid
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
