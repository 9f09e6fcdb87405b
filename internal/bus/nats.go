package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
)

// Conn is the subset of *nats.Conn the publisher needs
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// Publisher sends alert events as JSON to "<subject>.<alert type>"
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher connects to the NATS server at url
func NewPublisher(url, subject string) (*Publisher, error) {
	if subject == "" {
		return nil, errors.New("subject is required")
	}

	log := logger.WithComponent("nats_publisher")
	conn, err := nats.Connect(url,
		nats.Name("airguard"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisherWithConn(conn, subject), nil
}

// NewPublisherWithConn wraps an existing connection
func NewPublisherWithConn(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Subject returns the subject an event is published on
func (p *Publisher) Subject(evt *models.AlertEvent) string {
	if evt.PartitionKey == "" {
		return p.subject
	}
	return p.subject + "." + evt.PartitionKey
}

// Publish sends one event and flushes so delivery errors surface here
func (p *Publisher) Publish(ctx context.Context, evt *models.AlertEvent) error {
	if err := p.publish(evt); err != nil {
		return err
	}
	return p.conn.FlushWithContext(ctx)
}

// PublishBatch sends events then flushes once
func (p *Publisher) PublishBatch(ctx context.Context, events []*models.AlertEvent) error {
	var errs []error
	for _, evt := range events {
		if err := p.publish(evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(events) > len(errs) {
		if err := p.conn.FlushWithContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publish(evt *models.AlertEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.EventPublishTotal.WithLabelValues("nats", "failed").Inc()
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	msg := nats.NewMsg(p.Subject(evt))
	msg.Data = data
	msg.Header.Set("event_id", evt.ID)
	msg.Header.Set("event_type", string(evt.Type))

	if err := p.conn.PublishMsg(msg); err != nil {
		metrics.EventPublishTotal.WithLabelValues("nats", "failed").Inc()
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}
	metrics.EventPublishTotal.WithLabelValues("nats", "success").Inc()
	return nil
}

// Close drains the connection
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
