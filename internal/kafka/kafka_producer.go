package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"airguard/internal/config"
	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Writer is the subset of *kafka.Writer the producer uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes alert lifecycle events to Kafka with a writer pool
// and retries. Events are keyed by alert type so each type stays ordered.
type Producer struct {
	cfg     config.ProducerConfig
	topic   string
	writers []Writer
	pool    chan Writer
	closed  atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithWriterFactory replaces the kafka-go writers, mainly for tests
func WithWriterFactory(newWriter func() Writer) ProducerOption {
	return func(p *Producer) {
		for i := range p.writers {
			p.writers[i] = newWriter()
		}
	}
}

// NewProducer creates a new Kafka producer with the given configuration
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	p := &Producer{
		cfg:     cfg,
		topic:   topic,
		writers: make([]Writer, cfg.PoolSize),
		pool:    make(chan Writer, cfg.PoolSize),
	}

	compression := getCompression(cfg.Compression)
	for i := 0; i < cfg.PoolSize; i++ {
		p.writers[i] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Partition by alert type
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			Compression:  compression,
			MaxAttempts:  1, // retries are handled here
		}
	}

	for _, opt := range opts {
		opt(p)
	}

	for _, w := range p.writers {
		p.pool <- w
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

func toMessage(evt *models.AlertEvent) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return kafka.Message{
		Key:   []byte(evt.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.ID)},
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "alert_type", Value: []byte(evt.Alert.Type)},
			{Key: "source", Value: []byte(evt.Source)},
		},
		Time: evt.EmittedAt,
	}, nil
}

// Publish sends one event
func (p *Producer) Publish(ctx context.Context, evt *models.AlertEvent) error {
	return p.PublishBatch(ctx, []*models.AlertEvent{evt})
}

// PublishBatch sends events in a single write. Events that cannot be
// serialized are logged and skipped.
func (p *Producer) PublishBatch(ctx context.Context, events []*models.AlertEvent) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	if len(events) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	start := time.Now()

	messages := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		msg, err := toMessage(evt)
		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", evt.ID).
				Msg("failed to serialize event")
			p.messagesFailed.Add(1)
			metrics.EventPublishTotal.WithLabelValues("kafka", "failed").Inc()
			continue
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return ErrSerializeFailed
	}

	var writer Writer
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(uint64(len(messages)))
		return ctx.Err()
	}

	err := p.publishWithRetry(ctx, writer, messages)
	duration := time.Since(start)

	metrics.KafkaPublishDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(messages)).
			Dur("duration", duration).
			Msg("failed to publish events to kafka")
		p.messagesFailed.Add(uint64(len(messages)))
		metrics.EventPublishTotal.WithLabelValues("kafka", "failed").Add(float64(len(messages)))
		return err
	}

	log.Debug().
		Int("batch_size", len(messages)).
		Dur("duration", duration).
		Msg("events published to kafka")

	p.messagesSent.Add(uint64(len(messages)))
	metrics.EventPublishTotal.WithLabelValues("kafka", "success").Add(float64(len(messages)))

	bytesTotal := uint64(0)
	for _, msg := range messages {
		bytesTotal += uint64(len(msg.Value))
	}
	p.bytesWritten.Add(bytesTotal)
	metrics.KafkaBytesWritten.Add(float64(bytesTotal))

	return nil
}

// publishWithRetry writes messages with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer Writer, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(messages)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, messages...)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("kafka publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}
