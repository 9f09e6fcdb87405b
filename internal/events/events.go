package events

import (
	"context"
	"time"

	"airguard/internal/logger"
	"airguard/internal/models"
	"airguard/internal/worker"
)

// Publisher delivers alert events to a stream. kafka.Producer and
// bus.Publisher implement it.
type Publisher interface {
	Publish(ctx context.Context, evt *models.AlertEvent) error
	PublishBatch(ctx context.Context, events []*models.AlertEvent) error
	Close() error
}

// Emitter turns committed alert transitions into events and hands them to
// the worker pool, so publishing never blocks the evaluation cycle.
// A nil *Emitter is valid and drops everything.
type Emitter struct {
	publisher Publisher
	tasks     worker.Submitter
	source    string
}

// NewEmitter returns nil when publisher is nil
func NewEmitter(publisher Publisher, tasks worker.Submitter, source string) *Emitter {
	if publisher == nil {
		return nil
	}
	return &Emitter{publisher: publisher, tasks: tasks, source: source}
}

// Emit schedules one event per record. It reports whether the publish
// task was accepted.
func (e *Emitter) Emit(eventType models.EventType, records ...models.AlertRecord) bool {
	if e == nil || len(records) == 0 {
		return false
	}

	batch := make([]*models.AlertEvent, 0, len(records))
	for _, rec := range records {
		batch = append(batch, models.NewAlertEvent(eventType, rec, e.source))
	}

	task := worker.Task{
		Name: "publish_alert_events",
		Run: func(ctx context.Context) error {
			return e.publisher.PublishBatch(ctx, batch)
		},
	}

	if e.tasks == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := task.Run(ctx); err != nil {
				log := logger.WithComponent("events")
				log.Error().Err(err).Msg("failed to publish alert events")
			}
		}()
		return true
	}
	return e.tasks.Submit(task)
}

// Close closes the underlying publisher
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	log := logger.WithComponent("events")
	log.Info().Msg("closing event publisher")
	return e.publisher.Close()
}
